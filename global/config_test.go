package global

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"PPLink/tools/errs"

	"github.com/fsnotify/fsnotify"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pplink.yaml"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := writeConfig(t, "auth:\n  secret: s3cret\n")
	cfg, err := Load("pplink", dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.HTTPAddr != ":8080" || cfg.App.GRPCAddr != ":50052" || cfg.App.NodeID != 1 {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.KeepAlive.PingEvery != 30*time.Second || cfg.KeepAlive.IdleTimeout != 90*time.Second {
		t.Errorf("keepalive = %+v", cfg.KeepAlive)
	}
	if cfg.Pairing.Store != StoreMemory || cfg.Pairing.TTL != 2*time.Minute {
		t.Errorf("pairing = %+v", cfg.Pairing)
	}
	if cfg.Auth.RefreshTTL != 720*time.Hour {
		t.Errorf("refresh ttl = %v", cfg.Auth.RefreshTTL)
	}
	if cfg.Sync.MaxPerConversation != 50 || cfg.Sync.MaxAgeDays != 7 {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if len(cfg.Kafka.Topics) != 1 || cfg.Kafka.Topics[0] != "pplink.events" {
		t.Errorf("kafka topics = %v", cfg.Kafka.Topics)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := writeConfig(t, `
auth:
  secret: from-file
pairing:
  store: redis
redis:
  enable: true
  addrs: ["127.0.0.1:6379"]
mongo:
  enable: true
  address: ["127.0.0.1:27017"]
  database: chat
`)
	t.Setenv("PPLINK_AUTH_SECRET", "from-env")
	t.Setenv("PPLINK_KEEPALIVE_PINGEVERY", "5s")

	cfg, err := Load("pplink", dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Errorf("secret = %q, want env override", cfg.Auth.Secret)
	}
	if cfg.KeepAlive.PingEvery != 5*time.Second {
		t.Errorf("pingEvery = %v, want 5s", cfg.KeepAlive.PingEvery)
	}
	if cfg.Redis.Addrs[0] != "127.0.0.1:6379" || cfg.Mongo.Database != "chat" || cfg.Mongo.Address[0] != "127.0.0.1:27017" {
		t.Errorf("backends = %+v / %+v", cfg.Redis, cfg.Mongo)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"no secret", Config{Pairing: PairingConfig{Store: StoreMemory}}},
		{"unknown store", Config{Auth: AuthConfig{Secret: "x"}, Pairing: PairingConfig{Store: "etcd"}}},
		{"redis disabled", Config{Auth: AuthConfig{Secret: "x"}, Pairing: PairingConfig{Store: StoreRedis}}},
		{"postgres without dsn", Config{Auth: AuthConfig{Secret: "x"}, Pairing: PairingConfig{Store: StorePostgres}}},
		{"nats without servers", Config{Auth: AuthConfig{Secret: "x"}, Pairing: PairingConfig{Store: StoreMemory}, NATS: NATSConfig{Enable: true}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); !errors.Is(err, errs.ErrArgs) {
				t.Errorf("Validate() = %v, want args", err)
			}
		})
	}
}

func TestWatcherReload(t *testing.T) {
	dir := writeConfig(t, "auth:\n  secret: s3cret\napp:\n  logLevel: info\n")
	var got []string
	w, err := Watch(nil, func(c *Config) { got = append(got, c.App.LogLevel) }, "pplink", dir)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if w.Current().App.LogLevel != "info" {
		t.Fatalf("initial level = %q", w.Current().App.LogLevel)
	}

	w.v.Set("app.logLevel", "debug")
	w.reload(fsnotify.Event{Name: "pplink.yaml"})
	if w.Current().App.LogLevel != "debug" || len(got) != 1 || got[0] != "debug" {
		t.Errorf("after reload level = %q, callbacks = %v", w.Current().App.LogLevel, got)
	}

	w.v.Set("pairing.store", "floppy")
	w.reload(fsnotify.Event{Name: "pplink.yaml"})
	if w.Current().Pairing.Store != StoreMemory || len(got) != 1 {
		t.Errorf("invalid edit applied: store = %q, callbacks = %v", w.Current().Pairing.Store, got)
	}
}
