// Package global loads the process configuration.
package global

import (
	"errors"
	"strings"
	"time"

	"PPLink/data/database/mgo/mongoutil"
	"PPLink/service/kafka"
	"PPLink/service/natsx"
	"PPLink/service/storage/redis"
	"PPLink/tools/errs"

	"github.com/spf13/viper"
)

const envPrefix = "PPLINK"

// Pairing store backends.
const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Auth      AuthConfig      `mapstructure:"auth"`
	KeepAlive KeepAliveConfig `mapstructure:"keepalive"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Pairing   PairingConfig   `mapstructure:"pairing"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
}

type AppConfig struct {
	NodeID   int64    `mapstructure:"nodeId"` // snowflake node for connection ids
	HTTPAddr string   `mapstructure:"httpAddr"`
	GRPCAddr string   `mapstructure:"grpcAddr"`
	Origins  []string `mapstructure:"origins"`
	LogLevel string   `mapstructure:"logLevel"`
	LogColor bool     `mapstructure:"logColor"`
}

type AuthConfig struct {
	Secret     string        `mapstructure:"secret"`
	Alg        string        `mapstructure:"alg"`
	AccessTTL  time.Duration `mapstructure:"accessTTL"`
	RefreshTTL time.Duration `mapstructure:"refreshTTL"`
	Issuer     string        `mapstructure:"issuer"`
}

type KeepAliveConfig struct {
	PingEvery    time.Duration `mapstructure:"pingEvery"`
	IdleTimeout  time.Duration `mapstructure:"idleTimeout"`
	SweepEvery   time.Duration `mapstructure:"sweepEvery"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

type SyncConfig struct {
	MaxPerConversation int `mapstructure:"maxPerConversation"`
	MaxAgeDays         int `mapstructure:"maxAgeDays"`
	Concurrency        int `mapstructure:"concurrency"`
}

type PairingConfig struct {
	Store       string        `mapstructure:"store"`
	TTL         time.Duration `mapstructure:"ttl"`
	PurgeEvery  time.Duration `mapstructure:"purgeEvery"`
	RedisPrefix string        `mapstructure:"redisPrefix"`
}

type MongoConfig struct {
	Enable           bool `mapstructure:"enable"`
	mongoutil.Config `mapstructure:",squash"`
}

type RedisConfig struct {
	Enable       bool `mapstructure:"enable"`
	redis.Config `mapstructure:",squash"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type NATSConfig struct {
	Enable       bool `mapstructure:"enable"`
	natsx.Config `mapstructure:",squash"`
	Subject      string        `mapstructure:"subject"`
	Queue        string        `mapstructure:"queue"`
	IdemTTL      time.Duration `mapstructure:"idemTTL"`
}

type KafkaConfig struct {
	Enable       bool `mapstructure:"enable"`
	kafka.Config `mapstructure:",squash"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.nodeId", 1)
	v.SetDefault("app.httpAddr", ":8080")
	v.SetDefault("app.grpcAddr", ":50052")
	v.SetDefault("app.logLevel", "info")
	v.SetDefault("app.logColor", true)

	v.SetDefault("auth.alg", "HS256")
	v.SetDefault("auth.accessTTL", "2h")
	v.SetDefault("auth.refreshTTL", "720h")
	v.SetDefault("auth.issuer", "pplink")

	v.SetDefault("keepalive.pingEvery", "30s")
	v.SetDefault("keepalive.idleTimeout", "90s")
	v.SetDefault("keepalive.sweepEvery", "10s")
	v.SetDefault("keepalive.writeTimeout", "5s")

	v.SetDefault("sync.maxPerConversation", 50)
	v.SetDefault("sync.maxAgeDays", 7)
	v.SetDefault("sync.concurrency", 8)

	v.SetDefault("pairing.store", StoreMemory)
	v.SetDefault("pairing.ttl", "2m")
	v.SetDefault("pairing.purgeEvery", "1m")
	v.SetDefault("pairing.redisPrefix", "pair:")

	v.SetDefault("mongo.database", "pplink")
	v.SetDefault("nats.subject", "pplink.events")
	v.SetDefault("nats.queue", "pplink-ingest")
	v.SetDefault("nats.idemTTL", "10m")
	v.SetDefault("kafka.groupId", "pplink-ingest")
	v.SetDefault("kafka.topics", []string{"pplink.events"})
}

// Load reads <name>.yaml from ./ and ./config, then applies PPLINK_*
// environment overrides (PPLINK_AUTH_SECRET sets auth.secret). A missing
// file is fine; a malformed one is not.
func Load(name string, paths ...string) (*Config, error) {
	v, err := read(name, paths)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func read(name string, paths []string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(name)
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only sees keys viper already knows about.
	_ = v.BindEnv("auth.secret")
	_ = v.BindEnv("postgres.dsn")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errs.WrapMsg(err, "read config")
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.WrapMsg(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every selected backend is configured.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return errs.ErrArgs.WrapMsg("auth.secret is required")
	}
	switch c.Pairing.Store {
	case StoreMemory:
	case StoreMongo:
		if !c.Mongo.Enable {
			return errs.ErrArgs.WrapMsg("pairing.store=mongo needs mongo.enable")
		}
	case StoreRedis:
		if !c.Redis.Enable {
			return errs.ErrArgs.WrapMsg("pairing.store=redis needs redis.enable")
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return errs.ErrArgs.WrapMsg("pairing.store=postgres needs postgres.dsn")
		}
	default:
		return errs.ErrArgs.WrapMsg("unknown pairing store", "store", c.Pairing.Store)
	}
	if c.NATS.Enable && len(c.NATS.Servers) == 0 {
		return errs.ErrArgs.WrapMsg("nats.enable needs nats.servers")
	}
	if c.Kafka.Enable && len(c.Kafka.Brokers) == 0 {
		return errs.ErrArgs.WrapMsg("kafka.enable needs kafka.brokers")
	}
	return nil
}
