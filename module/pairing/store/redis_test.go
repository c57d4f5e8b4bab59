package store

import (
	"strings"
	"testing"
	"time"

	"PPLink/module/pairing/model"
)

func TestTokenKeyAlwaysExpires(t *testing.T) {
	exp := time.Date(2024, 1, 15, 10, 32, 0, 0, time.UTC)
	args := tokenSetArgs(&model.Challenge{ID: "c1", Token: "t1", ExpiresAt: exp})
	if !strings.EqualFold(args.Mode, "NX") {
		t.Errorf("Mode = %q, want NX", args.Mode)
	}
	if !args.ExpireAt.Equal(exp) {
		t.Errorf("ExpireAt = %v, want challenge expiry %v", args.ExpireAt, exp)
	}
	if args.KeepTTL || args.TTL != 0 {
		t.Errorf("args = %+v, want expiry from ExpireAt only", args)
	}
}

func TestRedisKeys(t *testing.T) {
	r := NewRedis(nil, "")
	if got := r.challengeKey("c1"); got != "pair:c:c1" {
		t.Errorf("challengeKey = %q", got)
	}
	if got := r.tokenKey("t1"); got != "pair:t:t1" {
		t.Errorf("tokenKey = %q", got)
	}
}
