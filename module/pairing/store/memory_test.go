package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"PPLink/module/pairing/model"
	"PPLink/tools/errs"
)

func TestMemoryCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	m := NewMemory()
	c := &model.Challenge{ID: "c1", Token: "t1", State: model.StatePending, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	if err := m.Create(ctx, c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := m.Create(ctx, c); !errors.Is(err, errs.ErrArgs) {
		t.Errorf("duplicate Create() error = %v, want args", err)
	}

	got, err := m.CompareAndSwap(ctx, "c1", model.StatePending, model.StateAuthorized, "u1", now)
	if err != nil {
		t.Fatalf("CompareAndSwap() error = %v", err)
	}
	if got.State != model.StateAuthorized || got.AuthorizingUserID != "u1" {
		t.Errorf("CompareAndSwap() = %+v", got)
	}

	tests := []struct {
		name string
		id   string
		from model.State
		at   time.Time
		want error
	}{
		{"state mismatch", "c1", model.StatePending, now, errs.ErrInvalidState},
		{"absent", "zz", model.StatePending, now, errs.ErrNotFound},
		{"expired", "c1", model.StateAuthorized, now.Add(time.Minute), errs.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CompareAndSwap(ctx, tt.id, tt.from, model.StateRedeemed, "", tt.at)
			if !errors.Is(err, tt.want) {
				t.Errorf("CompareAndSwap() error = %v, want %v", err, tt.want)
			}
		})
	}

	// the authorizing user survives a later transition with no user id
	got, err = m.CompareAndSwap(ctx, "c1", model.StateAuthorized, model.StateRedeemed, "", now)
	if err != nil || got.AuthorizingUserID != "u1" {
		t.Errorf("redeem CompareAndSwap() = %+v, %v", got, err)
	}

	byToken, err := m.GetByToken(ctx, "t1")
	if err != nil || byToken.State != model.StateRedeemed {
		t.Errorf("GetByToken() = %+v, %v", byToken, err)
	}
}
