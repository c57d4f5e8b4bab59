// Package store persists pairing challenges. Every backend offers the same
// compare-and-set transition so two racing authorize or redeem calls can
// never both win.
package store

import (
	"context"
	"time"

	"PPLink/module/pairing/model"
	"PPLink/tools/errs"
)

type Store interface {
	Create(ctx context.Context, c *model.Challenge) error
	GetByID(ctx context.Context, id string) (*model.Challenge, error)
	GetByToken(ctx context.Context, token string) (*model.Challenge, error)

	// CompareAndSwap moves challenge id from state `from` to `to` when it is
	// currently in `from` and not expired at now. userID is recorded as the
	// authorizing user when non-empty. It returns the updated challenge,
	// errs.ErrNotFound when the challenge is absent or expired, and
	// errs.ErrInvalidState when the current state is not `from`.
	CompareAndSwap(ctx context.Context, id string, from, to model.State, userID string, now time.Time) (*model.Challenge, error)

	// Purge drops challenges whose expiry is at or before now.
	Purge(ctx context.Context, now time.Time) (int64, error)
}

func notFound(kv ...any) error {
	return errs.ErrNotFound.WrapMsg("pairing challenge not found", kv...)
}

func stateMismatch(id string, want, got model.State) error {
	return errs.ErrInvalidState.WrapMsg("pairing challenge state mismatch", "id", id, "want", want, "got", got)
}

func transient(err error, op string) error {
	return errs.ErrTransient.WrapMsg(err.Error(), "op", op)
}
