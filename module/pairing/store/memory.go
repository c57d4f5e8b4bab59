package store

import (
	"context"
	"sync"
	"time"

	"PPLink/module/pairing/model"
	"PPLink/tools/errs"
)

// Memory keeps challenges in process. Expired entries stay readable until
// Purge runs.
type Memory struct {
	mu      sync.Mutex
	byID    map[string]*model.Challenge
	byToken map[string]string // token -> id
}

func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]*model.Challenge),
		byToken: make(map[string]string),
	}
}

func (m *Memory) Create(_ context.Context, c *model.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[c.ID]; ok {
		return errs.ErrArgs.WrapMsg("duplicate challenge id", "id", c.ID)
	}
	if _, ok := m.byToken[c.Token]; ok {
		return errs.ErrArgs.WrapMsg("duplicate challenge token")
	}
	cp := *c
	m.byID[c.ID] = &cp
	m.byToken[c.Token] = c.ID
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*model.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, notFound("id", id)
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) GetByToken(_ context.Context, token string) (*model.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[token]
	if !ok {
		return nil, notFound()
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *Memory) CompareAndSwap(_ context.Context, id string, from, to model.State, userID string, now time.Time) (*model.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok || c.Expired(now) {
		return nil, notFound("id", id)
	}
	if c.State != from {
		return nil, stateMismatch(id, from, c.State)
	}
	c.State = to
	if userID != "" {
		c.AuthorizingUserID = userID
	}
	c.UpdatedAt = now
	cp := *c
	return &cp, nil
}

func (m *Memory) Purge(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.byID {
		if c.Expired(now) {
			delete(m.byID, id)
			delete(m.byToken, c.Token)
			n++
		}
	}
	return n, nil
}
