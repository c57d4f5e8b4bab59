// Package mgo owns the process-wide MongoDB connection: it connects with
// backoff and keeps probing it afterwards.
package mgo

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"PPLink/data/database/mgo/mongoutil"
	"PPLink/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
	healthEvery = 10 * time.Second
)

type MongoManager struct {
	cfg *mongoutil.Config
	log *zap.Logger

	mu     sync.RWMutex
	client *mongoutil.Client

	healthy atomic.Bool
	lastErr atomic.Value // error
}

func NewManager(cfg *mongoutil.Config, log *zap.Logger) *MongoManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &MongoManager{cfg: cfg, log: log.Named("mongo")}
}

// Connect blocks until the first successful connection or ctx ends.
func (m *MongoManager) Connect(ctx context.Context) error {
	attempt := 0
	for {
		cli, err := mongoutil.NewMongoDB(ctx, m.cfg)
		if err == nil {
			m.mu.Lock()
			m.client = cli
			m.mu.Unlock()
			m.healthy.Store(true)
			m.log.Info("connected", zap.String("database", m.cfg.Database))
			return nil
		}
		m.lastErr.Store(err)
		if errors.Is(err, errs.ErrArgs) {
			return err
		}
		m.log.Warn("connect failed, retrying", zap.Int("attempt", attempt), zap.Error(err))

		timer := time.NewTimer(backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}
}

// backoff 指数退避 + 0~20% 抖动
func backoff(attempt int) time.Duration {
	d := baseBackoff << attempt
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d / 5)))
	return d - jitter/2
}

// Run pings the server until ctx ends. The driver reconnects by itself;
// this only tracks health for /healthz and the gRPC health service.
func (m *MongoManager) Run(ctx context.Context) {
	t := time.NewTicker(healthEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.probe(ctx)
		}
	}
}

func (m *MongoManager) probe(ctx context.Context) {
	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()
	if c == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Ping(pctx); err != nil {
		m.lastErr.Store(err)
		if m.healthy.Swap(false) {
			m.log.Warn("ping failed", zap.Error(err))
		}
		return
	}
	if !m.healthy.Swap(true) {
		m.log.Info("ping recovered")
	}
}

func (m *MongoManager) Healthy() bool { return m.healthy.Load() }

// Err 最近一次错误
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// DB returns the database; false before Connect succeeded.
func (m *MongoManager) DB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, false
	}
	return m.client.GetDB(), true
}

func (m *MongoManager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Close(ctx)
	m.client = nil
	m.healthy.Store(false)
	return err
}
