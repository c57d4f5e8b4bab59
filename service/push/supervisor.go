package push

import (
	"sync"
	"time"

	"PPLink/tools/clock"
	"PPLink/tools/safe"

	"go.uber.org/zap"
)

type SupervisorConf struct {
	PingEvery   time.Duration // keep-alive interval per connection
	IdleTimeout time.Duration // evict when nothing was heard for this long; 0 disables
	SweepEvery  time.Duration // idle sweep period
	Clock       clock.Clock
	Log         *zap.Logger
}

func (c *SupervisorConf) norm() {
	if c.PingEvery <= 0 {
		c.PingEvery = 30 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
}

// Supervisor keeps registered connections alive. Each watched connection
// gets its own ticker that writes a keep-alive; a failed keep-alive evicts
// the connection through the Registry. A single sweeper evicts connections
// that stayed idle past IdleTimeout.
type Supervisor struct {
	reg  *Registry
	conf SupervisorConf
	log  *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewSupervisor(reg *Registry, conf SupervisorConf) *Supervisor {
	conf.norm()
	return &Supervisor{
		reg:    reg,
		conf:   conf,
		log:    conf.Log.Named("keepalive"),
		stopCh: make(chan struct{}),
	}
}

// Start launches the idle sweeper.
func (s *Supervisor) Start() {
	if s.conf.IdleTimeout <= 0 {
		return
	}
	s.wg.Add(1)
	safe.Go(s.log, "keepalive-sweeper", func() {
		defer s.wg.Done()
		t := time.NewTicker(s.conf.SweepEvery)
		defer t.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-t.C:
				s.sweepOnce(s.conf.Clock.Now())
			}
		}
	})
}

// Watch starts the keep-alive loop for c. The loop exits when c is removed
// or the supervisor stops.
func (s *Supervisor) Watch(c *Connection) {
	s.wg.Add(1)
	safe.Go(s.log, "keepalive-"+c.ID(), func() {
		defer s.wg.Done()
		t := time.NewTicker(s.conf.PingEvery)
		defer t.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-c.Done():
				return
			case <-t.C:
				if !s.pingOnce(c) {
					return
				}
			}
		}
	})
}

// pingOnce writes one keep-alive. It returns false once c is gone.
func (s *Supervisor) pingOnce(c *Connection) bool {
	if c.Closed() {
		return false
	}
	if err := c.ping(s.conf.Clock.Now()); err != nil {
		if err != errConnClosed {
			s.log.Info("keep-alive failed, evicting", zap.String("conn_id", c.ID()), zap.Error(err))
		}
		s.reg.Remove(c.ID())
		return false
	}
	return true
}

// Touch records inbound liveness for connID (a pong or any client frame).
func (s *Supervisor) Touch(connID string) {
	if c, ok := s.reg.Lookup(connID); ok {
		c.touch(s.conf.Clock.Now())
	}
}

func (s *Supervisor) sweepOnce(now time.Time) int {
	if s.conf.IdleTimeout <= 0 {
		return 0
	}
	n := 0
	for _, c := range s.reg.snapshot() {
		if now.Sub(c.LastPingAt()) > s.conf.IdleTimeout {
			s.reg.Remove(c.ID())
			n++
		}
	}
	if n > 0 {
		s.log.Info("idle connections evicted", zap.Int("count", n))
	}
	return n
}

// Stop ends every keep-alive loop and waits for them.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
