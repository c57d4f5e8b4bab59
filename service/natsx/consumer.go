package natsx

import (
	"context"

	"PPLink/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	pendingMsgs  = 1_000_000
	pendingBytes = 64 << 20
)

// Subscribe attaches h (wrapped in the client middlewares) to biz's route.
// Core deliveries are fire-and-forget; JetStream deliveries are acked when
// h returns nil and nak'd otherwise.
func (c *Client) Subscribe(ctx context.Context, biz string, h Handler) error {
	r, ok := c.route(biz)
	if !ok {
		return errs.ErrArgs.WrapMsg("nats route not registered", "biz", biz)
	}
	h = Chain(h, c.mws...)

	var (
		sub *nats.Subscription
		err error
	)
	switch r.Mode {
	case Core:
		sub, err = c.subscribeCore(ctx, r, h)
	case JetStreamPush:
		sub, err = c.subscribeJS(ctx, r, h)
	default:
		return errs.ErrArgs.WrapMsg("unsupported subscribe mode", "mode", r.Mode)
	}
	if err != nil {
		return errs.WrapMsg(err, "nats subscribe", "subject", r.Subject)
	}
	c.mu.Lock()
	c.subs[biz] = sub
	c.mu.Unlock()
	return nil
}

func (c *Client) subscribeCore(ctx context.Context, r Route, h Handler) (*nats.Subscription, error) {
	cb := func(m *nats.Msg) {
		if err := h(ctx, toMessage(m)); err != nil {
			c.log.Debug("core message dropped", zap.String("subject", m.Subject), zap.Error(err))
		}
	}
	var (
		sub *nats.Subscription
		err error
	)
	if r.Queue == "" {
		sub, err = c.nc.Subscribe(r.Subject, cb)
	} else {
		sub, err = c.nc.QueueSubscribe(r.Subject, r.Queue, cb)
	}
	if err != nil {
		return nil, err
	}
	_ = sub.SetPendingLimits(pendingMsgs, pendingBytes)
	return sub, nil
}

func (c *Client) subscribeJS(ctx context.Context, r Route, h Handler) (*nats.Subscription, error) {
	if c.js == nil {
		return nil, errs.ErrInvalidState.WrapMsg("jetstream not initialized")
	}
	opts := []nats.SubOpt{
		nats.ManualAck(),
		nats.AckWait(r.AckWait),
		nats.MaxAckPending(r.MaxAckPending),
	}
	if r.Durable != "" {
		opts = append(opts, nats.Durable(r.Durable))
	}
	cb := func(m *nats.Msg) {
		if err := h(ctx, toMessage(m)); err != nil {
			_ = m.Nak()
			return
		}
		_ = m.Ack()
	}
	if r.Queue == "" {
		return c.js.Subscribe(r.Subject, cb, opts...)
	}
	return c.js.QueueSubscribe(r.Subject, r.Queue, cb, opts...)
}

func toMessage(m *nats.Msg) Message {
	msg := Message{
		Subject: m.Subject,
		Data:    append([]byte(nil), m.Data...),
	}
	if len(m.Header) > 0 {
		msg.Header = make(map[string]string, len(m.Header))
		for k := range m.Header {
			msg.Header[k] = m.Header.Get(k)
		}
	}
	return msg
}
