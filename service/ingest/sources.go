package ingest

import (
	"context"

	"PPLink/service/kafka"
	"PPLink/service/natsx"
)

const (
	natsBiz        = "pplink-events"
	DefaultSubject = "pplink.events"
	DefaultQueue   = "pplink-ingest"
)

// NATSRoute is the queue subscription the ingest source listens on.
func NATSRoute(subject, queue string) natsx.Route {
	if subject == "" {
		subject = DefaultSubject
	}
	if queue == "" {
		queue = DefaultQueue
	}
	return natsx.Route{Biz: natsBiz, Subject: subject, Mode: natsx.Core, Queue: queue}
}

// SubscribeNATS routes every envelope on r through h.
func SubscribeNATS(ctx context.Context, c *natsx.Client, r natsx.Route, h *Handler) error {
	r.Biz = natsBiz
	if err := c.RegisterRoute(r); err != nil {
		return err
	}
	return c.Subscribe(ctx, natsBiz, func(ctx context.Context, msg natsx.Message) error {
		return h.Handle(ctx, msg.Data)
	})
}

// KafkaRouter sends every configured topic through h.
func KafkaRouter(topics []string, h *Handler) *kafka.Router {
	r := kafka.NewRouter()
	r.HandleAll(topics, func(ctx context.Context, _ string, _, value []byte) error {
		return h.Handle(ctx, value)
	})
	return r
}
