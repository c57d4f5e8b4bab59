package kafka

import (
	"context"
	"fmt"
	"sync"
)

type MessageHandler func(ctx context.Context, topic string, key, value []byte) error

// Router maps topics to handlers; Default catches topics with no entry.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]MessageHandler
	Default  MessageHandler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]MessageHandler)}
}

func (r *Router) Handle(topic string, h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = h
}

// HandleAll registers h for every topic.
func (r *Router) HandleAll(topics []string, h MessageHandler) {
	for _, t := range topics {
		r.Handle(t, h)
	}
}

func (r *Router) get(topic string) (MessageHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[topic]; ok {
		return h, nil
	}
	if r.Default != nil {
		return r.Default, nil
	}
	return nil, fmt.Errorf("no handler registered for topic: %s", topic)
}

func (r *Router) Dispatch(ctx context.Context, topic string, key, value []byte) error {
	h, err := r.get(topic)
	if err != nil {
		return err
	}
	return h(ctx, topic, key, value)
}
