// Package msgsync computes the bounded catch-up backlog a freshly opened
// device receives and streams it down that device's connection.
package msgsync

import (
	"context"
	"sort"
	"time"

	chatmodel "PPLink/module/chat/model"
	chatstore "PPLink/module/chat/store"
	"PPLink/tools/clock"
	"PPLink/tools/errs"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxPerConversation = 50
	DefaultMaxAgeDays         = 7
	defaultConcurrency        = 8
)

type Config struct {
	MaxPerConversation int
	MaxAgeDays         int
	Concurrency        int // parallel per-conversation fetches
	Clock              clock.Clock
	Log                *zap.Logger
}

func (c *Config) norm() {
	if c.MaxPerConversation <= 0 {
		c.MaxPerConversation = DefaultMaxPerConversation
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = DefaultMaxAgeDays
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
}

type Service struct {
	store chatstore.Store
	conf  Config
	log   *zap.Logger
}

func NewService(store chatstore.Store, conf Config) *Service {
	conf.norm()
	return &Service{store: store, conf: conf, log: conf.Log.Named("sync")}
}

// GetRecentMessagesForUser returns, for every conversation userID belongs
// to, at most maxPerConversation messages no older than maxAgeDays, newest
// first. Conversations with nothing qualifying are left out. Conversations
// are ordered by their newest qualifying message, then by id.
func (s *Service) GetRecentMessagesForUser(ctx context.Context, userID string, maxPerConversation, maxAgeDays int) ([]chatmodel.ConversationMessages, error) {
	if userID == "" {
		return nil, errs.ErrArgs.WrapMsg("empty user id")
	}
	if maxPerConversation <= 0 {
		maxPerConversation = s.conf.MaxPerConversation
	}
	if maxAgeDays <= 0 {
		maxAgeDays = s.conf.MaxAgeDays
	}
	since := s.conf.Clock.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	convs, err := s.store.ConversationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	slots := make([][]*chatmodel.Message, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.conf.Concurrency)
	for i, c := range convs {
		convID := c.ConversationID
		g.Go(func() error {
			msgs, err := s.store.RecentMessages(gctx, convID, since, maxPerConversation)
			if err != nil {
				return errs.WrapMsg(err, "recent messages", "conversation_id", convID)
			}
			slots[i] = clip(msgs, since, maxPerConversation)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]chatmodel.ConversationMessages, 0, len(convs))
	for i, c := range convs {
		if len(slots[i]) == 0 {
			continue
		}
		out = append(out, chatmodel.ConversationMessages{ConversationID: c.ConversationID, Messages: slots[i]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Messages[0].CreateTime, out[j].Messages[0].CreateTime
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	return out, nil
}

// clip enforces the age and count bounds regardless of what the store
// returned, and sorts newest first.
func clip(msgs []*chatmodel.Message, since time.Time, limit int) []*chatmodel.Message {
	kept := msgs[:0]
	for _, m := range msgs {
		if m != nil && !m.CreateTime.Before(since) {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].CreateTime.After(kept[j].CreateTime) })
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}
