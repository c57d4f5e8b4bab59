package store

import (
	"context"
	"sort"
	"sync"
	"time"

	chatmodel "PPLink/module/chat/model"
	"PPLink/module/delivery"
	"PPLink/tools/errs"
)

type Memory struct {
	mu     sync.RWMutex
	convs  map[string]*chatmodel.Conversation
	msgs   map[string]*chatmodel.Message
	byConv map[string][]string // conversationID -> message ids, insertion order
}

func NewMemory() *Memory {
	return &Memory{
		convs:  make(map[string]*chatmodel.Conversation),
		msgs:   make(map[string]*chatmodel.Message),
		byConv: make(map[string][]string),
	}
}

// PutConversation inserts or replaces a conversation.
func (m *Memory) PutConversation(c *chatmodel.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.Members = append([]string(nil), c.Members...)
	m.convs[c.ConversationID] = &cp
}

func (m *Memory) ConversationsForUser(_ context.Context, userID string) ([]*chatmodel.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*chatmodel.Conversation
	for _, c := range m.convs {
		if c.HasMember(userID) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

func (m *Memory) GetConversation(_ context.Context, conversationID string) (*chatmodel.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[conversationID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("conversation not found", "conversation_id", conversationID)
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) RecentMessages(_ context.Context, conversationID string, since time.Time, limit int) ([]*chatmodel.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*chatmodel.Message
	for _, id := range m.byConv[conversationID] {
		msg := m.msgs[id]
		if msg.CreateTime.Before(since) {
			continue
		}
		out = append(out, msg.Clone())
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UnreadFor(_ context.Context, conversationID, userID string, limit int) ([]*chatmodel.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*chatmodel.Message
	for _, id := range m.byConv[conversationID] {
		msg := m.msgs[id]
		if msg.SenderID == userID || msg.Delivery.IsReadBy(userID) || msg.Delivery.Status == delivery.StatusFailed {
			continue
		}
		out = append(out, msg.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreateTime.Before(out[j].CreateTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *chatmodel.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.msgs[msg.MessageID]; ok {
		return errs.ErrArgs.WrapMsg("duplicate message id", "message_id", msg.MessageID)
	}
	m.msgs[msg.MessageID] = msg.Clone()
	m.byConv[msg.ConversationID] = append(m.byConv[msg.ConversationID], msg.MessageID)
	if c, ok := m.convs[msg.ConversationID]; ok && msg.CreateTime.After(c.LastMessageAt) {
		c.LastMessageAt = msg.CreateTime
	}
	return nil
}

func (m *Memory) GetMessage(_ context.Context, messageID string) (*chatmodel.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.msgs[messageID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("message not found", "message_id", messageID)
	}
	return msg.Clone(), nil
}

func (m *Memory) UpdateDelivery(_ context.Context, messageID string, version int64, st delivery.State) (*chatmodel.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("message not found", "message_id", messageID)
	}
	if msg.Version != version {
		return nil, errs.ErrConflict.WrapMsg("stale message version", "message_id", messageID, "want", version, "have", msg.Version)
	}
	msg.Delivery = st.Clone()
	msg.Version++
	return msg.Clone(), nil
}

func sortNewestFirst(ms []*chatmodel.Message) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].CreateTime.Equal(ms[j].CreateTime) {
			return ms[i].CreateTime.After(ms[j].CreateTime)
		}
		return ms[i].MessageID > ms[j].MessageID
	})
}
