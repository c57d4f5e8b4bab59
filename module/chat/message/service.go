// Package message sends chat messages and applies delivery/read receipts,
// fanning each change out to every member of the conversation.
package message

import (
	"context"
	"errors"
	"strings"
	"time"

	chatmodel "PPLink/module/chat/model"
	chatstore "PPLink/module/chat/store"
	"PPLink/module/delivery"
	"PPLink/service/push"
	"PPLink/tools/clock"
	"PPLink/tools/errs"
	"PPLink/tools/ids"

	"go.uber.org/zap"
)

// Broadcaster is the slice of the push registry this service needs.
type Broadcaster interface {
	BroadcastToUsers(userIDs []string, ev push.Event) int
}

type Config struct {
	MaxRetries int // optimistic CAS retries per receipt
	ReadBatch  int // cap for MarkConversationRead
	Clock      clock.Clock
	IDs        ids.Generator
	Log        *zap.Logger
}

func (c *Config) norm() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.ReadBatch <= 0 {
		c.ReadBatch = 200
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.IDs == nil {
		c.IDs = ids.UUID{}
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
}

type Service struct {
	store chatstore.Store
	bc    Broadcaster
	conf  Config
	log   *zap.Logger
}

func NewService(store chatstore.Store, bc Broadcaster, conf Config) *Service {
	conf.norm()
	return &Service{store: store, bc: bc, conf: conf, log: conf.Log.Named("message")}
}

type SendInput struct {
	ClientMsgID string `json:"clientMsgId"`
	ContentType int32  `json:"contentType"`
	Content     string `json:"content"`
}

// Send stores a new message from senderID and broadcasts message-created to
// every member.
func (s *Service) Send(ctx context.Context, conversationID, senderID string, in SendInput) (*chatmodel.Message, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, errs.ErrArgs.WrapMsg("empty content")
	}
	if in.ContentType == 0 {
		in.ContentType = chatmodel.ContentText
	}
	conv, err := s.memberConversation(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	m := &chatmodel.Message{
		MessageID:      s.conf.IDs.New(),
		ConversationID: conv.ConversationID,
		SenderID:       senderID,
		ClientMsgID:    in.ClientMsgID,
		ContentType:    in.ContentType,
		Content:        in.Content,
		CreateTime:     s.conf.Clock.Now().UTC().Truncate(time.Millisecond),
		Delivery:       delivery.NewState(),
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return nil, err
	}
	n := s.bc.BroadcastToUsers(conv.Members, push.NewEvent(push.KindMessageCreated, m))
	s.log.Debug("message sent", zap.String("message_id", m.MessageID), zap.String("conversation_id", conv.ConversationID), zap.Int("deliveries", n))
	return m, nil
}

// PublishCreated fans out a message that was stored by another service.
func (s *Service) PublishCreated(ctx context.Context, m *chatmodel.Message) (int, error) {
	conv, err := s.store.GetConversation(ctx, m.ConversationID)
	if err != nil {
		return 0, err
	}
	return s.bc.BroadcastToUsers(conv.Members, push.NewEvent(push.KindMessageCreated, m)), nil
}

func (s *Service) MarkDelivered(ctx context.Context, messageID, userID string) (Result, error) {
	return s.apply(ctx, messageID, userID, recipientOnly, func(st *delivery.State) (bool, error) {
		return delivery.MarkDelivered(st, userID)
	})
}

func (s *Service) MarkRead(ctx context.Context, messageID, userID string) (Result, error) {
	return s.apply(ctx, messageID, userID, recipientOnly, func(st *delivery.State) (bool, error) {
		return delivery.MarkRead(st, userID)
	})
}

// MarkFailed is reserved to the sender. An empty userID is a system actor
// (bus ingest) and skips the sender check.
func (s *Service) MarkFailed(ctx context.Context, messageID, userID string) (Result, error) {
	return s.apply(ctx, messageID, userID, senderOnly, delivery.MarkFailed)
}

// MarkConversationRead marks every message from other members that userID
// has not read yet, up to ReadBatch, and returns how many changed.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, userID string) (int, error) {
	if _, err := s.memberConversation(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	unread, err := s.store.UnreadFor(ctx, conversationID, userID, s.conf.ReadBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range unread {
		res, err := s.MarkRead(ctx, m.MessageID, userID)
		if err != nil {
			if errors.Is(err, errs.ErrInvalidState) {
				continue
			}
			return n, err
		}
		if res.Changed {
			n++
		}
	}
	return n, nil
}

// Result is the outcome of one receipt.
type Result struct {
	delivery.Change
	Changed bool `json:"changed"`
}

type authorizeFn func(m *chatmodel.Message, conv *chatmodel.Conversation, actor string) error

func recipientOnly(m *chatmodel.Message, conv *chatmodel.Conversation, actor string) error {
	if !conv.HasMember(actor) {
		return errs.ErrNotFound.WrapMsg("message not found", "message_id", m.MessageID)
	}
	if actor == m.SenderID {
		return errs.ErrArgs.WrapMsg("sender cannot acknowledge own message", "message_id", m.MessageID)
	}
	return nil
}

func senderOnly(m *chatmodel.Message, _ *chatmodel.Conversation, actor string) error {
	if actor != "" && actor != m.SenderID {
		return errs.ErrNotFound.WrapMsg("message not found", "message_id", m.MessageID)
	}
	return nil
}

// apply runs one receipt transition under optimistic concurrency and
// broadcasts status-changed only when the state actually moved.
func (s *Service) apply(ctx context.Context, messageID, actor string, authorize authorizeFn, mutate func(*delivery.State) (bool, error)) (Result, error) {
	for attempt := 0; attempt < s.conf.MaxRetries; attempt++ {
		m, err := s.store.GetMessage(ctx, messageID)
		if err != nil {
			return Result{}, err
		}
		conv, err := s.store.GetConversation(ctx, m.ConversationID)
		if err != nil {
			return Result{}, err
		}
		if err := authorize(m, conv, actor); err != nil {
			return Result{}, err
		}

		st := m.Delivery.Clone()
		changed, err := mutate(&st)
		if err != nil {
			return Result{}, err
		}
		if !changed {
			return Result{Change: delivery.ChangeOf(m.MessageID, m.ConversationID, actor, m.Delivery)}, nil
		}

		updated, err := s.store.UpdateDelivery(ctx, m.MessageID, m.Version, st)
		if err != nil {
			if errors.Is(err, errs.ErrConflict) {
				s.log.Debug("delivery conflict, retrying", zap.String("message_id", messageID), zap.Int("attempt", attempt))
				continue
			}
			return Result{}, err
		}

		ch := delivery.ChangeOf(updated.MessageID, updated.ConversationID, actorOrSystem(actor), updated.Delivery)
		s.bc.BroadcastToUsers(conv.Members, push.NewEvent(push.KindStatusChanged, ch))
		return Result{Change: ch, Changed: true}, nil
	}
	return Result{}, errs.ErrConflict.WrapMsg("too many concurrent receipts", "message_id", messageID)
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}

func (s *Service) memberConversation(ctx context.Context, conversationID, userID string) (*chatmodel.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(userID) {
		// non-members can't tell a foreign conversation from a missing one
		return nil, errs.ErrNotFound.WrapMsg("conversation not found", "conversation_id", conversationID)
	}
	return conv, nil
}
