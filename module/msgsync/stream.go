package msgsync

import (
	"context"
	"time"

	chatmodel "PPLink/module/chat/model"
	"PPLink/service/push"
	"PPLink/tools/errs"

	"go.uber.org/zap"
)

// Sender is the part of the push registry the streamer writes through.
type Sender interface {
	SendToConnection(connID string, ev push.Event) bool
	Lookup(connID string) (*push.Connection, bool)
}

// Initial is the sync-initial payload: the whole backlog in one event.
type Initial struct {
	Conversations []chatmodel.ConversationMessages `json:"conversations"`
	MessageCount  int                              `json:"messageCount"`
	GeneratedAt   time.Time                        `json:"generatedAt"`
}

// Item is the message-sync payload: one backlog message.
type Item struct {
	ConversationID string             `json:"conversationId"`
	Message        *chatmodel.Message `json:"message"`
}

// Failure is the sync-error payload.
type Failure struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Stream computes the backlog for conn's owner and writes it as one
// sync-initial followed by one message-sync per message. A fetch failure
// becomes a sync-error event; the connection stays open either way. If the
// connection goes away mid-way the rest is dropped. Stream reports whether
// the full backlog was written.
func (s *Service) Stream(ctx context.Context, out Sender, conn *push.Connection) bool {
	log := s.log.With(zap.String("conn_id", conn.ID()), zap.String("user_id", conn.Owner()))
	if !conn.Authenticated() {
		return false
	}

	backlog, err := s.GetRecentMessagesForUser(ctx, conn.Owner(), s.conf.MaxPerConversation, s.conf.MaxAgeDays)
	if _, alive := out.Lookup(conn.ID()); !alive {
		log.Debug("connection gone before sync finished, discarding")
		return false
	}
	if err != nil {
		log.Warn("sync fetch failed", zap.Error(err))
		f := Failure{Code: errs.ServerInternalError, Message: "sync unavailable"}
		if ce := errs.Code(err); ce != nil {
			f.Code = ce.Code
		}
		out.SendToConnection(conn.ID(), push.NewEvent(push.KindSyncError, f))
		return false
	}

	initial := Initial{Conversations: backlog, GeneratedAt: s.conf.Clock.Now()}
	if initial.Conversations == nil {
		initial.Conversations = []chatmodel.ConversationMessages{}
	}
	for _, c := range backlog {
		initial.MessageCount += len(c.Messages)
	}
	if !out.SendToConnection(conn.ID(), push.NewEvent(push.KindSyncInitial, initial)) {
		return false
	}
	for _, c := range backlog {
		for _, m := range c.Messages {
			if ctx.Err() != nil {
				return false
			}
			if !out.SendToConnection(conn.ID(), push.NewEvent(push.KindMessageSync, Item{ConversationID: c.ConversationID, Message: m})) {
				return false
			}
		}
	}
	log.Debug("sync streamed", zap.Int("conversations", len(backlog)), zap.Int("messages", initial.MessageCount))
	return true
}
