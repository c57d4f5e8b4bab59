// Package ingest applies events published by other services on the message
// bus: stored messages to fan out and receipts to apply.
package ingest

import (
	"context"
	"encoding/json"

	"PPLink/module/chat/message"
	chatmodel "PPLink/module/chat/model"
	"PPLink/module/delivery"
	"PPLink/service/push"
	"PPLink/tools/decode"
	"PPLink/tools/errs"

	"go.uber.org/zap"
)

const (
	KindMessageCreated = push.KindMessageCreated
	KindReceipt        = "receipt"
)

// Receipt actions.
const (
	ActionDelivered = "delivered"
	ActionRead      = "read"
	ActionFailed    = "failed"
)

// Envelope is the bus wire format.
type Envelope struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data"`
}

type Receipt struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Action    string `json:"action"`
}

// Messages is the slice of the message service ingest drives.
type Messages interface {
	PublishCreated(ctx context.Context, m *chatmodel.Message) (int, error)
	MarkDelivered(ctx context.Context, messageID, userID string) (message.Result, error)
	MarkRead(ctx context.Context, messageID, userID string) (message.Result, error)
	MarkFailed(ctx context.Context, messageID, userID string) (message.Result, error)
}

type Handler struct {
	msgs Messages
	log  *zap.Logger
}

func NewHandler(msgs Messages, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{msgs: msgs, log: log.Named("ingest")}
}

// Handle decodes one raw envelope and applies it. Unknown kinds are
// ignored; malformed payloads come back as argument errors.
func (h *Handler) Handle(ctx context.Context, raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errs.ErrArgs.WrapMsg("bad envelope: " + err.Error())
	}
	switch env.Kind {
	case KindMessageCreated:
		m, err := decode.Map[chatmodel.Message](env.Data)
		if err != nil {
			return errs.ErrArgs.WrapMsg(err.Error(), "kind", env.Kind)
		}
		if m.MessageID == "" || m.ConversationID == "" {
			return errs.ErrArgs.WrapMsg("message without id or conversation")
		}
		if m.Delivery.Status == "" {
			m.Delivery = delivery.NewState()
		}
		n, err := h.msgs.PublishCreated(ctx, m)
		if err != nil {
			return err
		}
		h.log.Debug("message fanned out", zap.String("message_id", m.MessageID), zap.Int("deliveries", n))
		return nil

	case KindReceipt:
		r, err := decode.Map[Receipt](env.Data)
		if err != nil {
			return errs.ErrArgs.WrapMsg(err.Error(), "kind", env.Kind)
		}
		return h.applyReceipt(ctx, r)

	default:
		h.log.Debug("ignoring event", zap.String("kind", env.Kind))
		return nil
	}
}

func (h *Handler) applyReceipt(ctx context.Context, r *Receipt) error {
	if r.MessageID == "" {
		return errs.ErrArgs.WrapMsg("receipt without message id")
	}
	var err error
	switch r.Action {
	case ActionDelivered:
		_, err = h.msgs.MarkDelivered(ctx, r.MessageID, r.UserID)
	case ActionRead:
		_, err = h.msgs.MarkRead(ctx, r.MessageID, r.UserID)
	case ActionFailed:
		_, err = h.msgs.MarkFailed(ctx, r.MessageID, r.UserID)
	default:
		return errs.ErrArgs.WrapMsg("unknown receipt action", "action", r.Action)
	}
	return err
}
