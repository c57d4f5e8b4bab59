// Package delivery owns the forward-only delivery/read lifecycle of a message.
//
// Every caller that changes a message's receipt state goes through these
// functions; nothing else is allowed to touch State directly.
package delivery

import (
	"PPLink/tools/errs"
)

type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

func (s Status) Valid() bool {
	return s == StatusFailed || s.rank() >= 0
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusRead
}

// State is the per-message receipt projection stored with the message.
// ReadBy is always a subset of DeliveredTo.
type State struct {
	Status      Status   `bson:"status" json:"status"`
	DeliveredTo []string `bson:"delivered_to" json:"deliveredTo"`
	ReadBy      []string `bson:"read_by" json:"readBy"`
}

// NewState returns the state of a message that was just accepted by the server.
func NewState() State {
	return State{Status: StatusSent, DeliveredTo: []string{}, ReadBy: []string{}}
}

// Clone returns a deep copy so callers can mutate without aliasing stored slices.
func (s State) Clone() State {
	out := State{Status: s.Status}
	out.DeliveredTo = append(make([]string, 0, len(s.DeliveredTo)), s.DeliveredTo...)
	out.ReadBy = append(make([]string, 0, len(s.ReadBy)), s.ReadBy...)
	return out
}

func (s *State) IsDeliveredTo(userID string) bool { return contains(s.DeliveredTo, userID) }
func (s *State) IsReadBy(userID string) bool      { return contains(s.ReadBy, userID) }

// advance moves the scalar status forward to target; it never regresses.
func (s *State) advance(target Status) bool {
	if s.Status == StatusFailed {
		return false
	}
	if s.Status.rank() < target.rank() {
		s.Status = target
		return true
	}
	return false
}

// MarkSent moves a message out of sending once the server has accepted it.
func MarkSent(s *State) (bool, error) {
	if s.Status == StatusFailed {
		return false, errs.ErrInvalidState.WrapMsg("message failed", "status", s.Status)
	}
	return s.advance(StatusSent), nil
}

// MarkDelivered records that recipient has received the message.
// Repeated calls are no-ops and report changed=false.
func MarkDelivered(s *State, recipient string) (bool, error) {
	if recipient == "" {
		return false, errs.ErrArgs.WrapMsg("empty recipient")
	}
	if s.Status == StatusFailed {
		return false, errs.ErrInvalidState.WrapMsg("message failed", "status", s.Status)
	}
	changed := false
	s.DeliveredTo, changed = addUnique(s.DeliveredTo, recipient)
	if s.advance(StatusDelivered) {
		changed = true
	}
	return changed, nil
}

// MarkRead records that recipient has read the message. Reading implies
// delivery, so recipient is added to DeliveredTo as well.
func MarkRead(s *State, recipient string) (bool, error) {
	if recipient == "" {
		return false, errs.ErrArgs.WrapMsg("empty recipient")
	}
	if s.Status == StatusFailed {
		return false, errs.ErrInvalidState.WrapMsg("message failed", "status", s.Status)
	}
	var addedDelivered, addedRead bool
	s.DeliveredTo, addedDelivered = addUnique(s.DeliveredTo, recipient)
	s.ReadBy, addedRead = addUnique(s.ReadBy, recipient)
	advanced := s.advance(StatusRead)
	return addedDelivered || addedRead || advanced, nil
}

// MarkFailed is allowed from sending/sent only. A message already known to
// be received cannot fail retroactively.
func MarkFailed(s *State) (bool, error) {
	switch s.Status {
	case StatusSending, StatusSent:
		s.Status = StatusFailed
		return true, nil
	case StatusFailed:
		return false, nil
	default:
		return false, errs.ErrInvalidState.WrapMsg("cannot fail a received message", "status", s.Status)
	}
}

// Change is the compact status-changed payload fanned out to conversation members.
type Change struct {
	MessageID      string `json:"messageId" mapstructure:"messageId"`
	ConversationID string `json:"conversationId" mapstructure:"conversationId"`
	Status         Status `json:"status" mapstructure:"status"`
	DeliveredCount int    `json:"deliveredCount" mapstructure:"deliveredCount"`
	ReadCount      int    `json:"readCount" mapstructure:"readCount"`
	ActorID        string `json:"actorId,omitempty" mapstructure:"actorId"`
}

func ChangeOf(messageID, conversationID, actor string, s State) Change {
	return Change{
		MessageID:      messageID,
		ConversationID: conversationID,
		Status:         s.Status,
		DeliveredCount: len(s.DeliveredTo),
		ReadCount:      len(s.ReadBy),
		ActorID:        actor,
	}
}

func contains(set []string, v string) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

func addUnique(set []string, v string) ([]string, bool) {
	if contains(set, v) {
		return set, false
	}
	return append(set, v), true
}
