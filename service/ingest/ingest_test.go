package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"PPLink/module/chat/message"
	chatmodel "PPLink/module/chat/model"
	chatstore "PPLink/module/chat/store"
	"PPLink/module/delivery"
	"PPLink/service/push"
	"PPLink/tools/clock"
	"PPLink/tools/errs"
)

type sink struct{ events []push.Event }

func (s *sink) Send(ev push.Event) error { s.events = append(s.events, ev); return nil }
func (s *sink) Ping() error              { return nil }
func (s *sink) Close() error             { return nil }

type fixture struct {
	h     *Handler
	store *chatstore.Memory
	bob   *sink
	msgs  *message.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.Fixed()
	st := chatstore.NewMemory()
	st.PutConversation(&chatmodel.Conversation{ConversationID: "c1", Members: []string{"alice", "bob"}})
	reg := push.NewRegistry(push.RegistryConf{Clock: clk})
	bob := &sink{}
	reg.Register("bob", push.DeviceHints{}, bob)
	msgs := message.NewService(st, reg, message.Config{Clock: clk})
	return &fixture{h: NewHandler(msgs, nil), store: st, bob: bob, msgs: msgs}
}

func TestHandleMessageCreated(t *testing.T) {
	f := newFixture(t)
	raw := `{"kind":"message-created","data":{"id":"m1","conversationId":"c1","senderId":"alice","contentType":1,"content":"hi","createdAt":"2024-01-15T10:29:00Z"}}`
	if err := f.h.Handle(context.Background(), []byte(raw)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(f.bob.events) != 1 || f.bob.events[0].Kind != push.KindMessageCreated {
		t.Fatalf("bob got %+v", f.bob.events)
	}
	m := f.bob.events[0].Data.(*chatmodel.Message)
	if m.MessageID != "m1" || m.Delivery.Status != delivery.StatusSent {
		t.Errorf("message = %+v", m)
	}
	if want := time.Date(2024, 1, 15, 10, 29, 0, 0, time.UTC); !m.CreateTime.Equal(want) {
		t.Errorf("createdAt = %v", m.CreateTime)
	}
}

func TestHandleReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.msgs.Send(ctx, "c1", "alice", message.SendInput{Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	raw := `{"kind":"receipt","data":{"messageId":"` + m.MessageID + `","userId":"bob","action":"read"}}`
	if err := f.h.Handle(ctx, []byte(raw)); err != nil {
		t.Fatalf("Handle(read) error = %v", err)
	}
	stored, _ := f.store.GetMessage(ctx, m.MessageID)
	if stored.Delivery.Status != delivery.StatusRead {
		t.Errorf("status = %s, want read", stored.Delivery.Status)
	}

	bad := `{"kind":"receipt","data":{"messageId":"` + m.MessageID + `","userId":"bob","action":"starred"}}`
	if err := f.h.Handle(ctx, []byte(bad)); !errors.Is(err, errs.ErrArgs) {
		t.Errorf("unknown action error = %v, want args", err)
	}
}

func TestHandleSystemFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.msgs.Send(ctx, "c1", "alice", message.SendInput{Content: "hi"})
	raw := `{"kind":"receipt","data":{"messageId":"` + m.MessageID + `","action":"failed"}}`
	if err := f.h.Handle(ctx, []byte(raw)); err != nil {
		t.Fatalf("system failure error = %v", err)
	}
	stored, _ := f.store.GetMessage(ctx, m.MessageID)
	if stored.Delivery.Status != delivery.StatusFailed {
		t.Errorf("status = %s, want failed", stored.Delivery.Status)
	}
}

func TestHandleIgnoresAndRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.h.Handle(ctx, []byte(`{"kind":"typing","data":{}}`)); err != nil {
		t.Errorf("unknown kind error = %v, want ignored", err)
	}
	if err := f.h.Handle(ctx, []byte(`not json`)); !errors.Is(err, errs.ErrArgs) {
		t.Errorf("garbage error = %v, want args", err)
	}
	if err := f.h.Handle(ctx, []byte(`{"kind":"message-created","data":{"content":"x"}}`)); !errors.Is(err, errs.ErrArgs) {
		t.Errorf("message without id error = %v, want args", err)
	}
	if err := f.h.Handle(ctx, []byte(`{"kind":"message-created","data":{"id":"m9","conversationId":"nope"}}`)); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("unknown conversation error = %v, want not found", err)
	}
	if len(f.bob.events) != 0 {
		t.Errorf("bob got %d events, want none", len(f.bob.events))
	}
}

func TestKafkaRouterUsesHandler(t *testing.T) {
	f := newFixture(t)
	r := KafkaRouter([]string{"pplink.events"}, f.h)
	raw := []byte(`{"kind":"message-created","data":{"id":"m2","conversationId":"c1","senderId":"alice","content":"yo"}}`)
	if err := r.Dispatch(context.Background(), "pplink.events", nil, raw); err != nil {
		t.Fatal(err)
	}
	if len(f.bob.events) != 1 {
		t.Errorf("bob got %d events, want 1", len(f.bob.events))
	}
	if NATSRoute("", "").Subject != DefaultSubject {
		t.Error("default subject not applied")
	}
}
