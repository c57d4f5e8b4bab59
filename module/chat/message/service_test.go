package message

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	chatmodel "PPLink/module/chat/model"
	chatstore "PPLink/module/chat/store"
	"PPLink/module/delivery"
	"PPLink/service/push"
	"PPLink/tools/clock"
	"PPLink/tools/errs"

	"go.uber.org/zap"
)

type sink struct {
	mu     sync.Mutex
	events []push.Event
}

func (s *sink) Send(ev push.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}
func (s *sink) Ping() error  { return nil }
func (s *sink) Close() error { return nil }

func (s *sink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (s *sink) last() push.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

type fixture struct {
	svc   *Service
	store *chatstore.Memory
	reg   *push.Registry
	clk   *clock.Stub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.Fixed()
	st := chatstore.NewMemory()
	st.PutConversation(&chatmodel.Conversation{
		ConversationID:   "c1",
		ConversationType: chatmodel.ConversationGroup,
		Members:          []string{"alice", "bob", "carol"},
	})
	reg := push.NewRegistry(push.RegistryConf{Clock: clk, Log: zap.NewNop()})
	svc := NewService(st, reg, Config{Clock: clk, Log: zap.NewNop()})
	return &fixture{svc: svc, store: st, reg: reg, clk: clk}
}

func TestSendFansOutToEveryDevice(t *testing.T) {
	f := newFixture(t)
	phone, desktop, other := &sink{}, &sink{}, &sink{}
	f.reg.Register("bob", push.DeviceHints{Class: push.DevicePrimary}, phone)
	f.reg.Register("bob", push.DeviceHints{Class: push.DeviceSecondary}, desktop)
	f.reg.Register("mallory", push.DeviceHints{}, other)

	m, err := f.svc.Send(context.Background(), "c1", "alice", SendInput{Content: "hi"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if m.Delivery.Status != delivery.StatusSent {
		t.Errorf("status = %s, want sent", m.Delivery.Status)
	}
	for name, s := range map[string]*sink{"phone": phone, "desktop": desktop} {
		if got := s.kinds(); len(got) != 1 || got[0] != push.KindMessageCreated {
			t.Fatalf("%s got %v, want one message-created", name, got)
		}
		if seq := s.last().Sequence; seq != 1 {
			t.Errorf("%s first seq = %d, want 1", name, seq)
		}
	}
	if len(other.kinds()) != 0 {
		t.Error("non-member received the message")
	}
}

func TestSendRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Send(ctx, "c1", "mallory", SendInput{Content: "x"}); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("non-member Send() error = %v, want not found", err)
	}
	if _, err := f.svc.Send(ctx, "c1", "alice", SendInput{Content: "  "}); !errors.Is(err, errs.ErrArgs) {
		t.Errorf("empty Send() error = %v, want args", err)
	}
	if _, err := f.svc.Send(ctx, "nope", "alice", SendInput{Content: "x"}); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("unknown conversation Send() error = %v, want not found", err)
	}
}

func TestReceiptsBroadcastOnlyOnChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := &sink{}
	f.reg.Register("alice", push.DeviceHints{}, sender)

	m, _ := f.svc.Send(ctx, "c1", "alice", SendInput{Content: "hi"})

	res, err := f.svc.MarkDelivered(ctx, m.MessageID, "bob")
	if err != nil || !res.Changed {
		t.Fatalf("MarkDelivered() = %+v, %v", res, err)
	}
	if res.Status != delivery.StatusDelivered || res.DeliveredCount != 1 {
		t.Errorf("change = %+v", res.Change)
	}

	res, err = f.svc.MarkDelivered(ctx, m.MessageID, "bob")
	if err != nil || res.Changed {
		t.Fatalf("repeat MarkDelivered() = %+v, %v; want no-op", res, err)
	}

	res, err = f.svc.MarkRead(ctx, m.MessageID, "carol")
	if err != nil || !res.Changed {
		t.Fatalf("MarkRead() = %+v, %v", res, err)
	}
	if res.Status != delivery.StatusRead || res.DeliveredCount != 2 || res.ReadCount != 1 {
		t.Errorf("change = %+v", res.Change)
	}

	want := []string{push.KindMessageCreated, push.KindStatusChanged, push.KindStatusChanged}
	got := sender.kinds()
	if len(got) != len(want) {
		t.Fatalf("sender got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}

	stored, _ := f.store.GetMessage(ctx, m.MessageID)
	if stored.Version != 2 {
		t.Errorf("version = %d, want 2", stored.Version)
	}
}

func TestReceiptAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.svc.Send(ctx, "c1", "alice", SendInput{Content: "hi"})

	if _, err := f.svc.MarkRead(ctx, m.MessageID, "alice"); !errors.Is(err, errs.ErrArgs) {
		t.Errorf("sender MarkRead() error = %v, want args", err)
	}
	if _, err := f.svc.MarkDelivered(ctx, m.MessageID, "mallory"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("non-member MarkDelivered() error = %v, want not found", err)
	}
	if _, err := f.svc.MarkFailed(ctx, m.MessageID, "bob"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("non-sender MarkFailed() error = %v, want not found", err)
	}
}

func TestMarkFailedAfterDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.svc.Send(ctx, "c1", "alice", SendInput{Content: "hi"})
	_, _ = f.svc.MarkDelivered(ctx, m.MessageID, "bob")

	_, err := f.svc.MarkFailed(ctx, m.MessageID, "alice")
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("MarkFailed() error = %v, want invalid state", err)
	}
	stored, _ := f.store.GetMessage(ctx, m.MessageID)
	if stored.Delivery.Status != delivery.StatusDelivered {
		t.Errorf("status = %s, want delivered", stored.Delivery.Status)
	}
}

func TestMarkConversationRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.clk.Advance(time.Second)
		if _, err := f.svc.Send(ctx, "c1", "alice", SendInput{Content: "hi"}); err != nil {
			t.Fatal(err)
		}
	}
	f.clk.Advance(time.Second)
	own, _ := f.svc.Send(ctx, "c1", "bob", SendInput{Content: "mine"})

	n, err := f.svc.MarkConversationRead(ctx, "c1", "bob")
	if err != nil || n != 3 {
		t.Fatalf("MarkConversationRead() = %d, %v; want 3", n, err)
	}
	if n, _ := f.svc.MarkConversationRead(ctx, "c1", "bob"); n != 0 {
		t.Errorf("second MarkConversationRead() = %d, want 0", n)
	}
	stored, _ := f.store.GetMessage(ctx, own.MessageID)
	if stored.Delivery.IsReadBy("bob") {
		t.Error("own message marked read")
	}
}

func TestConcurrentReceiptsAllLand(t *testing.T) {
	clk := clock.Fixed()
	st := chatstore.NewMemory()
	members := []string{"sender", "r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8"}
	st.PutConversation(&chatmodel.Conversation{ConversationID: "big", Members: members})
	reg := push.NewRegistry(push.RegistryConf{Clock: clk})
	svc := NewService(st, reg, Config{Clock: clk, MaxRetries: 50})
	ctx := context.Background()
	m, _ := svc.Send(ctx, "big", "sender", SendInput{Content: "hi"})

	var wg sync.WaitGroup
	for _, u := range members[1:] {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if _, err := svc.MarkRead(ctx, m.MessageID, u); err != nil {
				t.Errorf("MarkRead(%s) error = %v", u, err)
			}
		}(u)
	}
	wg.Wait()

	stored, _ := st.GetMessage(ctx, m.MessageID)
	if len(stored.Delivery.ReadBy) != 8 || len(stored.Delivery.DeliveredTo) != 8 {
		t.Errorf("delivery = %+v, want all 8 readers", stored.Delivery)
	}
}
