package msgsync

import (
	"context"
	"errors"
	"fmt"
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

func (s *sink) got() []push.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]push.Event(nil), s.events...)
}

// flakyStore fails the next read once.
type flakyStore struct {
	chatstore.Store
	mu  sync.Mutex
	err error
}

func (f *flakyStore) take() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.err
	f.err = nil
	return err
}

func (f *flakyStore) ConversationsForUser(ctx context.Context, userID string) ([]*chatmodel.Conversation, error) {
	if err := f.take(); err != nil {
		return nil, err
	}
	return f.Store.ConversationsForUser(ctx, userID)
}

func (f *flakyStore) RecentMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]*chatmodel.Message, error) {
	if err := f.take(); err != nil {
		return nil, err
	}
	return f.Store.RecentMessages(ctx, conversationID, since, limit)
}

// seed builds three conversations for u1: recent has 3 fresh messages,
// busy has 60 fresh ones and stale only has a message from 10 days ago.
func seed(t *testing.T, clk *clock.Stub) *chatstore.Memory {
	t.Helper()
	ctx := context.Background()
	st := chatstore.NewMemory()
	for _, id := range []string{"recent", "busy", "stale"} {
		st.PutConversation(&chatmodel.Conversation{ConversationID: id, Members: []string{"u1", "u2"}})
	}
	now := clk.Now()
	add := func(conv string, i int, at time.Time) {
		err := st.CreateMessage(ctx, &chatmodel.Message{
			MessageID:      fmt.Sprintf("%s-%03d", conv, i),
			ConversationID: conv,
			SenderID:       "u2",
			Content:        "hello",
			CreateTime:     at,
			Delivery:       delivery.NewState(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		add("recent", i, now.Add(-time.Duration(3-i)*time.Minute))
	}
	for i := 0; i < 60; i++ {
		add("busy", i, now.Add(-48*time.Hour+time.Duration(i)*time.Minute))
	}
	add("stale", 0, now.Add(-10*24*time.Hour))
	return st
}

func TestGetRecentMessagesForUser(t *testing.T) {
	clk := clock.Fixed()
	svc := NewService(seed(t, clk), Config{Clock: clk})

	got, err := svc.GetRecentMessagesForUser(context.Background(), "u1", 50, 7)
	if err != nil {
		t.Fatalf("GetRecentMessagesForUser() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d conversations, want 2", len(got))
	}
	if got[0].ConversationID != "recent" || got[1].ConversationID != "busy" {
		t.Errorf("order = %s, %s; want recent, busy", got[0].ConversationID, got[1].ConversationID)
	}
	if n := len(got[1].Messages); n != 50 {
		t.Errorf("busy has %d messages, want 50", n)
	}
	if got[1].Messages[0].MessageID != "busy-059" {
		t.Errorf("busy first = %s, want newest busy-059", got[1].Messages[0].MessageID)
	}
	cutoff := clk.Now().Add(-7 * 24 * time.Hour)
	for _, c := range got {
		for i, m := range c.Messages {
			if m.CreateTime.Before(cutoff) {
				t.Errorf("%s: message %s older than 7 days", c.ConversationID, m.MessageID)
			}
			if i > 0 && m.CreateTime.After(c.Messages[i-1].CreateTime) {
				t.Errorf("%s: not newest first at %d", c.ConversationID, i)
			}
		}
	}
}

func TestGetRecentMessagesCaps(t *testing.T) {
	clk := clock.Fixed()
	svc := NewService(seed(t, clk), Config{Clock: clk})

	got, err := svc.GetRecentMessagesForUser(context.Background(), "u1", 2, 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d conversations with 30 day window, want 3", len(got))
	}
	for _, c := range got {
		if len(c.Messages) > 2 {
			t.Errorf("%s has %d messages, cap is 2", c.ConversationID, len(c.Messages))
		}
	}

	none, err := svc.GetRecentMessagesForUser(context.Background(), "stranger", 50, 7)
	if err != nil || len(none) != 0 {
		t.Errorf("stranger sync = %v, %v; want empty", none, err)
	}
}

func TestStreamSecondaryDevice(t *testing.T) {
	clk := clock.Fixed()
	svc := NewService(seed(t, clk), Config{Clock: clk, MaxPerConversation: 50, MaxAgeDays: 7})
	reg := push.NewRegistry(push.RegistryConf{Clock: clk, Log: zap.NewNop()})
	s := &sink{}
	conn := reg.Register("u1", push.DeviceHints{Class: push.DeviceSecondary}, s)

	if !svc.Stream(context.Background(), reg, conn) {
		t.Fatal("Stream() = false, want full backlog")
	}
	evs := s.got()
	if len(evs) != 1+3+50 {
		t.Fatalf("got %d events, want 54", len(evs))
	}
	if evs[0].Kind != push.KindSyncInitial || evs[0].Sequence != 1 {
		t.Fatalf("first event = %s seq %d, want sync-initial seq 1", evs[0].Kind, evs[0].Sequence)
	}
	initial := evs[0].Data.(Initial)
	if len(initial.Conversations) != 2 || initial.MessageCount != 53 {
		t.Errorf("initial = %d conversations / %d messages", len(initial.Conversations), initial.MessageCount)
	}
	for i, ev := range evs[1:] {
		if ev.Kind != push.KindMessageSync {
			t.Fatalf("event %d kind = %s", i+1, ev.Kind)
		}
		if ev.Sequence != uint64(i+2) {
			t.Fatalf("event %d seq = %d", i+1, ev.Sequence)
		}
	}
	if first := evs[1].Data.(Item); first.ConversationID != "recent" {
		t.Errorf("first message-sync from %s, want recent", first.ConversationID)
	}
}

func TestStreamFetchFailureKeepsConnection(t *testing.T) {
	clk := clock.Fixed()
	st := &flakyStore{Store: seed(t, clk), err: errs.ErrTransient.WrapMsg("mongo down")}
	svc := NewService(st, Config{Clock: clk})
	reg := push.NewRegistry(push.RegistryConf{Clock: clk, Log: zap.NewNop()})
	s := &sink{}
	conn := reg.Register("u1", push.DeviceHints{Class: push.DeviceSecondary}, s)

	if svc.Stream(context.Background(), reg, conn) {
		t.Fatal("Stream() = true on fetch failure")
	}
	evs := s.got()
	if len(evs) != 1 || evs[0].Kind != push.KindSyncError {
		t.Fatalf("events = %+v, want one sync-error", evs)
	}
	if f := evs[0].Data.(Failure); f.Code != errs.TransientIOError {
		t.Errorf("failure code = %d, want %d", f.Code, errs.TransientIOError)
	}
	if _, ok := reg.Lookup(conn.ID()); !ok {
		t.Error("sync failure closed the connection")
	}
}

func TestStreamDiscardsForClosedConnection(t *testing.T) {
	clk := clock.Fixed()
	svc := NewService(seed(t, clk), Config{Clock: clk})
	reg := push.NewRegistry(push.RegistryConf{Clock: clk, Log: zap.NewNop()})
	s := &sink{}
	conn := reg.Register("u1", push.DeviceHints{Class: push.DeviceSecondary}, s)
	reg.Remove(conn.ID())

	if svc.Stream(context.Background(), reg, conn) {
		t.Error("Stream() = true for removed connection")
	}
	if len(s.got()) != 0 {
		t.Error("events written to a removed connection")
	}
}

func TestEmptyUserRejected(t *testing.T) {
	svc := NewService(chatstore.NewMemory(), Config{})
	if _, err := svc.GetRecentMessagesForUser(context.Background(), "", 1, 1); !errors.Is(err, errs.ErrArgs) {
		t.Errorf("error = %v, want args", err)
	}
}
