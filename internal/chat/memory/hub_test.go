package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/kiliankoe/quipdash/internal/chat"
)

var (
	alice = chat.User{ID: "alice", Name: "Alice"}
	bob   = chat.User{ID: "bob", Name: "Bob"}
)

func newHub() *Hub {
	h := NewHub(chat.User{ID: "bot", Name: "Quipdash"})
	h.Register(chat.Member{User: alice})
	return h
}

func TestSelfIsBot(t *testing.T) {
	h := newHub()
	if !h.Self().Bot {
		t.Fatalf("hub account should be a bot")
	}
}

func TestMember(t *testing.T) {
	h := newHub()
	ctx := context.Background()
	m, err := h.Member(ctx, "alice")
	if err != nil {
		t.Fatalf("member: %v", err)
	}
	if m.DisplayName != "Alice" {
		t.Fatalf("display name should default to the user name, got %q", m.DisplayName)
	}
	if _, err := h.Member(ctx, "bob"); !errors.Is(err, chat.ErrMemberNotFound) {
		t.Fatalf("err = %v, want ErrMemberNotFound", err)
	}
}

func TestVisibility(t *testing.T) {
	h := newHub()
	ctx := context.Background()

	cat, err := h.CreateCategory(ctx, "quipdash-1")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	if _, err := h.CreateChannel(ctx, "missing", "x"); !errors.Is(err, chat.ErrChannelNotFound) {
		t.Fatalf("err = %v, want ErrChannelNotFound", err)
	}
	ch, err := h.CreateChannel(ctx, cat, "game-1", alice.ID)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if !h.CanView(ch, alice.ID) || h.CanView(ch, bob.ID) {
		t.Fatalf("private channel visible to the wrong users")
	}
	if _, err := h.Post(ctx, ch, bob, "hi"); !errors.Is(err, chat.ErrForbidden) {
		t.Fatalf("bob posted into a hidden channel: %v", err)
	}

	if err := h.Allow(ctx, ch, bob.ID); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if _, err := h.Post(ctx, ch, bob, "hi"); err != nil {
		t.Fatalf("post after allow: %v", err)
	}

	if err := h.SetReadOnly(ctx, ch); err != nil {
		t.Fatalf("read only: %v", err)
	}
	if _, err := h.Post(ctx, ch, bob, "still here?"); !errors.Is(err, chat.ErrForbidden) {
		t.Fatalf("viewer posted into a read-only channel: %v", err)
	}
	if _, err := h.Post(ctx, ch, alice, "owners can"); err != nil {
		t.Fatalf("owner post: %v", err)
	}
	if _, err := h.Send(ctx, ch, chat.Text("bot can")); err != nil {
		t.Fatalf("bot send: %v", err)
	}

	if err := h.Revoke(ctx, ch, bob.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if h.CanView(ch, bob.ID) {
		t.Fatalf("bob still sees the channel")
	}
	if _, err := h.Post(ctx, cat, alice, "categories hold no messages"); !errors.Is(err, chat.ErrChannelNotFound) {
		t.Fatalf("err = %v, want ErrChannelNotFound", err)
	}
}

func TestHistoryKeepsOrder(t *testing.T) {
	h := newHub()
	ctx := context.Background()
	ch, err := h.CreateChannel(ctx, "", "lobby")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var ids []chat.MessageID
	for _, text := range []string{"one", "two", "three", "four"} {
		id, err := h.Send(ctx, ch, chat.Text(text))
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		ids = append(ids, id)
	}
	if err := h.Delete(ctx, ch, ids[1]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.Edit(ctx, ch, ids[2], chat.Text("THREE")); err != nil {
		t.Fatalf("edit: %v", err)
	}
	var got []string
	for _, m := range h.History(ch) {
		got = append(got, m.Content)
	}
	if !slices.Equal(got, []string{"one", "THREE", "four"}) {
		t.Fatalf("history = %v", got)
	}
	if err := h.Delete(ctx, ch, ids[1]); !errors.Is(err, chat.ErrMessageNotFound) {
		t.Fatalf("err = %v, want ErrMessageNotFound", err)
	}
}

func TestReactionsAndSubscriptions(t *testing.T) {
	h := newHub()
	ctx := context.Background()
	ch, err := h.CreateChannel(ctx, "", "lobby")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id, err := h.Send(ctx, ch, chat.Text("vote"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	sub := h.Reactions(ch, id, chat.Glyphs("🅰️"))
	if err := h.React(ctx, ch, id, "🅰️"); err != nil {
		t.Fatalf("bot react: %v", err)
	}
	if err := h.AddReaction(ctx, ch, id, "🅱️", alice); err != nil {
		t.Fatalf("react: %v", err)
	}
	if err := h.AddReaction(ctx, ch, id, "🅰️", alice); err != nil {
		t.Fatalf("react: %v", err)
	}
	select {
	case ev := <-sub.Events():
		if ev.User.ID != alice.ID || ev.Glyph != "🅰️" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no reaction event")
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("filtered event delivered: %+v", ev)
	default:
	}

	if err := h.Unreact(ctx, ch, id, "🅰️", alice.ID); err != nil {
		t.Fatalf("unreact: %v", err)
	}
	m, _ := h.Message(ch, id)
	if !slices.Equal(m.Reactions["🅰️"], []chat.UserID{"bot"}) || len(m.Reactions["🅱️"]) != 1 {
		t.Fatalf("reactions = %v", m.Reactions)
	}

	if h.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", h.Subscribers())
	}
	sub.Stop()
	if h.Subscribers() != 0 {
		t.Fatalf("stopped subscription still registered")
	}
}

func TestMessagesAllChannels(t *testing.T) {
	h := newHub()
	ctx := context.Background()
	a, _ := h.CreateChannel(ctx, "", "a")
	b, _ := h.CreateChannel(ctx, "", "b")

	all := h.Messages("", func(ev chat.MessageEvent) bool { return !ev.Message.Author.Bot })
	defer all.Stop()
	onlyB := h.Messages(b, nil)
	defer onlyB.Stop()

	if _, err := h.Send(ctx, a, chat.Text("from the bot")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := h.Post(ctx, a, alice, "in a"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := h.Post(ctx, b, alice, "in b"); err != nil {
		t.Fatalf("post: %v", err)
	}

	for _, want := range []string{"in a", "in b"} {
		ev := <-all.Events()
		if ev.Message.Content != want {
			t.Fatalf("all got %q, want %q", ev.Message.Content, want)
		}
	}
	if ev := <-onlyB.Events(); ev.Message.Content != "in b" {
		t.Fatalf("b got %q", ev.Message.Content)
	}
}

func TestWatchAudience(t *testing.T) {
	h := newHub()
	ctx := context.Background()

	var mu sync.Mutex
	var events []Event
	h.Watch(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	pub, _ := h.CreateChannel(ctx, "", "lobby")
	priv, _ := h.CreateChannel(ctx, "", "player-alice", alice.ID)
	if _, err := h.Send(ctx, pub, chat.Text("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := h.Send(ctx, priv, chat.Text("psst")); err != nil {
		t.Fatalf("send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	if events[2].Type != EventMessageCreated || events[2].Audience != nil {
		t.Fatalf("public message event = %+v", events[2])
	}
	if events[3].Type != EventMessageCreated || !slices.Equal(events[3].Audience, []chat.UserID{alice.ID}) {
		t.Fatalf("private message audience = %v", events[3].Audience)
	}
}

func TestFailNext(t *testing.T) {
	h := newHub()
	ctx := context.Background()
	boom := errors.New("boom")

	h.FailNext("CreateCategory", boom)
	for range 2 {
		if _, err := h.CreateCategory(ctx, "x"); !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
	}
	h.FailNext("CreateCategory", nil)
	cat, err := h.CreateCategory(ctx, "x")
	if err != nil {
		t.Fatalf("create after clearing: %v", err)
	}

	h.FailNext("DeleteChannel", boom)
	if err := h.DeleteChannel(ctx, cat); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	h.FailNext("DeleteChannel", nil)
	if err := h.DeleteChannel(ctx, cat); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.DeleteChannel(ctx, cat); !errors.Is(err, chat.ErrChannelNotFound) {
		t.Fatalf("err = %v, want ErrChannelNotFound", err)
	}
	if n := h.DeleteCalls(cat); n != 3 {
		t.Fatalf("delete calls = %d, want 3", n)
	}
}

func TestCancelledContext(t *testing.T) {
	h := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.CreateCategory(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
