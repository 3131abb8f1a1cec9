package game

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/kiliankoe/quipdash/internal/chat"
	"github.com/kiliankoe/quipdash/internal/chat/memory"
	"github.com/kiliankoe/quipdash/internal/config"
	"github.com/kiliankoe/quipdash/internal/pack"
)

var (
	alice = chat.User{ID: "alice", Name: "Alice"}
	bob   = chat.User{ID: "bob", Name: "Bob"}
	carol = chat.User{ID: "carol", Name: "Carol"}
	dave  = chat.User{ID: "dave", Name: "Dave"}
	eve   = chat.User{ID: "eve", Name: "Eve"}
)

func newTestHub(t *testing.T) *memory.Hub {
	t.Helper()
	h := memory.NewHub(chat.User{ID: "bot", Name: "Quipdash"})
	for _, u := range []chat.User{alice, bob, carol, dave, eve} {
		h.Register(chat.Member{User: u, DisplayName: u.Name, AvatarURL: "https://example.com/" + string(u.ID) + ".png"})
	}
	return h
}

// testConfig shrinks every delay so whole games run in about a second.
func testConfig() config.Game {
	c := config.Default().Game
	c.RoundDelay = 10 * time.Millisecond
	c.VotingDuration = 300 * time.Millisecond
	c.VotingInterim = 5 * time.Millisecond
	c.DisbandDelay = 10 * time.Millisecond
	c.PropagationGrace = 100 * time.Millisecond
	c.RevealDelay = time.Millisecond
	c.NoticeTTL = time.Minute
	c.Rounds = config.Rounds{{Prompts: 1, Duration: 300 * time.Millisecond, Multiplier: 1}}
	return c
}

func testPack(n int) pack.Pack {
	p := pack.Pack{Name: "Test", Description: "Prompts for tests"}
	for i := range n {
		p.Prompts = append(p.Prompts, fmt.Sprintf("Prompt %d with a %s", i, pack.Blank))
	}
	return p
}

func textChannel(t *testing.T, h *memory.Hub, name string) chat.ChannelID {
	t.Helper()
	ctx := context.Background()
	cat, err := h.CreateCategory(ctx, name+"-category")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	ch, err := h.CreateChannel(ctx, cat, name)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return ch
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// findMessage returns the first message in ch whose embed has title.
func findMessage(h *memory.Hub, ch chat.ChannelID, title string) (chat.Message, bool) {
	for _, m := range h.History(ch) {
		if m.Embed != nil && m.Embed.Title == title {
			return m, true
		}
	}
	return chat.Message{}, false
}

func findWhere(h *memory.Hub, ch chat.ChannelID, match func(chat.Message) bool) (chat.Message, bool) {
	for _, m := range h.History(ch) {
		if match(m) {
			return m, true
		}
	}
	return chat.Message{}, false
}

func hasContent(h *memory.Hub, ch chat.ChannelID, content string) bool {
	return slices.ContainsFunc(h.History(ch), func(m chat.Message) bool { return m.Content == content })
}

func botReacted(h *memory.Hub, ch chat.ChannelID, id chat.MessageID, glyph string) bool {
	m, ok := h.Message(ch, id)
	return ok && slices.Contains(m.Reactions[glyph], chat.UserID("bot"))
}

type fakeArchive struct {
	mu      sync.Mutex
	results []Result
}

func (a *fakeArchive) RecordGame(_ context.Context, r Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
	return nil
}

func (a *fakeArchive) Results() []Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.results)
}
