package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kiliankoe/quipdash/internal/chat"
	"github.com/kiliankoe/quipdash/internal/chat/memory"
	"github.com/kiliankoe/quipdash/internal/config"
	"github.com/kiliankoe/quipdash/internal/game"
	"github.com/kiliankoe/quipdash/internal/pack"
)

var (
	alice = chat.User{ID: "alice", Name: "Alice"}
	bob   = chat.User{ID: "bob", Name: "Bob"}
)

func TestMain(m *testing.M) {
	deleteDelay = 10 * time.Millisecond
	os.Exit(m.Run())
}

type fakeStats struct {
	n   int
	err error
}

func (f fakeStats) CountGames(context.Context) (int, error) { return f.n, f.err }

type harness struct {
	hub   *memory.Hub
	d     *Dispatcher
	lobby chat.ChannelID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hub := memory.NewHub(chat.User{ID: "bot", Name: "Quipdash"})
	for _, u := range []chat.User{alice, bob} {
		hub.Register(chat.Member{User: u, DisplayName: u.Name})
	}
	lobby, err := hub.CreateChannel(context.Background(), "", "lobby")
	if err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	lib, err := pack.Builtin()
	if err != nil {
		t.Fatalf("builtin packs: %v", err)
	}
	cfg := config.Default()
	d := New(Deps{
		Prefix:      cfg.Prefix,
		DefaultPack: cfg.DefaultPack,
		Version:     "1.2.3",
		Packs:       lib,
		Game: game.Deps{
			Platform:       hub,
			Registry:       game.NewRegistry(),
			Config:         cfg.Game,
			CategoryPrefix: cfg.CategoryPrefix,
		},
	})
	t.Cleanup(func() {
		for _, g := range d.deps.Game.Registry.Games() {
			g.EndGame()
		}
	})
	return &harness{hub: hub, d: d, lobby: lobby}
}

// run posts content as user in the lobby and handles it synchronously.
func (h *harness) run(t *testing.T, user chat.User, content string, attachments ...chat.Attachment) chat.Message {
	t.Helper()
	msg, err := h.hub.Post(context.Background(), h.lobby, user, content, attachments...)
	if err != nil {
		t.Fatalf("post %q: %v", content, err)
	}
	h.d.Handle(context.Background(), msg)
	return msg
}

// last returns the newest message the bot sent to the lobby.
func (h *harness) last(t *testing.T) chat.Message {
	t.Helper()
	history := h.hub.History(h.lobby)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Author.Bot {
			return history[i]
		}
	}
	t.Fatalf("bot sent nothing")
	return chat.Message{}
}

func (h *harness) botMessages() int {
	n := 0
	for _, m := range h.hub.History(h.lobby) {
		if m.Author.Bot {
			n++
		}
	}
	return n
}

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

func TestLookup(t *testing.T) {
	h := newHarness(t)
	cases := map[string]string{
		"create":     "create",
		"c":          "create",
		"STATS":      "statistics",
		"statistics": "statistics",
		"h":          "help",
		"clean":      "clean",
	}
	for in, want := range cases {
		c, ok := h.d.Lookup(in)
		if !ok || c.Name != want {
			t.Fatalf("Lookup(%q) = %q, %v; want %q", in, c.Name, ok, want)
		}
	}
	if _, ok := h.d.Lookup("nope"); ok {
		t.Fatalf("expected unknown command")
	}
}

func TestIgnoresNonCommands(t *testing.T) {
	h := newHarness(t)
	h.run(t, alice, "hello there")
	h.run(t, alice, "q!")
	h.run(t, alice, "q!unknown")
	if n := h.botMessages(); n != 0 {
		t.Fatalf("bot sent %d messages", n)
	}
}

func TestPrefixMatching(t *testing.T) {
	h := newHarness(t)
	h.run(t, alice, "Q!HELP")
	if m := h.last(t); m.Embed == nil || m.Embed.Title != "Commands" {
		t.Fatalf("prefix should match regardless of case, got %+v", m)
	}

	h = newHarness(t)
	h.d.deps.Prefix = "ẞ!"
	// ß folds to ẞ but is one byte shorter
	h.run(t, alice, "ß!xhelp")
	if n := h.botMessages(); n != 0 {
		t.Fatalf("bot sent %d messages for a mismatched prefix", n)
	}
	h.run(t, alice, "ẞ!help")
	if m := h.last(t); m.Embed == nil || m.Embed.Title != "Commands" {
		t.Fatalf("unexpected reply: %+v", m)
	}
}

func TestHelpList(t *testing.T) {
	h := newHarness(t)
	h.run(t, alice, "q!help")
	m := h.last(t)
	if m.Embed == nil || m.Embed.Title != "Commands" {
		t.Fatalf("unexpected reply: %+v", m)
	}
	for _, c := range h.d.Commands() {
		if !strings.Contains(m.Embed.Description, " • "+c.Name) {
			t.Fatalf("help is missing %s: %q", c.Name, m.Embed.Description)
		}
	}
}

func TestHelpCommand(t *testing.T) {
	h := newHarness(t)
	h.run(t, alice, "Q!HELP c")
	m := h.last(t)
	if m.Embed == nil || m.Embed.Title != "create" {
		t.Fatalf("unexpected reply: %+v", m)
	}
	if len(m.Embed.Fields) != 2 {
		t.Fatalf("fields = %+v", m.Embed.Fields)
	}
	if f := m.Embed.Fields[0]; f.Name != "Alias" || f.Value != "`c`" {
		t.Fatalf("alias field = %+v", f)
	}
	if f := m.Embed.Fields[1]; f.Name != "Syntax" || f.Value != "```q!create [optional:pack]```" {
		t.Fatalf("syntax field = %+v", f)
	}

	h.run(t, alice, "q!help rules")
	if m := h.last(t); len(m.Embed.Fields) != 1 || m.Embed.Fields[0].Value != "```q!rules```" {
		t.Fatalf("rules help = %+v", m.Embed)
	}

	h.run(t, alice, "q!help nope")
	if m := h.last(t); m.Content != alice.Mention()+", that command doesn't exist!" {
		t.Fatalf("reply = %q", m.Content)
	}
}

func TestPacks(t *testing.T) {
	h := newHarness(t)

	h.run(t, alice, "q!packs")
	m := h.last(t)
	if m.Embed == nil || m.Embed.Title != "Prompt Packs" || !strings.Contains(m.Embed.Description, " • Default") {
		t.Fatalf("pack list = %+v", m.Embed)
	}

	h.run(t, alice, "q!packs default")
	m = h.last(t)
	def, _ := h.d.deps.Packs.Get("default")
	if m.Embed == nil || m.Embed.Title != "Default" || m.Embed.Footer != fmt.Sprintf("%d prompts", len(def.Prompts)) {
		t.Fatalf("pack info = %+v", m.Embed)
	}

	h.run(t, alice, "q!packs missing")
	if m := h.last(t); m.Content != alice.Mention()+", that pack doesn't exist!" {
		t.Fatalf("reply = %q", m.Content)
	}

	h.run(t, alice, "q!packs", chat.Attachment{Name: "mine.json", Data: []byte(`{"prompts":["a","b"]}`)})
	m = h.last(t)
	if m.Embed == nil || m.Embed.Title != "<Missing Name>" || m.Embed.Description != "<Missing Description>" || m.Embed.Footer != "2 prompts" {
		t.Fatalf("attached pack info = %+v", m.Embed)
	}

	h.run(t, alice, "q!packs", chat.Attachment{Name: "broken.json", Data: []byte(`{`)})
	if m := h.last(t); m.Content != alice.Mention()+", that pack isn't valid JSON!" {
		t.Fatalf("reply = %q", m.Content)
	}
}

func TestRules(t *testing.T) {
	h := newHarness(t)
	h.run(t, alice, "q!rules")
	var titles []string
	for _, m := range h.hub.History(h.lobby) {
		if m.Embed != nil {
			titles = append(titles, m.Embed.Title)
		}
	}
	if len(titles) != 2 || titles[0] != "How to Play" || titles[1] != "Voting" {
		t.Fatalf("titles = %v", titles)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.d.deps.Stats = fakeStats{n: 1234}
	h.run(t, alice, "q!stats")
	m := h.last(t)
	if m.Embed == nil || m.Embed.Title != "Stats" {
		t.Fatalf("unexpected reply: %+v", m)
	}
	fields := make(map[string]string)
	for _, f := range m.Embed.Fields {
		fields[f.Name] = f.Value
	}
	if fields["Ongoing Games"] != "0" || fields["Games Played"] != "1,234" || fields["Version"] != "1.2.3" || fields["Uptime"] == "" {
		t.Fatalf("fields = %v", fields)
	}

	h.d.deps.Stats = fakeStats{err: errors.New("db gone")}
	h.run(t, alice, "q!statistics")
	for _, f := range h.last(t).Embed.Fields {
		if f.Name == "Games Played" && f.Value != "unknown" {
			t.Fatalf("games played = %q", f.Value)
		}
	}
}

func TestCreateDefaultPack(t *testing.T) {
	h := newHarness(t)
	h.run(t, alice, "q!create")

	games := h.d.deps.Game.Registry.Games()
	if len(games) != 1 {
		t.Fatalf("games = %d, want 1", len(games))
	}
	g := games[0]
	if g.Pack().Name != "Default" || g.Host().ID != alice.ID || g.State() != game.StateLobby {
		t.Fatalf("unexpected game: pack %q host %q state %v", g.Pack().Name, g.Host().ID, g.State())
	}
	if m := h.last(t); m.Embed == nil || m.Embed.Title != "New Quipdash Game" {
		t.Fatalf("invitation = %+v", m)
	}

	h.run(t, bob, "q!c")
	if n := h.d.deps.Game.Registry.Len(); n != 2 {
		t.Fatalf("games = %d, want 2", n)
	}
}

func TestCreateNamedPack(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	data := `{"name":"Animals","description":"Creatures great and small","prompts":["a","b","c","d","e","f","g"]}`
	if err := os.WriteFile(filepath.Join(dir, "animals.json"), []byte(data), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	if err := h.d.deps.Packs.LoadDir(dir); err != nil {
		t.Fatalf("load packs: %v", err)
	}

	h.run(t, alice, "q!create animals")
	games := h.d.deps.Game.Registry.Games()
	if len(games) != 1 || games[0].Pack().Name != "Animals" {
		t.Fatalf("expected a game with the animals pack")
	}

	h.run(t, alice, "q!create nosuchpack")
	games = h.d.deps.Game.Registry.Games()
	if len(games) != 2 || games[1].Pack().Name != "Default" {
		t.Fatalf("unknown pack should fall back to the default pack")
	}
}

func TestCreateAttachedPack(t *testing.T) {
	h := newHarness(t)

	h.run(t, alice, "q!create", chat.Attachment{Name: "bad.json", Data: []byte(`{"prompts":[]}`)})
	if n := h.d.deps.Game.Registry.Len(); n != 0 {
		t.Fatalf("invalid pack created %d games", n)
	}
	want := "That pack is missing a name!\nThat pack is missing a description!\nThat pack is missing prompts!"
	if m := h.last(t); m.Content != want {
		t.Fatalf("problems = %q", m.Content)
	}

	h.run(t, alice, "q!create", chat.Attachment{Name: "custom.JSON", Data: []byte(`{"name":"Custom","description":"Mine","prompts":["x","y","z"]}`)})
	games := h.d.deps.Game.Registry.Games()
	if len(games) != 1 || games[0].Pack().Name != "Custom" {
		t.Fatalf("expected a game with the attached pack")
	}
}

func TestCreateSetupFailure(t *testing.T) {
	h := newHarness(t)
	h.hub.FailNext("CreateCategory", errors.New("boom"))
	h.run(t, alice, "q!create")
	if n := h.d.deps.Game.Registry.Len(); n != 0 {
		t.Fatalf("games = %d, want 0", n)
	}
	if m := h.last(t); m.Content != alice.Mention()+", "+problemReply {
		t.Fatalf("reply = %q", m.Content)
	}
}

func TestClean(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.run(t, alice, "q!create")
	live := h.d.deps.Game.Registry.Games()[0]

	orphan, err := h.hub.CreateCategory(ctx, "quipdash-99")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	child, err := h.hub.CreateChannel(ctx, orphan, "game-99")
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	other, err := h.hub.CreateCategory(ctx, "general")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}

	h.run(t, alice, "q!clean")

	for _, id := range []chat.ChannelID{orphan, child} {
		if _, ok := h.hub.Channel(id); ok {
			t.Fatalf("channel %s should be deleted", id)
		}
	}
	for _, id := range []chat.ChannelID{other, live.ID(), live.Channel(), h.lobby} {
		if _, ok := h.hub.Channel(id); !ok {
			t.Fatalf("channel %s should be kept", id)
		}
	}
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.d.commands = append(h.d.commands, Command{
		Name: "boom",
		run: func(context.Context, *Dispatcher, chat.Message, []string) error {
			panic("kaboom")
		},
	})
	h.run(t, alice, "q!boom")
	if m := h.last(t); m.Content != alice.Mention()+", "+problemReply {
		t.Fatalf("reply = %q", m.Content)
	}
}

func TestCommandMessageIsDeleted(t *testing.T) {
	h := newHarness(t)
	msg := h.run(t, alice, "q!help")
	waitFor(t, time.Second, "command message deletion", func() bool {
		_, ok := h.hub.Message(h.lobby, msg.ID)
		return !ok
	})
	if _, ok := h.hub.Message(h.lobby, h.last(t).ID); !ok {
		t.Fatalf("reply should stay")
	}
}

func TestRunDispatchesMessages(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.d.Run(ctx)
		close(done)
	}()
	waitFor(t, time.Second, "dispatcher subscription", func() bool { return h.hub.Subscribers() == 1 })

	if _, err := h.hub.Send(ctx, h.lobby, chat.Text("q!rules")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := h.hub.Post(ctx, h.lobby, alice, "q!rules"); err != nil {
		t.Fatalf("post: %v", err)
	}
	waitFor(t, time.Second, "rules", func() bool {
		n := 0
		for _, m := range h.hub.History(h.lobby) {
			if m.Embed != nil {
				n++
			}
		}
		return n == 2
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("dispatcher did not stop")
	}
	if n := h.hub.Subscribers(); n != 0 {
		t.Fatalf("subscriptions left: %d", n)
	}
}
