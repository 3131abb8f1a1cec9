package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kiliankoe/quipdash/internal/chat"
	"github.com/kiliankoe/quipdash/internal/config"
	"github.com/kiliankoe/quipdash/internal/pack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const teardownTimeout = 10 * time.Second

// Deps are the collaborators and settings a game runs with.
type Deps struct {
	Platform       chat.Platform
	Registry       *Registry
	Config         config.Game
	CategoryPrefix string
	// Archive and ExportFile are optional.
	Archive    Archive
	ExportFile string
	// Rand defaults to a randomly seeded source.
	Rand *rand.Rand
}

// Game is one session from lobby to teardown.
type Game struct {
	deps   Deps
	cfg    config.Game
	rng    *rand.Rand
	log    zerolog.Logger
	number int
	host   chat.User
	pack   pack.Pack
	invite chat.ChannelID

	ctx     context.Context
	cancel  context.CancelFunc
	endOnce sync.Once
	done    chan struct{}

	mu        sync.Mutex
	state     State
	waiting   []chat.User
	players   []*Player
	category  chat.ChannelID
	channel   chat.ChannelID
	inviteMsg chat.MessageID
	rosterMsg chat.MessageID
	timer     *Timer
	joins     *chat.Subscription[chat.ReactionEvent]
	commands  *chat.Subscription[chat.MessageEvent]
	startedAt time.Time

	// owned by the round loop
	history PromptHistory
	rounds  []RoundRecord
}

// NewGame creates a game hosted by host. Call Setup to open the lobby.
func NewGame(parent context.Context, deps Deps, invite chat.ChannelID, host chat.User, p pack.Pack, number int) *Game {
	ctx, cancel := context.WithCancel(parent)
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Game{
		deps:    deps,
		cfg:     deps.Config,
		rng:     rng,
		log:     log.With().Int("game", number).Str("pack", p.Name).Logger(),
		number:  number,
		host:    host,
		pack:    p,
		invite:  invite,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateLobby,
		waiting: []chat.User{host},
	}
}

// Setup creates the game's category and channel, posts the invitation and
// the lobby messages, and starts listening for joins and commands. A game
// that fails to set up is torn down before Setup returns.
func (g *Game) Setup(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			g.log.Error().Err(err).Msg("game setup failed")
			g.EndGame()
		}
	}()
	p := g.deps.Platform

	category, err := p.CreateCategory(ctx, fmt.Sprintf("%s%d", g.deps.CategoryPrefix, g.number))
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	g.mu.Lock()
	g.category = category
	g.mu.Unlock()
	g.deps.Registry.Add(category, g)

	channel, err := p.CreateChannel(ctx, category, fmt.Sprintf("game-%d", g.number), g.host.ID)
	if err != nil {
		return fmt.Errorf("create game channel: %w", err)
	}
	g.mu.Lock()
	g.channel = channel
	g.mu.Unlock()

	host, err := p.Member(ctx, g.host.ID)
	if err != nil {
		host = chat.Member{User: g.host, DisplayName: g.host.Name}
	}
	inviteMsg, err := p.Send(ctx, g.invite, InviteMessage(g.cfg, host, channel))
	if err != nil {
		return fmt.Errorf("send invitation: %w", err)
	}
	g.mu.Lock()
	g.inviteMsg = inviteMsg
	g.mu.Unlock()
	for _, glyph := range []string{g.cfg.Glyphs.JoinPlayer, g.cfg.Glyphs.JoinSpectator} {
		if err := p.React(ctx, g.invite, inviteMsg, glyph); err != nil {
			return fmt.Errorf("react to invitation: %w", err)
		}
	}
	joins := p.Reactions(g.invite, inviteMsg, chat.Glyphs(g.cfg.Glyphs.JoinPlayer, g.cfg.Glyphs.JoinSpectator))
	if !g.setJoins(joins) {
		return g.ctx.Err()
	}
	go g.listenJoins(joins)

	for _, msg := range []chat.Outgoing{RulesMessage(g.cfg), VotingMessage(g.cfg), PackMessage(g.cfg, g.pack), HostHint(g.host), QuitHint()} {
		if _, err := p.Send(ctx, channel, msg); err != nil {
			return fmt.Errorf("send lobby message: %w", err)
		}
	}

	g.mu.Lock()
	roster := slices.Clone(g.waiting)
	g.mu.Unlock()
	rosterMsg, err := p.Send(ctx, channel, RosterMessage(g.cfg, roster))
	if err != nil {
		return fmt.Errorf("send roster: %w", err)
	}

	commands := p.Messages(channel, func(ev chat.MessageEvent) bool { return !ev.Message.Author.Bot })
	g.mu.Lock()
	if g.ctx.Err() != nil {
		g.mu.Unlock()
		commands.Stop()
		return g.ctx.Err()
	}
	g.rosterMsg = rosterMsg
	g.commands = commands
	g.mu.Unlock()
	go g.listenCommands(commands)

	g.log.Info().Str("host", string(g.host.ID)).Str("category", string(category)).Msg("game created")
	return nil
}

func (g *Game) setJoins(sub *chat.Subscription[chat.ReactionEvent]) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		sub.Stop()
		return false
	}
	g.joins = sub
	return true
}

func (g *Game) listenJoins(sub *chat.Subscription[chat.ReactionEvent]) {
	for {
		select {
		case ev := <-sub.Events():
			g.handleJoin(ev)
		case <-sub.Done():
			return
		case <-g.ctx.Done():
			return
		}
	}
}

func (g *Game) handleJoin(ev chat.ReactionEvent) {
	p := g.deps.Platform
	g.mu.Lock()
	ready := g.rosterMsg != ""
	channel := g.channel
	g.mu.Unlock()

	if !ready {
		chat.SendTemporary(g.ctx, p, g.invite, SetupPendingNotice(ev.User), g.cfg.NoticeTTL)
		g.retract(ev)
		return
	}
	if err := p.Allow(g.ctx, channel, ev.User.ID); err != nil {
		g.log.Error().Err(err).Str("user", string(ev.User.ID)).Msg("error occurred while adding player")
		chat.SendTemporary(g.ctx, p, g.invite, JoinFailedNotice(ev.User), g.cfg.NoticeTTL)
		g.retract(ev)
		return
	}
	if ev.Glyph != g.cfg.Glyphs.JoinPlayer {
		return
	}
	if err := g.Join(ev.User); err != nil {
		g.log.Debug().Err(err).Str("user", string(ev.User.ID)).Msg("join ignored")
		return
	}
	g.updateRoster()
}

func (g *Game) retract(ev chat.ReactionEvent) {
	if err := g.deps.Platform.Unreact(g.ctx, ev.ChannelID, ev.MessageID, ev.Glyph, ev.User.ID); err != nil {
		g.log.Debug().Err(err).Msg("retract reaction")
	}
}

// Join adds user to the roster. It fails once the game runs, when the roster
// is full or when the user is already in it.
func (g *Game) Join(user chat.User) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateLobby {
		return ErrInvalidPhase
	}
	if len(g.waiting) >= g.cfg.MaxPlayers {
		return ErrLobbyFull
	}
	if slices.ContainsFunc(g.waiting, func(u chat.User) bool { return u.ID == user.ID }) {
		return ErrAlreadyJoined
	}
	g.waiting = append(g.waiting, user)
	return nil
}

// Leave removes a non-host user from the roster while in the lobby.
func (g *Game) Leave(user chat.UserID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateLobby {
		return ErrInvalidPhase
	}
	i := slices.IndexFunc(g.waiting, func(u chat.User) bool { return u.ID == user })
	if i < 0 || user == g.host.ID {
		return ErrNotJoined
	}
	g.waiting = slices.Delete(g.waiting, i, i+1)
	return nil
}

func (g *Game) updateRoster() {
	g.mu.Lock()
	roster := slices.Clone(g.waiting)
	channel, msg := g.channel, g.rosterMsg
	g.mu.Unlock()
	if msg == "" {
		return
	}
	if err := g.deps.Platform.Edit(g.ctx, channel, msg, RosterMessage(g.cfg, roster)); err != nil {
		g.log.Warn().Err(err).Msg("update roster")
	}
}

func (g *Game) listenCommands(sub *chat.Subscription[chat.MessageEvent]) {
	for {
		select {
		case ev := <-sub.Events():
			g.handleCommand(ev.Message)
		case <-sub.Done():
			return
		case <-g.ctx.Done():
			return
		}
	}
}

func (g *Game) handleCommand(msg chat.Message) {
	p := g.deps.Platform
	if err := p.Delete(g.ctx, msg.ChannelID, msg.ID); err != nil {
		g.log.Debug().Err(err).Msg("delete command message")
	}

	command := strings.ToLower(strings.TrimSpace(msg.Content))
	if msg.Author.ID != g.host.ID {
		if command != "quit" || g.State() != StateLobby {
			return
		}
		if err := g.Leave(msg.Author.ID); err == nil {
			g.updateRoster()
		}
		if err := p.Revoke(g.ctx, msg.ChannelID, msg.Author.ID); err != nil {
			g.log.Warn().Err(err).Str("user", string(msg.Author.ID)).Msg("revoke game channel")
		}
		return
	}

	switch command {
	case "start":
		err := g.Start(g.ctx)
		switch {
		case errors.Is(err, ErrNotEnoughPlayers):
			chat.SendTemporary(g.ctx, p, msg.ChannelID, MinPlayersNotice(g.cfg.MinPlayers), g.cfg.NoticeTTL)
		case errors.Is(err, ErrPackTooSmall):
			if _, err := p.Send(g.ctx, msg.ChannelID, PackTooSmallNotice(g.RosterSize())); err != nil {
				g.log.Warn().Err(err).Msg("send pack notice")
			}
		case err != nil && !errors.Is(err, ErrInvalidPhase):
			g.log.Error().Err(err).Msg("start game")
		}
	case "end":
		g.log.Info().Msg("game aborted by host")
		g.EndGame()
	}
}

// Start freezes the roster, opens every player's channel, locks the game
// channel and runs the rounds in the background.
func (g *Game) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StateLobby {
		g.mu.Unlock()
		return ErrInvalidPhase
	}
	n := len(g.waiting)
	if n < g.cfg.MinPlayers {
		g.mu.Unlock()
		return ErrNotEnoughPlayers
	}
	if len(g.pack.Prompts) < n*2+1 {
		g.mu.Unlock()
		return ErrPackTooSmall
	}
	g.state = StateRunning
	g.startedAt = time.Now().UTC()
	players := make([]*Player, n)
	for i, u := range g.waiting {
		players[i] = NewPlayer(g.ctx, g.deps.Platform, g.cfg, u, g.channel, g.category)
	}
	g.players = players
	channel := g.channel
	g.mu.Unlock()

	eg, egctx := errgroup.WithContext(ctx)
	for _, pl := range players {
		eg.Go(func() error { return pl.Initialize(egctx) })
	}
	if err := eg.Wait(); err != nil {
		g.EndGame()
		return fmt.Errorf("initialize players: %w", err)
	}
	if err := g.deps.Platform.SetReadOnly(ctx, channel); err != nil {
		g.log.Warn().Err(err).Msg("lock game channel")
	}

	g.log.Info().Int("players", n).Msg("game started")
	go g.run()
	return nil
}

// EndGame releases everything the game holds. Only the first call has an
// effect; it is safe on games that never finished setting up.
func (g *Game) EndGame() {
	g.endOnce.Do(func() {
		defer close(g.done)
		g.cancel()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(g.ctx), teardownTimeout)
		defer cancel()
		p := g.deps.Platform

		g.mu.Lock()
		g.state = StateEnded
		inviteMsg, players, joins, commands, timer := g.inviteMsg, g.players, g.joins, g.commands, g.timer
		channel, category := g.channel, g.category
		g.mu.Unlock()

		if inviteMsg != "" {
			if err := p.Delete(ctx, g.invite, inviteMsg); err != nil {
				g.log.Warn().Err(err).Msg("delete invitation")
			}
		}
		var eg errgroup.Group
		for _, pl := range players {
			eg.Go(func() error {
				pl.Dispose(ctx)
				return nil
			})
		}
		_ = eg.Wait()
		joins.Stop()
		commands.Stop()
		if timer != nil {
			timer.Cancel()
		}
		if channel != "" {
			if err := p.DeleteChannel(ctx, channel); err != nil {
				g.log.Warn().Err(err).Msg("delete game channel")
			}
		}
		if category != "" {
			g.deps.Registry.Remove(category)
			if err := p.DeleteChannel(ctx, category); err != nil {
				g.log.Warn().Err(err).Msg("delete category")
			}
		}
		g.log.Info().Msg("game ended")
	})
}

// Done is closed once the game has been torn down.
func (g *Game) Done() <-chan struct{} { return g.done }

func (g *Game) ID() chat.ChannelID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.category
}

// Channel is the game's public channel.
func (g *Game) Channel() chat.ChannelID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.channel
}

func (g *Game) Number() int { return g.number }

func (g *Game) Host() chat.User { return g.host }

func (g *Game) Pack() pack.Pack { return g.pack }

func (g *Game) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Roster returns the waiting participants in join order.
func (g *Game) Roster() []chat.User {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.waiting)
}

func (g *Game) RosterSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiting)
}

func (g *Game) Players() []*Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.players)
}

func (g *Game) Summary() Summary {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Summary{
		ID:      g.category,
		Number:  g.number,
		Pack:    g.pack.Name,
		Host:    g.host.Name,
		State:   g.state,
		Players: len(g.waiting),
	}
}

// Standings returns the players ordered by score, highest first. Equal
// scores keep roster order.
func (g *Game) Standings() []Standing {
	players := g.Players()
	out := make([]Standing, len(players))
	for i, p := range players {
		out[i] = Standing{UserID: p.User().ID, Name: p.Name(), Score: p.Score()}
	}
	slices.SortStableFunc(out, func(a, b Standing) int { return b.Score - a.Score })
	return out
}

func (g *Game) isPlayer(user chat.UserID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.ContainsFunc(g.waiting, func(u chat.User) bool { return u.ID == user })
}
