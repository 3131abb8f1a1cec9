package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/kiliankoe/quipdash/internal/chat"
	"github.com/kiliankoe/quipdash/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Player is one participant of a running game and their private channel.
type Player struct {
	platform chat.Platform
	cfg      config.Game
	user     chat.User
	game     chat.ChannelID
	category chat.ChannelID
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	member    chat.Member
	channel   chat.ChannelID
	listener  *chat.Subscription[chat.MessageEvent]
	timer     *Timer
	deadline  *time.Timer
	round     int
	gen       int
	max       int
	prompt2   string
	responses []string
	timedOut  bool
	expired   bool
	disposed  bool
	score     int
}

// NewPlayer prepares a player for user. The player lives until ctx is done
// or it is disposed.
func NewPlayer(ctx context.Context, platform chat.Platform, cfg config.Game, user chat.User, gameChannel, category chat.ChannelID) *Player {
	ctx, cancel := context.WithCancel(ctx)
	return &Player{
		platform: platform,
		cfg:      cfg,
		user:     user,
		game:     gameChannel,
		category: category,
		log:      log.With().Str("player", string(user.ID)).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		member:   chat.Member{User: user, DisplayName: user.Name},
		timedOut: true,
	}
}

// Initialize resolves how the player is displayed, opens their private
// channel and starts collecting what they write there.
func (p *Player) Initialize(ctx context.Context) error {
	m, err := p.platform.Member(ctx, p.user.ID)
	switch {
	case errors.Is(err, chat.ErrMemberNotFound):
		m = chat.Member{User: p.user, DisplayName: p.user.Name}
	case err != nil:
		return fmt.Errorf("resolve member: %w", err)
	}
	if m.DisplayName == "" {
		m.DisplayName = p.user.Name
	}

	id, err := p.platform.CreateChannel(ctx, p.category, "player-"+channelSlug(m.DisplayName), p.user.ID)
	if err != nil {
		return fmt.Errorf("create player channel: %w", err)
	}
	sub := p.platform.Messages(id, func(ev chat.MessageEvent) bool { return ev.Message.Author.ID == p.user.ID })

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		sub.Stop()
		p.deleteChannel(context.WithoutCancel(ctx), id)
		return nil
	}
	p.member = m
	p.channel = id
	p.listener = sub
	p.mu.Unlock()

	go p.listen(sub)
	return nil
}

func (p *Player) listen(sub *chat.Subscription[chat.MessageEvent]) {
	for {
		select {
		case ev := <-sub.Events():
			p.HandleResponse(ev.Message.Content)
		case <-sub.Done():
			return
		}
	}
}

// GivePrompts runs the player's side of a round: a heads-up, the pre-round
// delay, a countdown, and the first prompt. prompt2 is empty in rounds with a
// single prompt. It returns once the first prompt is out.
func (p *Player) GivePrompts(round int, duration time.Duration, prompt1, prompt2 string) {
	p.mu.Lock()
	if p.disposed || p.channel == "" {
		p.mu.Unlock()
		return
	}
	p.gen++
	gen := p.gen
	p.responses = nil
	p.timedOut = true
	p.expired = false
	p.round = round
	p.prompt2 = prompt2
	p.max = 1
	if prompt2 != "" {
		p.max = 2
	}
	if p.deadline != nil {
		p.deadline.Stop()
	}
	ch := p.channel
	p.mu.Unlock()

	p.send(ch, RoundBanner(p.cfg, p.user, round))
	if err := sleep(p.ctx, p.cfg.RoundDelay); err != nil {
		return
	}

	action := "complete the prompt"
	if prompt2 != "" {
		action += "s"
	}
	timer := NewTimer(p.platform, ch, duration, "Creative Writing", action, styleOf(p.cfg))
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	if p.timer != nil {
		p.timer.Cancel()
	}
	p.timer = timer
	p.mu.Unlock()
	if err := timer.Initialize(p.ctx); err != nil {
		p.log.Warn().Err(err).Msg("start prompt timer")
	} else {
		go timer.Start(p.ctx)
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.deadline = time.AfterFunc(duration, func() { p.expire(gen) })
	p.mu.Unlock()

	which := 0
	if prompt2 != "" {
		which = 1
	}
	p.send(ch, PromptReveal(p.cfg, round, which, prompt1))

	p.mu.Lock()
	if p.gen == gen && !p.expired && !p.disposed {
		p.timedOut = false
	}
	p.mu.Unlock()
}

func (p *Player) expire(gen int) {
	p.mu.Lock()
	if p.disposed || p.gen != gen || len(p.responses) >= p.max {
		p.mu.Unlock()
		return
	}
	p.timedOut = true
	p.expired = true
	ch := p.channel
	p.mu.Unlock()

	p.send(ch, OutOfTimeMessage(p.cfg, p.game))
}

// HandleResponse records text as the player's next answer. It is ignored once
// the player timed out or answered everything; blank text is ignored too.
func (p *Player) HandleResponse(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	p.mu.Lock()
	if p.disposed || p.timedOut || len(p.responses) >= p.max {
		p.mu.Unlock()
		return
	}
	p.responses = append(p.responses, text)
	var out *chat.Outgoing
	switch n := len(p.responses); {
	case n == 1 && p.max > 1:
		msg := PromptReveal(p.cfg, p.round, 2, p.prompt2)
		out = &msg
	case n == p.max:
		p.timedOut = true
		if p.deadline != nil {
			p.deadline.Stop()
		}
		msg := AllAnsweredMessage(p.cfg, p.game)
		out = &msg
	}
	ch := p.channel
	p.mu.Unlock()

	if out != nil {
		p.send(ch, *out)
	}
}

// Dispose stops everything the player runs and deletes their channel. Only
// the first call has an effect.
func (p *Player) Dispose(ctx context.Context) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.timedOut = true
	listener, timer, deadline, ch := p.listener, p.timer, p.deadline, p.channel
	p.mu.Unlock()

	p.cancel()
	listener.Stop()
	if timer != nil {
		timer.Cancel()
	}
	if deadline != nil {
		deadline.Stop()
	}
	if ch != "" {
		p.deleteChannel(ctx, ch)
	}
}

func (p *Player) deleteChannel(ctx context.Context, id chat.ChannelID) {
	if err := p.platform.DeleteChannel(ctx, id); err != nil {
		p.log.Warn().Err(err).Str("channel", string(id)).Msg("delete player channel")
	}
}

func (p *Player) send(ch chat.ChannelID, msg chat.Outgoing) {
	if _, err := p.platform.Send(p.ctx, ch, msg); err != nil && p.ctx.Err() == nil {
		p.log.Warn().Err(err).Msg("send to player channel")
	}
}

func (p *Player) User() chat.User { return p.user }

func (p *Player) Member() chat.Member {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.member
}

func (p *Player) Name() string { return p.Member().DisplayName }

// Channel is the player's private channel, empty before Initialize.
func (p *Player) Channel() chat.ChannelID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

func (p *Player) Score() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.score
}

// AddScore adds points; scores never go down.
func (p *Player) AddScore(points int) {
	if points <= 0 {
		return
	}
	p.mu.Lock()
	p.score += points
	p.mu.Unlock()
}

// Response returns answer i of the current round, or "" if there is none.
func (p *Player) Response(i int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.responses) {
		return ""
	}
	return p.responses[i]
}

func (p *Player) Responses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.responses...)
}

func (p *Player) TimedOut() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timedOut
}

func (p *Player) Disposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}

func channelSlug(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			sb.WriteRune('-')
		}
	}
	if sb.Len() == 0 {
		return "player"
	}
	return sb.String()
}
