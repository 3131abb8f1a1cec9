package game

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/kiliankoe/quipdash/internal/chat"
	"github.com/kiliankoe/quipdash/internal/config"
	"github.com/rs/zerolog/log"
)

const timerCleanupDelay = time.Second

// TimerStyle is how a progress bar is drawn.
type TimerStyle struct {
	Glyphs config.Glyphs
	Color  int
}

func styleOf(cfg config.Game) TimerStyle {
	return TimerStyle{Glyphs: cfg.Glyphs, Color: cfg.Colors.PromptDelay}
}

// Timer is a countdown message whose progress bar shrinks as time runs out.
type Timer struct {
	platform chat.Platform
	channel  chat.ChannelID
	duration time.Duration
	title    string
	action   string
	style    TimerStyle

	segments int
	ticks    int
	tick     time.Duration

	mu        sync.Mutex
	msg       chat.MessageID
	cancelled chan struct{}
	once      sync.Once
}

// Segments is the number of bar segments drawn for a countdown of d.
func Segments(d time.Duration) int {
	x := float64(d) / float64(4*time.Second)
	if x > 16 {
		return 7
	}
	return max(0, int(math.Floor((x-2)/2+0.5)))
}

func NewTimer(platform chat.Platform, channel chat.ChannelID, duration time.Duration, title, action string, style TimerStyle) *Timer {
	segments := Segments(duration)
	ticks := segments*2 + 2
	return &Timer{
		platform:  platform,
		channel:   channel,
		duration:  duration,
		title:     title,
		action:    action,
		style:     style,
		segments:  segments,
		ticks:     ticks,
		tick:      duration / time.Duration(ticks),
		cancelled: make(chan struct{}),
	}
}

// Ticks is the number of updates the timer makes before it runs out.
func (t *Timer) Ticks() int { return t.ticks }

// Initialize posts the timer with a full bar.
func (t *Timer) Initialize(ctx context.Context) error {
	id, err := t.platform.Send(ctx, t.channel, t.render(t.ticks))
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.msg = id
	t.mu.Unlock()
	return nil
}

// Start counts down until the duration has passed, the timer is cancelled or
// ctx is done. Each tick sleeps only what is left of its slot so scheduling
// delays do not add up. The message is removed shortly after.
func (t *Timer) Start(ctx context.Context) {
	t.mu.Lock()
	id := t.msg
	t.mu.Unlock()
	if id == "" {
		return
	}
	defer chat.DeleteAfter(t.platform, t.channel, id, timerCleanupDelay)

	began := time.Now()
	for i := 1; i <= t.ticks; i++ {
		select {
		case <-ctx.Done():
			return
		case <-t.cancelled:
			return
		case <-time.After(time.Duration(i)*t.tick - time.Since(began)):
		}
		if t.Cancelled() {
			return
		}
		if err := t.platform.Edit(ctx, t.channel, id, t.render(t.ticks-i)); err != nil {
			log.Debug().Err(err).Str("channel", string(t.channel)).Msg("timer update failed")
		}
	}
}

// Cancel stops the countdown. It is safe to call at any time.
func (t *Timer) Cancel() {
	t.once.Do(func() { close(t.cancelled) })
}

func (t *Timer) Cancelled() bool {
	select {
	case <-t.cancelled:
		return true
	default:
		return false
	}
}

func (t *Timer) render(remaining int) chat.Outgoing {
	return TimerMessage(t.title, t.action, t.duration, t.Bar(remaining), t.style.Color)
}

// Bar draws the progress bar with remaining ticks left.
func (t *Timer) Bar(remaining int) string {
	g := t.style.Glyphs
	var sb strings.Builder
	if remaining == 0 {
		sb.WriteString(g.CapEmpty)
	} else {
		sb.WriteString(g.CapFull)
	}
	for k := range t.segments {
		pos := (k + 1) * 2
		switch {
		case remaining < pos:
			sb.WriteString(g.BarEmpty)
		case remaining == pos:
			sb.WriteString(g.BarMiddle)
		default:
			sb.WriteString(g.BarFull)
		}
	}
	if remaining < t.ticks {
		sb.WriteString(g.CapEmpty)
	} else {
		sb.WriteString(g.CapFull)
	}
	return sb.String()
}
