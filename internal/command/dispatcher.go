// Package command runs the prefix commands users type in any channel the bot
// can read.
package command

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/kiliankoe/quipdash/internal/chat"
	"github.com/kiliankoe/quipdash/internal/game"
	"github.com/kiliankoe/quipdash/internal/pack"
	"github.com/rs/zerolog/log"
)

// deleteDelay is how long a command message stays visible after it ran.
var deleteDelay = time.Second

const problemReply = "a problem occurred while running that command!"

// Stats is the part of the game archive the stats command reads.
type Stats interface {
	CountGames(ctx context.Context) (int, error)
}

// Deps are what commands need to run.
type Deps struct {
	Prefix      string
	DefaultPack string
	Version     string
	Packs       *pack.Library
	// Game is the template every created game starts from.
	Game game.Deps
	// Stats is optional.
	Stats Stats
}

// Command is one prefix command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Syntax      string
	run         func(ctx context.Context, d *Dispatcher, msg chat.Message, args []string) error
}

func (c Command) matches(name string) bool {
	if c.Name == name {
		return true
	}
	for _, a := range c.Aliases {
		if a == name {
			return true
		}
	}
	return false
}

// Dispatcher routes prefixed messages to commands.
type Dispatcher struct {
	deps     Deps
	platform chat.Platform
	commands []Command
	started  time.Time
}

func New(deps Deps) *Dispatcher {
	if deps.Game.Registry == nil {
		deps.Game.Registry = game.NewRegistry()
	}
	return &Dispatcher{
		deps:     deps,
		platform: deps.Game.Platform,
		commands: builtinCommands(),
		started:  time.Now(),
	}
}

// Commands returns every command in help order.
func (d *Dispatcher) Commands() []Command { return d.commands }

// Lookup finds a command by name or alias, case-insensitively.
func (d *Dispatcher) Lookup(name string) (Command, bool) {
	name = strings.ToLower(name)
	for _, c := range d.commands {
		if c.matches(name) {
			return c, true
		}
	}
	return Command{}, false
}

// Run listens to messages in every channel until ctx is done. Each command
// runs in its own goroutine, and games created by commands live until ctx is
// done.
func (d *Dispatcher) Run(ctx context.Context) {
	self := d.platform.Self().ID
	sub := d.platform.Messages("", func(ev chat.MessageEvent) bool {
		return !ev.Message.Author.Bot && ev.Message.Author.ID != self && d.isCommand(ev.Message.Content)
	})
	defer sub.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events():
			go d.Handle(ctx, ev.Message)
		}
	}
}

func (d *Dispatcher) isCommand(content string) bool {
	prefix := d.deps.Prefix
	return len(content) >= len(prefix) && strings.EqualFold(content[:len(prefix)], prefix)
}

// Handle runs the command in msg, if any. Failures and panics are reported
// to the author with a generic reply. The command message is deleted shortly
// after.
func (d *Dispatcher) Handle(ctx context.Context, msg chat.Message) {
	if msg.Author.Bot || !d.isCommand(msg.Content) {
		return
	}
	args := strings.Fields(msg.Content[len(d.deps.Prefix):])
	if len(args) == 0 {
		return
	}
	name := strings.ToLower(args[0])
	cmd, ok := d.Lookup(name)
	if !ok {
		return
	}
	logger := log.With().Str("command", cmd.Name).Str("user", string(msg.Author.ID)).Logger()

	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("command panicked")
				d.reply(ctx, msg, problemReply)
			}
		}()
		if err := cmd.run(ctx, d, msg, args[1:]); err != nil {
			logger.Error().Err(err).Msg("command failed")
			d.reply(ctx, msg, problemReply)
		}
	}()

	chat.DeleteAfter(d.platform, msg.ChannelID, msg.ID, deleteDelay)
}

func (d *Dispatcher) send(ctx context.Context, channel chat.ChannelID, out chat.Outgoing) error {
	if _, err := d.platform.Send(ctx, channel, out); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// reply answers the author of msg in the channel it was posted in.
func (d *Dispatcher) reply(ctx context.Context, msg chat.Message, text string) {
	if _, err := d.platform.Send(ctx, msg.ChannelID, chat.Text(msg.Author.Mention()+", "+text)); err != nil {
		log.Warn().Err(err).Str("channel", string(msg.ChannelID)).Msg("reply")
	}
}
