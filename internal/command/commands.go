package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kiliankoe/quipdash/internal/chat"
	"github.com/kiliankoe/quipdash/internal/game"
	"github.com/kiliankoe/quipdash/internal/pack"
	"github.com/rs/zerolog/log"
)

func builtinCommands() []Command {
	return []Command{
		{
			Name:        "create",
			Aliases:     []string{"c"},
			Description: "Create a new game. Attach a custom pack to use it.",
			Syntax:      "[optional:pack]",
			run:         runCreate,
		},
		{
			Name:        "packs",
			Description: "List available builtin prompt packs. Provide a pack name or attach a custom pack for more information.",
			Syntax:      "[optional:pack]",
			run:         runPacks,
		},
		{
			Name:        "help",
			Aliases:     []string{"h"},
			Description: "List available commands. Provide a command name for more information.",
			Syntax:      "[optional:command]",
			run:         runHelp,
		},
		{
			Name:        "rules",
			Description: "Display the rules of the game.",
			run:         runRules,
		},
		{
			Name:        "statistics",
			Aliases:     []string{"stats"},
			Description: "Display statistics about the bot.",
			run:         runStats,
		},
		{
			Name:        "clean",
			Description: "Remove all broken game channels.",
			run:         runClean,
		},
	}
}

func (d *Dispatcher) color() int { return d.deps.Game.Config.Colors.Invite }

// jsonAttachment returns the first attached .json file.
func jsonAttachment(msg chat.Message) (chat.Attachment, bool) {
	for _, a := range msg.Attachments {
		if strings.HasSuffix(strings.ToLower(a.Name), ".json") {
			return a, true
		}
	}
	return chat.Attachment{}, false
}

func runCreate(ctx context.Context, d *Dispatcher, msg chat.Message, args []string) error {
	var p pack.Pack
	found := false
	if len(args) > 0 && !strings.EqualFold(args[0], d.deps.DefaultPack) {
		if named, err := d.deps.Packs.Get(args[0]); err == nil {
			p, found = named, true
		}
	}
	if !found {
		if a, ok := jsonAttachment(msg); ok {
			parsed, err := pack.Parse(a.Data)
			var verr *pack.ValidationError
			switch {
			case errors.As(err, &verr):
				return d.send(ctx, msg.ChannelID, chat.Text(verr.Report()))
			case err != nil:
				d.reply(ctx, msg, "that pack isn't valid JSON!")
				return nil
			}
			p, found = parsed, true
		}
	}
	if !found {
		def, err := d.deps.Packs.Get(d.deps.DefaultPack)
		if err != nil {
			return fmt.Errorf("default pack %q: %w", d.deps.DefaultPack, err)
		}
		p = def
	}

	registry := d.deps.Game.Registry
	g := game.NewGame(ctx, d.deps.Game, msg.ChannelID, msg.Author, p, registry.Next())
	if err := g.Setup(ctx); err != nil {
		return fmt.Errorf("create game: %w", err)
	}
	log.Info().Int("game", g.Number()).Str("pack", p.Name).Str("host", string(msg.Author.ID)).Msg("game created")
	return nil
}

func runPacks(ctx context.Context, d *Dispatcher, msg chat.Message, args []string) error {
	attachment, attached := jsonAttachment(msg)
	switch {
	case len(args) == 0 && !attached:
		lines := []string{"The following prompt packs are available at this time:"}
		for _, name := range d.deps.Packs.Names() {
			lines = append(lines, " • "+name)
		}
		lines = append(lines, "Get more info about a pack by attaching it or with:```"+d.deps.Prefix+"packs [pack name]```")
		return d.send(ctx, msg.ChannelID, chat.Outgoing{Embed: &chat.Embed{
			Title:       "Prompt Packs",
			Description: strings.Join(lines, "\n"),
			Color:       d.color(),
		}})
	case len(args) > 0:
		p, err := d.deps.Packs.Get(args[0])
		if err != nil {
			d.reply(ctx, msg, "that pack doesn't exist!")
			return nil
		}
		return d.send(ctx, msg.ChannelID, packInfo(p, d.color()))
	default:
		// Invalid packs are still described so their author can see what is missing.
		p, err := pack.Parse(attachment.Data)
		var verr *pack.ValidationError
		if err != nil && !errors.As(err, &verr) {
			d.reply(ctx, msg, "that pack isn't valid JSON!")
			return nil
		}
		if strings.TrimSpace(p.Name) == "" {
			p.Name = "<Missing Name>"
		}
		if strings.TrimSpace(p.Description) == "" {
			p.Description = "<Missing Description>"
		}
		return d.send(ctx, msg.ChannelID, packInfo(p, d.color()))
	}
}

func packInfo(p pack.Pack, color int) chat.Outgoing {
	return chat.Outgoing{Embed: &chat.Embed{
		Title:       p.Name,
		Description: p.Description,
		Footer:      fmt.Sprintf("%d prompts", len(p.Prompts)),
		Color:       color,
	}}
}

func runHelp(ctx context.Context, d *Dispatcher, msg chat.Message, args []string) error {
	if len(args) == 0 {
		lines := []string{"The following commands are available at this time:"}
		for _, c := range d.commands {
			lines = append(lines, " • "+c.Name)
		}
		lines = append(lines, "Get more info about a command with:```"+d.deps.Prefix+"help [command name]```")
		return d.send(ctx, msg.ChannelID, chat.Outgoing{Embed: &chat.Embed{
			Title:       "Commands",
			Description: strings.Join(lines, "\n"),
			Color:       d.color(),
		}})
	}

	c, ok := d.Lookup(args[0])
	if !ok {
		d.reply(ctx, msg, "that command doesn't exist!")
		return nil
	}
	syntax := d.deps.Prefix + c.Name
	if c.Syntax != "" {
		syntax += " " + c.Syntax
	}
	var fields []chat.Field
	if len(c.Aliases) > 0 {
		label := "Alias"
		if len(c.Aliases) > 1 {
			label = "Aliases"
		}
		fields = append(fields, chat.Field{Name: label, Value: "`" + strings.Join(c.Aliases, "`, `") + "`"})
	}
	fields = append(fields, chat.Field{Name: "Syntax", Value: "```" + syntax + "```"})
	return d.send(ctx, msg.ChannelID, chat.Outgoing{Embed: &chat.Embed{
		Title:       c.Name,
		Description: c.Description,
		Fields:      fields,
		Color:       d.color(),
	}})
}

func runRules(ctx context.Context, d *Dispatcher, msg chat.Message, _ []string) error {
	cfg := d.deps.Game.Config
	if err := d.send(ctx, msg.ChannelID, game.RulesMessage(cfg)); err != nil {
		return err
	}
	return d.send(ctx, msg.ChannelID, game.VotingMessage(cfg))
}

func runStats(ctx context.Context, d *Dispatcher, msg chat.Message, _ []string) error {
	fields := []chat.Field{
		{Name: "Ongoing Games", Value: humanize.Comma(int64(d.deps.Game.Registry.Len()))},
	}
	if d.deps.Stats != nil {
		played := "unknown"
		if n, err := d.deps.Stats.CountGames(ctx); err != nil {
			log.Warn().Err(err).Msg("count archived games")
		} else {
			played = humanize.Comma(int64(n))
		}
		fields = append(fields, chat.Field{Name: "Games Played", Value: played})
	}
	version := d.deps.Version
	if version == "" {
		version = "dev"
	}
	fields = append(fields,
		chat.Field{Name: "Uptime", Value: humanize.RelTime(d.started, time.Now(), "", "")},
		chat.Field{Name: "Version", Value: version},
	)
	return d.send(ctx, msg.ChannelID, chat.Outgoing{Embed: &chat.Embed{
		Title:  "Stats",
		Fields: fields,
		Color:  d.color(),
	}})
}

// runClean deletes game categories, and the channels in them, that no live
// game owns anymore.
func runClean(ctx context.Context, d *Dispatcher, msg chat.Message, _ []string) error {
	channels, err := d.platform.Channels(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	registry := d.deps.Game.Registry
	prefix := d.deps.Game.CategoryPrefix
	orphaned := make(map[chat.ChannelID]bool)
	for _, c := range channels {
		if c.Kind == chat.KindCategory && strings.HasPrefix(c.Name, prefix) && !registry.Has(c.ID) {
			orphaned[c.ID] = true
		}
	}
	var errs []error
	for _, c := range channels {
		if c.Kind != chat.KindCategory && orphaned[c.Parent] {
			if err := d.platform.DeleteChannel(ctx, c.ID); err != nil && !errors.Is(err, chat.ErrChannelNotFound) {
				errs = append(errs, err)
			}
		}
	}
	for id := range orphaned {
		if err := d.platform.DeleteChannel(ctx, id); err != nil && !errors.Is(err, chat.ErrChannelNotFound) {
			errs = append(errs, err)
		}
	}
	if len(orphaned) > 0 {
		log.Info().Int("categories", len(orphaned)).Str("user", string(msg.Author.ID)).Msg("cleaned orphaned games")
	}
	return errors.Join(errs...)
}
