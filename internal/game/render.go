package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/kiliankoe/quipdash/internal/chat"
	"github.com/kiliankoe/quipdash/internal/config"
	"github.com/kiliankoe/quipdash/internal/pack"
)

const scoreHeading = "\n**__Score__**\n"

// Candidate is one response shown in a vote.
type Candidate struct {
	Glyph    string
	Response string
	// Name and Result stay empty until the vote is revealed.
	Name   string
	Result string
}

func (c Candidate) field(placeholder string) chat.Field {
	f := chat.Field{Name: c.Glyph, Value: c.Response, Inline: true}
	if f.Value == "" {
		f.Value = placeholder
	}
	if c.Name != "" {
		f.Name += " " + c.Name
	}
	if c.Result != "" {
		f.Value += scoreHeading + c.Result
	}
	return f
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func seconds(d time.Duration) int { return int(d / time.Second) }

func InviteMessage(cfg config.Game, host chat.Member, gameChannel chat.ChannelID) chat.Outgoing {
	return chat.Outgoing{Embed: &chat.Embed{
		Title: "New Quipdash Game",
		Description: fmt.Sprintf("React with %s to join as a player.\nReact with %s to join as a spectator.\nSpectators can vote but can't answer prompts.\nGame channel: %s",
			cfg.Glyphs.JoinPlayer, cfg.Glyphs.JoinSpectator, gameChannel.Link()),
		Author: &chat.Author{Name: host.DisplayName, IconURL: host.AvatarURL},
		Color:  cfg.Colors.Invite,
	}}
}

func RulesMessage(cfg config.Game) chat.Outgoing {
	return chat.Outgoing{Embed: &chat.Embed{
		Title:       "How to Play",
		Description: "The rules are simple:\n**1**. Each player will be sent prompts to respond to.\n**2**. The players and spectators will then vote on which response they like best.\n**3**. Points are awarded based on percentage of votes earned, with bonuses.",
		Color:       cfg.Colors.Rules,
	}}
}

func VotingMessage(cfg config.Game) chat.Outgoing {
	return chat.Outgoing{Embed: &chat.Embed{
		Title: "Voting",
		Description: fmt.Sprintf("Vote on prompts by reacting with the emoji that corresponds to the response you like best.\nFor prompts that all players share:\n • __Players__ have **%d** %s and can vote multiple times for the same answer.\n • __Spectators__ have **%d** %s.\nYou can't ever vote for yourself.",
			cfg.PlayerVotes, plural(cfg.PlayerVotes, "vote"), cfg.SpectatorVotes, plural(cfg.SpectatorVotes, "vote")),
		Color: cfg.Colors.Vote,
	}}
}

func PackMessage(cfg config.Game, p pack.Pack) chat.Outgoing {
	return chat.Outgoing{Embed: &chat.Embed{
		Title:       "Prompt Pack: " + p.Name,
		Description: p.Description,
		Color:       cfg.Colors.Rules,
		Footer:      fmt.Sprintf("%d prompts", len(p.Prompts)),
	}}
}

func HostHint(host chat.User) chat.Outgoing {
	return chat.Text(host.Mention() + ", say `start` to start the game, or `end` to abort it at any time.")
}

func QuitHint() chat.Outgoing {
	return chat.Text("Everyone else, say `quit` any time before the game starts to leave.")
}

func RosterMessage(cfg config.Game, roster []chat.User) chat.Outgoing {
	var sb strings.Builder
	for _, u := range roster {
		sb.WriteString(u.Mention())
		sb.WriteString("\n")
	}
	return chat.Outgoing{Embed: &chat.Embed{Title: "Players", Description: sb.String(), Color: cfg.Colors.PlayerList}}
}

func SetupPendingNotice(user chat.User) chat.Outgoing {
	return chat.Text(user.Mention() + ", the game is still setting up, please wait a second and try again.")
}

func JoinFailedNotice(user chat.User) chat.Outgoing {
	return chat.Text(user.Mention() + ", an error occurred while adding you to the game, please try joining again.")
}

func MinPlayersNotice(min int) chat.Outgoing {
	return chat.Text(fmt.Sprintf("You need at least %d players to start!", min))
}

func PackTooSmallNotice(players int) chat.Outgoing {
	return chat.Text(fmt.Sprintf("For **%d** players, you need a pack with at least **%d** prompts.  Either some players need to quit or a new game should be created with a different pack.", players, players*2+1))
}

// RoundMessage announces a round in the game channel.
func RoundMessage(cfg config.Game, number, prompts int) chat.Outgoing {
	return chat.Outgoing{Embed: &chat.Embed{
		Title:       fmt.Sprintf("Round #%d", number),
		Description: fmt.Sprintf("Players, check your private channel for your %s.", plural(prompts, "prompt")),
		Color:       cfg.Colors.PromptDelay,
	}}
}

// RoundBanner warns a player in their own channel that a round is coming.
func RoundBanner(cfg config.Game, user chat.User, number int) chat.Outgoing {
	return chat.Outgoing{
		Content: user.Mention(),
		Embed: &chat.Embed{
			Title:       fmt.Sprintf("Round #%d", number),
			Description: fmt.Sprintf("Beginning in %d seconds.", seconds(cfg.RoundDelay)),
			Color:       cfg.Colors.PromptDelay,
		},
	}
}

// PromptReveal shows a prompt to a player. which is 0 when the round has a
// single prompt, otherwise 1 or 2.
func PromptReveal(cfg config.Game, number, which int, prompt string) chat.Outgoing {
	title := fmt.Sprintf("Round #%d", number)
	if which > 0 {
		title = fmt.Sprintf("Round #%d, Prompt #%d", number, which)
	}
	return chat.Outgoing{Embed: &chat.Embed{Title: title, Description: prompt, Color: cfg.Colors.Prompt}}
}

func OutOfTimeMessage(cfg config.Game, gameChannel chat.ChannelID) chat.Outgoing {
	return chat.Outgoing{Embed: &chat.Embed{
		Title:       "You ran out of time to answer!",
		Description: "Click here to return to the game: " + gameChannel.Link(),
		Color:       cfg.Colors.PromptsFailed,
	}}
}

func AllAnsweredMessage(cfg config.Game, gameChannel chat.ChannelID) chat.Outgoing {
	return chat.Outgoing{Embed: &chat.Embed{
		Title:       "All prompts answered!",
		Description: "Click here to return to the game: " + gameChannel.Link(),
		Color:       cfg.Colors.PromptsSuccess,
	}}
}

// TimerMessage renders a progress timer with the given bar.
func TimerMessage(title, action string, d time.Duration, bar string, color int) chat.Outgoing {
	return chat.Outgoing{Embed: &chat.Embed{
		Title:       title,
		Description: fmt.Sprintf("You have **%d** seconds to %s.", seconds(d), action),
		Fields:      []chat.Field{{Name: "Time remaining", Value: bar}},
		Color:       color,
	}}
}

func SoloPromptMessage(cfg config.Game, number int, prompt string, candidates []Candidate) chat.Outgoing {
	fields := make([]chat.Field, len(candidates))
	for i, c := range candidates {
		fields[i] = c.field(cfg.NoResponsePlaceholder)
	}
	return chat.Outgoing{Embed: &chat.Embed{
		Title:       fmt.Sprintf("Round #%d", number),
		Description: prompt,
		Fields:      fields,
		Color:       cfg.Colors.Prompt,
	}}
}

func PairedPromptMessage(cfg config.Game, number, index, total int, prompt string, candidates [2]Candidate) chat.Outgoing {
	return chat.Outgoing{Embed: &chat.Embed{
		Title:       fmt.Sprintf("Round #%d, Prompt %d/%d", number, index, total),
		Description: prompt,
		Fields:      []chat.Field{candidates[0].field(cfg.NoResponsePlaceholder), candidates[1].field(cfg.NoResponsePlaceholder)},
		Color:       cfg.Colors.Prompt,
	}}
}

func SpecialVoteMessage(cfg config.Game) chat.Outgoing {
	return chat.Outgoing{Embed: &chat.Embed{
		Title: "Special Vote",
		Description: fmt.Sprintf("__Players__ have **%d** %s and can vote multiple times for the same answer.\n__Spectators__ have **%d** %s.\nYou can't vote for yourself.",
			cfg.PlayerVotes, plural(cfg.PlayerVotes, "vote"), cfg.SpectatorVotes, plural(cfg.SpectatorVotes, "vote")),
		Color: cfg.Colors.Vote,
	}}
}

func NoResponsesMessage(cfg config.Game) chat.Outgoing {
	return chat.Outgoing{Embed: &chat.Embed{
		Title:       "No responses submitted!",
		Description: "No points for anyone!",
		Color:       cfg.Colors.PromptsFailed,
	}}
}

// MatchResultMessage reports the totals of both sides of a head-to-head. A
// nil winner renders a tie; bonus is shown in the title when positive.
func MatchResultMessage(cfg config.Game, left, right, winner *Player, bonus int) chat.Outgoing {
	e := &chat.Embed{
		Title:       "Tie",
		Description: fmt.Sprintf("**%s**: %d\n**%s**: %d", left.Name(), left.Score(), right.Name(), right.Score()),
		Color:       cfg.Colors.PlayerList,
	}
	if winner != nil {
		e.Title = "Prompt Winner"
		if bonus > 0 {
			e.Title = fmt.Sprintf("Prompt Winner (+%d bonus points)", bonus)
		}
		m := winner.Member()
		e.Author = &chat.Author{Name: m.DisplayName, IconURL: m.AvatarURL}
	}
	return chat.Outgoing{Embed: e}
}

func ScoreboardMessage(cfg config.Game, standings []Standing) chat.Outgoing {
	var sb strings.Builder
	for i, s := range standings {
		fmt.Fprintf(&sb, "**%d. %s**: %d\n", i+1, s.Name, s.Score)
	}
	return chat.Outgoing{Embed: &chat.Embed{Title: "Scoreboard", Description: sb.String(), Color: cfg.Colors.Scoreboard}}
}

func WinnerMessage(cfg config.Game, winner Standing) chat.Outgoing {
	return chat.Outgoing{Embed: &chat.Embed{
		Title:       "Winner",
		Description: fmt.Sprintf("%s: %d points", winner.Name, winner.Score),
		Color:       cfg.Colors.PromptsSuccess,
	}}
}
