package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiliankoe/quipdash/internal/chat"
	"github.com/kiliankoe/quipdash/internal/config"
)

const archiveTimeout = 5 * time.Second

// run plays every round, announces the winner and tears the game down after
// the disband delay. It stops early, without side effects, once the game
// context is cancelled.
func (g *Game) run() {
	if err := g.playRounds(g.ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			g.log.Error().Err(err).Msg("round loop stopped")
			g.EndGame()
		}
		return
	}
	if g.ctx.Err() != nil {
		return
	}

	standings := g.Standings()
	if len(standings) > 0 {
		g.send(WinnerMessage(g.cfg, standings[0]))
	}
	g.record(standings)

	if err := sleep(g.ctx, g.cfg.DisbandDelay); err != nil {
		return
	}
	g.EndGame()
}

func (g *Game) playRounds(ctx context.Context) error {
	for i, round := range g.cfg.Rounds {
		if err := ctx.Err(); err != nil {
			return err
		}
		number := i + 1
		g.send(RoundMessage(g.cfg, number, round.Prompts))

		var err error
		if round.Prompts == 2 {
			err = g.pairedRound(ctx, number, round)
		} else {
			err = g.soloRound(ctx, number, round)
		}
		if err != nil {
			return err
		}

		g.send(ScoreboardMessage(g.cfg, g.Standings()))
		if err := sleep(ctx, g.cfg.VotingInterim); err != nil {
			return err
		}
	}
	return nil
}

// drawPrompt picks an unused prompt and records it for the round.
func (g *Game) drawPrompt(number int, round config.Round) (string, error) {
	i, err := g.history.Draw(g.rng, len(g.pack.Prompts))
	if err != nil {
		return "", err
	}
	prompt := g.pack.Render(i)
	if n := len(g.rounds); n == 0 || g.rounds[n-1].Number != number {
		g.rounds = append(g.rounds, RoundRecord{Number: number, Multiplier: round.Multiplier})
	}
	g.rounds[len(g.rounds)-1].Prompts = append(g.rounds[len(g.rounds)-1].Prompts, prompt)
	return prompt, nil
}

func (g *Game) answerWindow(round config.Round) time.Duration {
	return g.cfg.RoundDelay + round.Duration + g.cfg.PropagationGrace
}

// soloRound gives every player the same prompt and lets everyone vote on the
// answers with their vote budget. Scores follow the dense rank of the votes.
func (g *Game) soloRound(ctx context.Context, number int, round config.Round) error {
	prompt, err := g.drawPrompt(number, round)
	if err != nil {
		return err
	}
	players := g.Players()
	for _, p := range players {
		go p.GivePrompts(number, round.Duration, prompt, "")
	}
	if err := sleep(ctx, g.answerWindow(round)); err != nil {
		return err
	}

	candidates := make([]Candidate, len(players))
	owners := make(map[string]int)
	var glyphs []string
	for j, p := range players {
		glyph := config.Numbers[j+1]
		candidates[j] = Candidate{Glyph: glyph, Response: p.Response(0)}
		if candidates[j].Response != "" {
			owners[glyph] = j
			glyphs = append(glyphs, glyph)
		}
	}
	msg, ok := g.sendID(SoloPromptMessage(g.cfg, number, prompt, candidates))
	if !ok || len(glyphs) == 0 {
		return ctx.Err()
	}
	ballot := NewSoloBallot(g.cfg.PlayerVotes, g.cfg.SpectatorVotes)
	sub := g.deps.Platform.Reactions(g.Channel(), msg, chat.Glyphs(glyphs...))
	defer sub.Stop()
	g.react(msg, glyphs...)
	g.send(SpecialVoteMessage(g.cfg))
	err = g.collectVotes(ctx, sub, func(ev chat.ReactionEvent) {
		j := owners[ev.Glyph]
		ballot.Cast(ev.User.ID, g.isPlayer(ev.User.ID), j, players[j].User().ID)
	})
	if err != nil {
		return err
	}
	sub.Stop()

	for j, p := range players {
		candidates[j].Name = p.Name()
	}
	g.edit(msg, SoloPromptMessage(g.cfg, number, prompt, candidates))

	for _, r := range DenseRankScores(ballot.Votes(), round.Multiplier) {
		players[r.Candidate].AddScore(r.Score)
		candidates[r.Candidate].Result = fmt.Sprintf("%d votes, %d points", r.Votes, r.Score)
		g.edit(msg, SoloPromptMessage(g.cfg, number, prompt, candidates))
		if err := sleep(ctx, g.cfg.RevealDelay); err != nil {
			return err
		}
	}
	return nil
}

// pairedRound gives every player two prompts. Each prompt goes to two
// players, and their answers face each other in a head-to-head vote.
func (g *Game) pairedRound(ctx context.Context, number int, round config.Round) error {
	players := g.Players()
	first := make([]int, len(players))
	for i := range players {
		idx, err := g.history.Draw(g.rng, len(g.pack.Prompts))
		if err != nil {
			return err
		}
		first[i] = idx
	}
	second := ShuffleCycle(g.rng, first)
	record := RoundRecord{Number: number, Multiplier: round.Multiplier}
	for _, idx := range first {
		record.Prompts = append(record.Prompts, g.pack.Render(idx))
	}
	g.rounds = append(g.rounds, record)

	for i, p := range players {
		go p.GivePrompts(number, round.Duration, g.pack.Render(first[i]), g.pack.Render(second[i]))
	}
	if err := sleep(ctx, g.answerWindow(round)); err != nil {
		return err
	}

	for j, left := range players {
		right := players[PartnerOf(first, second, j)]
		if err := g.pairedMatch(ctx, number, j+1, len(players), g.pack.Render(first[j]), round, left, right); err != nil {
			return err
		}
		if err := sleep(ctx, g.cfg.VotingInterim); err != nil {
			return err
		}
	}
	return nil
}

// pairedMatch resolves one prompt answered by left (as their first answer)
// and right (as their second).
func (g *Game) pairedMatch(ctx context.Context, number, index, total int, prompt string, round config.Round, left, right *Player) error {
	glyphs := g.cfg.Glyphs
	candidates := [2]Candidate{
		{Glyph: glyphs.Vote1, Response: left.Response(0)},
		{Glyph: glyphs.Vote2, Response: right.Response(1)},
	}
	msg, ok := g.sendID(PairedPromptMessage(g.cfg, number, index, total, prompt, candidates))
	if err := ctx.Err(); err != nil {
		return err
	}

	switch {
	case candidates[0].Response == "" && candidates[1].Response == "":
		g.send(NoResponsesMessage(g.cfg))
		return nil
	case candidates[0].Response == "" || candidates[1].Response == "":
		winner := left
		if candidates[0].Response == "" {
			winner = right
		}
		winner.AddScore(pairedPoints * round.Multiplier)
		g.send(MatchResultMessage(g.cfg, left, right, winner, 0))
		return nil
	case !ok:
		return nil
	}

	ballot := NewPairedBallot(left.User().ID, right.User().ID)
	sub := g.deps.Platform.Reactions(g.Channel(), msg, chat.Glyphs(glyphs.Vote1, glyphs.Vote2))
	defer sub.Stop()
	g.react(msg, glyphs.Vote1, glyphs.Vote2)
	err := g.collectVotes(ctx, sub, func(ev chat.ReactionEvent) {
		side := 0
		if ev.Glyph == glyphs.Vote2 {
			side = 1
		}
		ballot.Cast(ev.User.ID, side)
	})
	if err != nil {
		return err
	}
	sub.Stop()

	v1, v2 := ballot.Votes()
	res := PairedScores(v1, v2, round.Multiplier)
	for i, p := range []*Player{left, right} {
		candidates[i].Name = p.Name()
		candidates[i].Result = fmt.Sprintf("%d%%, %d points", res.Percent[i], res.Raw[i])
	}
	g.edit(msg, PairedPromptMessage(g.cfg, number, index, total, prompt, candidates))

	left.AddScore(res.Final[0])
	right.AddScore(res.Final[1])
	var winner *Player
	switch res.Winner {
	case 0:
		winner = left
	case 1:
		winner = right
	}
	g.send(MatchResultMessage(g.cfg, left, right, winner, pairedBonus*round.Multiplier))
	return nil
}

// collectVotes feeds reactions to cast for the voting duration while a timer
// counts down. Every reaction is taken back once counted so it can be reused.
func (g *Game) collectVotes(ctx context.Context, sub *chat.Subscription[chat.ReactionEvent], cast func(chat.ReactionEvent)) error {
	g.startTimer(ctx, g.cfg.VotingDuration, "Voting", "vote")
	window := time.NewTimer(g.cfg.VotingDuration)
	defer window.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-window.C:
			return ctx.Err()
		case ev := <-sub.Events():
			cast(ev)
			if err := g.deps.Platform.Unreact(ctx, ev.ChannelID, ev.MessageID, ev.Glyph, ev.User.ID); err != nil {
				g.log.Debug().Err(err).Msg("retract vote")
			}
		}
	}
}

func (g *Game) startTimer(ctx context.Context, d time.Duration, title, action string) {
	t := NewTimer(g.deps.Platform, g.Channel(), d, title, action, styleOf(g.cfg))
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Cancel()
	}
	g.timer = t
	g.mu.Unlock()
	if err := t.Initialize(ctx); err != nil {
		g.log.Warn().Err(err).Msg("start voting timer")
		return
	}
	go t.Start(ctx)
}

func (g *Game) send(msg chat.Outgoing) {
	g.sendID(msg)
}

func (g *Game) sendID(msg chat.Outgoing) (chat.MessageID, bool) {
	id, err := g.deps.Platform.Send(g.ctx, g.Channel(), msg)
	if err != nil {
		if g.ctx.Err() == nil {
			g.log.Warn().Err(err).Msg("send to game channel")
		}
		return "", false
	}
	return id, true
}

func (g *Game) edit(id chat.MessageID, msg chat.Outgoing) {
	if err := g.deps.Platform.Edit(g.ctx, g.Channel(), id, msg); err != nil && g.ctx.Err() == nil {
		g.log.Warn().Err(err).Msg("edit game message")
	}
}

func (g *Game) react(id chat.MessageID, glyphs ...string) {
	for _, glyph := range glyphs {
		if err := g.deps.Platform.React(g.ctx, g.Channel(), id, glyph); err != nil && g.ctx.Err() == nil {
			g.log.Warn().Err(err).Str("glyph", glyph).Msg("add vote reaction")
		}
	}
}

// record stores the result of a finished game in the archive and the export
// file, whichever are configured.
func (g *Game) record(standings []Standing) {
	g.mu.Lock()
	res := Result{
		ID:        string(g.category),
		Number:    g.number,
		Pack:      g.pack.Name,
		Host:      g.host,
		Standings: standings,
		Rounds:    g.rounds,
		StartedAt: g.startedAt,
		EndedAt:   time.Now().UTC(),
	}
	g.mu.Unlock()

	if g.deps.Archive != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(g.ctx), archiveTimeout)
		defer cancel()
		if err := g.deps.Archive.RecordGame(ctx, res); err != nil {
			g.log.Error().Err(err).Msg("archive game")
		}
	}
	if g.deps.ExportFile != "" {
		if err := ExportResult(res, g.deps.ExportFile); err != nil {
			g.log.Error().Err(err).Str("file", g.deps.ExportFile).Msg("export game")
		}
	}
}
