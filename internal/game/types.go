package game

import (
	"context"
	"errors"
	"time"

	"github.com/kiliankoe/quipdash/internal/chat"
)

type State string

const (
	StateLobby   State = "Lobby"
	StateRunning State = "Running"
	StateEnded   State = "Ended"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidPhase     = errors.New("invalid phase for action")
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrPackTooSmall     = errors.New("pack has too few prompts for this roster")
	ErrLobbyFull        = errors.New("lobby is full")
	ErrAlreadyJoined    = errors.New("already joined")
	ErrNotJoined        = errors.New("not in the roster")
	ErrPromptsExhausted = errors.New("every prompt in the pack has been used")
)

// Standing is a player's position on the scoreboard.
type Standing struct {
	UserID chat.UserID `json:"userId"`
	Name   string      `json:"name"`
	Score  int         `json:"score"`
}

// RoundRecord lists the prompts drawn for one round.
type RoundRecord struct {
	Number     int      `json:"number"`
	Multiplier int      `json:"multiplier"`
	Prompts    []string `json:"prompts"`
}

// Result summarizes a game that ran to completion.
type Result struct {
	ID        string        `json:"id"`
	Number    int           `json:"number"`
	Pack      string        `json:"pack"`
	Host      chat.User     `json:"host"`
	Standings []Standing    `json:"standings"`
	Rounds    []RoundRecord `json:"rounds"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt"`
}

// Winner is the first standing, if any.
func (r Result) Winner() (Standing, bool) {
	if len(r.Standings) == 0 {
		return Standing{}, false
	}
	return r.Standings[0], true
}

// Archive stores finished games.
type Archive interface {
	RecordGame(ctx context.Context, r Result) error
}

// Summary is a read-only view of a live game.
type Summary struct {
	ID      chat.ChannelID `json:"id"`
	Number  int            `json:"number"`
	Pack    string         `json:"pack"`
	Host    string         `json:"host"`
	State   State          `json:"state"`
	Players int            `json:"players"`
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
