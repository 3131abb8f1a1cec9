package game

import (
	"slices"
	"sync"

	"github.com/kiliankoe/quipdash/internal/chat"
)

// Registry maps a game's category channel to the game so events arriving in
// that scope can be routed. Games add themselves once their category exists
// and remove themselves on teardown.
type Registry struct {
	mu    sync.RWMutex
	games map[chat.ChannelID]*Game
	count int
}

func NewRegistry() *Registry {
	return &Registry{games: make(map[chat.ChannelID]*Game)}
}

// Next returns the number for a new game.
func (r *Registry) Next() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return r.count
}

func (r *Registry) Add(id chat.ChannelID, g *Game) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[id] = g
}

func (r *Registry) Get(id chat.ChannelID) (*Game, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.games[id]
	if g == nil {
		return nil, ErrSessionNotFound
	}
	return g, nil
}

func (r *Registry) Has(id chat.ChannelID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.games[id]
	return ok
}

func (r *Registry) Remove(id chat.ChannelID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.games, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// Games returns the live games ordered by number.
func (r *Registry) Games() []*Game {
	r.mu.RLock()
	out := make([]*Game, 0, len(r.games))
	for _, g := range r.games {
		out = append(out, g)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Game) int { return a.Number() - b.Number() })
	return out
}
