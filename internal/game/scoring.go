package game

import (
	"math/rand/v2"
	"slices"

	"github.com/kiliankoe/quipdash/internal/chat"
)

const (
	pairedPoints = 1000
	pairedBonus  = 100
)

// RankedScore is one candidate's result in a shared-prompt vote.
type RankedScore struct {
	Candidate int
	Votes     int
	Rank      int
	Score     int
}

// DenseRankScores orders candidates that received votes by ascending vote
// count and gives each distinct count the next rank starting at 1. Ties share
// a rank. Candidates without votes are left out and score nothing.
func DenseRankScores(votes map[int]int, multiplier int) []RankedScore {
	out := make([]RankedScore, 0, len(votes))
	for candidate, n := range votes {
		if n <= 0 {
			continue
		}
		out = append(out, RankedScore{Candidate: candidate, Votes: n})
	}
	slices.SortFunc(out, func(a, b RankedScore) int {
		if a.Votes != b.Votes {
			return a.Votes - b.Votes
		}
		return a.Candidate - b.Candidate
	})
	rank, last := 0, 0
	for i := range out {
		if i == 0 || out[i].Votes != last {
			rank++
		}
		last = out[i].Votes
		out[i].Rank = rank
		out[i].Score = rank * multiplier
	}
	return out
}

// PairedResult is the outcome of a head-to-head vote.
type PairedResult struct {
	Percent [2]int
	// Raw is the share of the votes, before the winner bonus.
	Raw   [2]int
	Final [2]int
	// Winner is 0 or 1, or -1 for a tie.
	Winner int
}

// PairedScores scores a head-to-head: floor(share × 1000) × multiplier per
// side, plus a 100 × multiplier bonus for a strict winner.
func PairedScores(left, right, multiplier int) PairedResult {
	res := PairedResult{Winner: -1}
	total := left + right
	if total > 0 {
		res.Percent = [2]int{left * 100 / total, right * 100 / total}
		res.Raw = [2]int{left * pairedPoints / total * multiplier, right * pairedPoints / total * multiplier}
	}
	res.Final = res.Raw
	switch {
	case res.Raw[0] > res.Raw[1]:
		res.Winner = 0
	case res.Raw[1] > res.Raw[0]:
		res.Winner = 1
	}
	if res.Winner >= 0 {
		res.Final[res.Winner] += pairedBonus * multiplier
	}
	return res
}

// ShuffleCycle returns a permutation of values forming a single cycle, so no
// element keeps its position when there are at least two.
func ShuffleCycle(rng *rand.Rand, values []int) []int {
	out := slices.Clone(values)
	for i := len(out) - 1; i > 0; i-- {
		j := rng.IntN(i)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// PartnerOf finds the player whose second prompt is first[i].
func PartnerOf(first, second []int, i int) int {
	return slices.Index(second, first[i])
}

// PromptHistory records prompt indices already used in a session.
type PromptHistory struct {
	used  map[int]struct{}
	order []int
}

// Draw picks an unused index in [0, size) uniformly, redrawing on collision,
// and records it.
func (h *PromptHistory) Draw(rng *rand.Rand, size int) (int, error) {
	if h.used == nil {
		h.used = make(map[int]struct{})
	}
	if len(h.used) >= size {
		return 0, ErrPromptsExhausted
	}
	for {
		i := rng.IntN(size)
		if _, ok := h.used[i]; ok {
			continue
		}
		h.used[i] = struct{}{}
		h.order = append(h.order, i)
		return i, nil
	}
}

// Used returns drawn indices in draw order.
func (h *PromptHistory) Used() []int { return slices.Clone(h.order) }

// SoloBallot tallies a shared-prompt vote where each voter has a budget of
// votes they may spread or stack across candidates other than their own.
type SoloBallot struct {
	playerBudget    int
	spectatorBudget int
	spent           map[chat.UserID]int
	votes           map[int]int
}

func NewSoloBallot(playerBudget, spectatorBudget int) *SoloBallot {
	return &SoloBallot{
		playerBudget:    playerBudget,
		spectatorBudget: spectatorBudget,
		spent:           make(map[chat.UserID]int),
		votes:           make(map[int]int),
	}
}

// Cast counts one vote for candidate and reports whether it was accepted.
func (b *SoloBallot) Cast(voter chat.UserID, isPlayer bool, candidate int, author chat.UserID) bool {
	if voter == author {
		return false
	}
	budget := b.spectatorBudget
	if isPlayer {
		budget = b.playerBudget
	}
	if b.spent[voter] >= budget {
		return false
	}
	b.spent[voter]++
	b.votes[candidate]++
	return true
}

func (b *SoloBallot) Votes() map[int]int { return b.votes }

// PairedBallot tallies a head-to-head vote: one vote per voter and the two
// authors cannot take part.
type PairedBallot struct {
	authors [2]chat.UserID
	voted   map[chat.UserID]struct{}
	votes   [2]int
}

func NewPairedBallot(left, right chat.UserID) *PairedBallot {
	return &PairedBallot{authors: [2]chat.UserID{left, right}, voted: make(map[chat.UserID]struct{})}
}

func (b *PairedBallot) Cast(voter chat.UserID, side int) bool {
	if side < 0 || side > 1 || voter == b.authors[0] || voter == b.authors[1] {
		return false
	}
	if _, ok := b.voted[voter]; ok {
		return false
	}
	b.voted[voter] = struct{}{}
	b.votes[side]++
	return true
}

func (b *PairedBallot) Votes() (int, int) { return b.votes[0], b.votes[1] }
