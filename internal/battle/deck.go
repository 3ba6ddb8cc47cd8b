package battle

import (
	"math/rand/v2"
	"sync"
)

// Card is a catalog entry.
type Card struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Rarity Rarity `json:"rarity"`
}

// Deck is a player's ordered card list.
type Deck struct {
	ID      string   `json:"id"`
	OwnerID string   `json:"ownerId"`
	CardIDs []string `json:"cardIds"`
}

// Rand is the randomness the engine draws from. *rand.Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

// LockedRand makes a single *rand.Rand safe to share between battles.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewLockedRand(seed1, seed2 uint64) *LockedRand {
	return &LockedRand{r: rand.New(rand.NewPCG(seed1, seed2))}
}

func (l *LockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// Shuffle returns a Fisher–Yates shuffled copy of ids.
func Shuffle(rng Rand, ids []string) []string {
	out := append([]string(nil), ids...)
	for i := len(out) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// pick draws n distinct entries uniformly from candidates.
func pick(rng Rand, candidates []string, n int) []string {
	if n <= 0 {
		return nil
	}
	return Shuffle(rng, candidates)[:n]
}

// without returns ids minus every entry of drop, preserving order.
func without(ids []string, drop ...[]string) []string {
	skip := make(map[string]struct{})
	for _, d := range drop {
		for _, id := range d {
			skip[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := skip[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}

// dedupe keeps the first occurrence of each id.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// DeckRemainder is the part of the deck not currently held in hand.
func DeckRemainder(deck []string, hand []string) []string {
	return without(dedupe(deck), hand)
}

// DealHand shuffles the deck and returns the opening hand.
func DealHand(rng Rand, deck []string) ([]string, error) {
	ids := dedupe(deck)
	if len(ids) < HandSize {
		return nil, precondition("deck holds %d distinct cards, need at least %d", len(ids), HandSize)
	}
	return Shuffle(rng, ids)[:HandSize], nil
}

// IsDeckCard reports whether cardID originates from the given deck.
func IsDeckCard(deck []string, cardID string) bool {
	for _, id := range deck {
		if id == cardID {
			return true
		}
	}
	return false
}

// RandomCard picks one card id uniformly, or "" for an empty pool.
func RandomCard(rng Rand, pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[rng.IntN(len(pool))]
}

// drawSupply lists the cards a draw may take from, given the hand after discards
// are removed. Neither the discards nor the rest of the hand can be drawn.
func drawSupply(src DrawSource, deck, pool, hand, discards []string) []string {
	switch src {
	case DrawFromDeck:
		return without(dedupe(deck), hand, discards)
	default:
		return without(dedupe(pool), hand, discards)
	}
}

// GeneratedWord is the outcome of the generate-word fallback policy.
type GeneratedWord struct {
	CardID  string
	Text    string
	Warning string
}

// ChooseGeneratedCard applies the fallback policy: the first ranked word with an
// exact catalog match wins; otherwise a uniformly random catalog card is used and
// a warning is returned. It never fails while the catalog is non-empty.
func ChooseGeneratedCard(rng Rand, ranked []string, lookup func(text string) (Card, bool), all []Card) (GeneratedWord, bool) {
	for _, w := range ranked {
		if c, ok := lookup(w); ok {
			return GeneratedWord{CardID: c.ID, Text: c.Text}, true
		}
	}
	if len(all) == 0 {
		return GeneratedWord{}, false
	}
	c := all[rng.IntN(len(all))]
	warning := "no generated word matched the card catalog; a random card was substituted"
	if len(ranked) > 0 {
		warning = "generated word \"" + ranked[0] + "\" is not in the card catalog; a random card was substituted"
	}
	return GeneratedWord{CardID: c.ID, Text: c.Text, Warning: warning}, true
}
