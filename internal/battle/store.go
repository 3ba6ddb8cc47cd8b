package battle

import (
	"context"
	"errors"
)

// ErrConflict is returned when a read-modify-write kept losing to concurrent writers.
var ErrConflict = errors.New("battle: concurrent modification, retries exhausted")

// MutateFunc computes the next state. Returning changed=false skips the write.
type MutateFunc func(cur Battle) (next Battle, changed bool, err error)

// BattleStore persists battles with single-writer read-modify-write semantics:
// no two Mutate calls on the same battle interleave, and a failing fn writes nothing.
type BattleStore interface {
	Create(ctx context.Context, b Battle) error
	Load(ctx context.Context, battleID string) (Battle, error)
	Mutate(ctx context.Context, battleID string, fn MutateFunc) (Battle, error)
	// ListActiveByUser returns the active battles the user plays in.
	ListActiveByUser(ctx context.Context, userID string) ([]Battle, error)
}
