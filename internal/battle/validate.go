package battle

// Checks run in a fixed order: identity, ownership, battle state, phase, then
// resources. None of them mutate the battle.

func validateParticipant(b *Battle, callerID string) error {
	if callerID == "" {
		return ErrUnauthenticated
	}
	if !b.IsParticipant(callerID) {
		return forbidden("user %s is not a participant of battle %s", callerID, b.ID)
	}
	return nil
}

func validateActor(b *Battle, a Actor) (*PlayerState, error) {
	if a.CallerID == "" {
		return nil, ErrUnauthenticated
	}
	if a.CallerID != a.UserID {
		return nil, forbidden("caller %s cannot act for %s", a.CallerID, a.UserID)
	}
	p, _ := b.player(a.UserID)
	if p == nil {
		return nil, forbidden("user %s is not a participant of battle %s", a.UserID, b.ID)
	}
	if b.Status != StatusActive {
		return nil, precondition("battle is %s", b.Status)
	}
	return p, nil
}

func requirePhase(b *Battle, want Phase) error {
	if b.Phase != want {
		return invalidPhase(b.Phase, want)
	}
	return nil
}

// validatePlayerAction covers the shared checks of exchange and generate.
func validatePlayerAction(b *Battle, a Actor) (*PlayerState, error) {
	p, err := validateActor(b, a)
	if err != nil {
		return nil, err
	}
	if err := requirePhase(b, PhasePlayerAction); err != nil {
		return nil, err
	}
	if p.Turn.ActionsRemaining <= 0 {
		return nil, precondition("no actions remaining this round")
	}
	return p, nil
}

// validateHandCards requires ids to be distinct cards currently held by p.
func validateHandCards(p *PlayerState, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return precondition("card %s listed more than once", id)
		}
		seen[id] = struct{}{}
		if !p.holds(id) {
			return precondition("card %s is not in hand", id)
		}
	}
	return nil
}
