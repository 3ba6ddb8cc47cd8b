package battle

// AutoPick is a card chosen for a player who missed the submission deadline,
// with its similarity already resolved.
type AutoPick struct {
	CardID     string
	Similarity float64
}

// TimeoutInput carries externally scored auto-submissions keyed by user id.
type TimeoutInput struct {
	Picks map[string]AutoPick
}

// PlanTimeout chooses the random hand cards a word submission timeout will
// submit, so the caller can score them before applying CheckTimeout. It returns
// nil when no auto-submission is due.
func (e *Engine) PlanTimeout(b Battle, env Env) map[string]string {
	if b.Phase != PhaseWordSubmission || !e.TimedOut(&b, env.Now) {
		return nil
	}
	picks := make(map[string]string)
	for _, p := range b.Players {
		if p.Submitted != nil || len(p.Hand) == 0 {
			continue
		}
		picks[p.UserID] = RandomCard(e.rng, p.Hand)
	}
	return picks
}

func timeoutPresentation(e *Engine, b *Battle, env Env, _ TimeoutInput) ([]Event, error) {
	return e.leave(b, env)
}

func timeoutPlayerAction(e *Engine, b *Battle, env Env, _ TimeoutInput) ([]Event, error) {
	var evs []Event
	for i := range b.Players {
		p := &b.Players[i]
		if p.IsReady {
			continue
		}
		p.IsReady = true
		evs = append(evs, Event{Kind: EventPlayerReady, UserID: p.UserID})
	}
	more, err := e.advance(b, env)
	if err != nil {
		return nil, err
	}
	return append(evs, more...), nil
}

// timeoutWordSubmission submits a random hand card as normal for every player
// who has not submitted. A pick that is missing or no longer in hand is
// replaced by a fresh random card at the neutral score.
func timeoutWordSubmission(e *Engine, b *Battle, env Env, in TimeoutInput) ([]Event, error) {
	var evs []Event
	for i := range b.Players {
		p := &b.Players[i]
		if p.Submitted != nil {
			continue
		}
		pk, ok := in.Picks[p.UserID]
		if !ok || !p.holds(pk.CardID) {
			pk = AutoPick{CardID: RandomCard(e.rng, p.Hand), Similarity: NeutralSimilarity}
		}
		if pk.CardID == "" {
			return nil, precondition("player %s has no card to auto-submit", p.UserID)
		}
		sub := scoreSubmission(env, p, pk.CardID, SubmissionNormal, pk.Similarity)
		p.Submitted = &sub
		evs = append(evs, Event{Kind: EventAutoSubmitted, UserID: p.UserID, Payload: CardSubmittedPayload{Card: sub}})
	}
	more, err := e.advance(b, env)
	if err != nil {
		return nil, err
	}
	return append(evs, more...), nil
}

// timeoutResponse records an explicit call for each silent non-declarer.
func timeoutResponse(e *Engine, b *Battle, env Env, _ TimeoutInput) ([]Event, error) {
	var evs []Event
	for i := range b.Players {
		p := &b.Players[i]
		if p.isDeclarer() || b.response(p.UserID) != nil {
			continue
		}
		b.Responses = append(b.Responses, PlayerResponse{UserID: p.UserID, ResponseType: ResponseCall, RespondedAt: env.Now})
		evs = append(evs, Event{Kind: EventResponded, UserID: p.UserID, Payload: RespondedPayload{Response: ResponseCall}})
	}
	more, err := e.leave(b, env)
	if err != nil {
		return nil, err
	}
	return append(evs, more...), nil
}

func timeoutPointCalculation(e *Engine, b *Battle, env Env, _ TimeoutInput) ([]Event, error) {
	return e.leave(b, env)
}
