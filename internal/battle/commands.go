package battle

import "time"

// NeutralSimilarity is used whenever the similarity oracle cannot answer.
const NeutralSimilarity = 0.5

// Actor identifies who issues a player action and on whose behalf.
type Actor struct {
	CallerID string
	UserID   string
}

type SetReady struct {
	Actor
}

func (c SetReady) validate(e *Engine, b *Battle, env Env) error {
	if _, err := validateActor(b, c.Actor); err != nil {
		return err
	}
	return requirePhase(b, PhasePlayerAction)
}

func (c SetReady) apply(e *Engine, b *Battle, env Env) ([]Event, error) {
	p, _ := b.player(c.UserID)
	if p.IsReady {
		return nil, nil
	}
	p.IsReady = true
	p.LastActionTime = env.Now
	evs := []Event{{Kind: EventPlayerReady, UserID: c.UserID}}
	more, err := e.advance(b, env)
	if err != nil {
		return nil, err
	}
	return append(evs, more...), nil
}

// SubmitCard carries the oracle similarity already normalized to [0,1].
type SubmitCard struct {
	Actor
	CardID     string
	Type       SubmissionType
	Similarity float64
}

func (c SubmitCard) validate(e *Engine, b *Battle, env Env) error {
	p, err := validateActor(b, c.Actor)
	if err != nil {
		return err
	}
	if err := requirePhase(b, PhaseWordSubmission); err != nil {
		return err
	}
	if !c.Type.Valid() {
		return precondition("unknown submission type %q", c.Type)
	}
	if p.Submitted != nil {
		return precondition("card already submitted this round")
	}
	if !p.holds(c.CardID) {
		return precondition("card %s is not in hand", c.CardID)
	}
	return nil
}

func (c SubmitCard) apply(e *Engine, b *Battle, env Env) ([]Event, error) {
	p, _ := b.player(c.UserID)
	sub := scoreSubmission(env, p, c.CardID, c.Type, c.Similarity)
	p.Submitted = &sub
	p.LastActionTime = env.Now

	evs := []Event{{Kind: EventCardSubmitted, UserID: c.UserID, Payload: CardSubmittedPayload{Card: sub}}}
	more, err := e.advance(b, env)
	if err != nil {
		return nil, err
	}
	return append(evs, more...), nil
}

func scoreSubmission(env Env, p *PlayerState, cardID string, t SubmissionType, similarity float64) SubmittedCard {
	card, _ := env.Catalog.Card(cardID)
	isDeck := IsDeckCard(env.deckCards(p.DeckID), cardID)
	similarity = clamp01(similarity)
	bonus, final := FinalScore(similarity, card.Rarity, isDeck)
	return SubmittedCard{
		CardID:          cardID,
		SubmissionType:  t,
		SimilarityScore: similarity,
		RarityBonus:     bonus,
		FinalScore:      final,
		IsDeckCard:      isDeck,
		SubmittedAt:     env.Now,
	}
}

type Respond struct {
	Actor
	Type ResponseType
}

func (c Respond) validate(e *Engine, b *Battle, env Env) error {
	p, err := validateActor(b, c.Actor)
	if err != nil {
		return err
	}
	if err := requirePhase(b, PhaseResponse); err != nil {
		return err
	}
	if !c.Type.Valid() {
		return precondition("unknown response type %q", c.Type)
	}
	if p.isDeclarer() {
		return precondition("a declarer cannot respond to a declaration")
	}
	if b.response(c.UserID) != nil {
		return precondition("already responded this round")
	}
	return nil
}

func (c Respond) apply(e *Engine, b *Battle, env Env) ([]Event, error) {
	p, _ := b.player(c.UserID)
	p.LastActionTime = env.Now
	b.Responses = append(b.Responses, PlayerResponse{UserID: c.UserID, ResponseType: c.Type, RespondedAt: env.Now})

	evs := []Event{{Kind: EventResponded, UserID: c.UserID, Payload: RespondedPayload{Response: c.Type}}}
	more, err := e.advance(b, env)
	if err != nil {
		return nil, err
	}
	return append(evs, more...), nil
}

type ExchangeCards struct {
	Actor
	Discards []string
	Source   DrawSource
}

func (c ExchangeCards) validate(e *Engine, b *Battle, env Env) error {
	p, err := validatePlayerAction(b, c.Actor)
	if err != nil {
		return err
	}
	n := len(c.Discards)
	if n < 1 || n > HandSize {
		return precondition("discard between 1 and %d cards, got %d", HandSize, n)
	}
	if err := validateHandCards(p, c.Discards); err != nil {
		return err
	}
	switch c.Source {
	case DrawFromDeck:
		if p.Turn.DeckCardsRemaining < n {
			return precondition("deck has %d cards remaining, need %d", p.Turn.DeckCardsRemaining, n)
		}
	case DrawFromPool:
	default:
		return precondition("unknown draw source %q", c.Source)
	}
	supply := drawSupply(c.Source, env.deckCards(p.DeckID), env.Catalog.IDs(), p.Hand, c.Discards)
	if len(supply) < n {
		return precondition("%s supply has %d drawable cards, need %d", c.Source, len(supply), n)
	}
	return nil
}

func (c ExchangeCards) apply(e *Engine, b *Battle, env Env) ([]Event, error) {
	p, _ := b.player(c.UserID)
	n := len(c.Discards)
	supply := drawSupply(c.Source, env.deckCards(p.DeckID), env.Catalog.IDs(), p.Hand, c.Discards)
	drawn := pick(e.rng, supply, n)

	p.Hand = append(without(p.Hand, c.Discards), drawn...)
	if c.Source == DrawFromDeck {
		p.Turn.DeckCardsRemaining -= n
	}
	spendAction(p, ActionLog{
		Kind:      ActionExchange,
		CardsIn:   drawn,
		CardsOut:  append([]string(nil), c.Discards...),
		Source:    c.Source,
		Timestamp: env.Now,
	})
	return []Event{{
		Kind:    EventCardsExchanged,
		UserID:  c.UserID,
		Payload: CardsExchangedPayload{Discarded: c.Discards, Drawn: drawn, Source: c.Source},
	}}, nil
}

// GenerateWord carries the card already chosen by the fallback policy.
type GenerateWord struct {
	Actor
	Positive  []string
	Negative  []string
	Generated GeneratedWord
}

func (c GenerateWord) validate(e *Engine, b *Battle, env Env) error {
	p, err := validatePlayerAction(b, c.Actor)
	if err != nil {
		return err
	}
	total := len(c.Positive) + len(c.Negative)
	if total < 2 || total > HandSize {
		return precondition("generate word uses between 2 and %d cards, got %d", HandSize, total)
	}
	if len(c.Positive) == 0 {
		return precondition("generate word needs at least one positive card")
	}
	return validateHandCards(p, append(append([]string(nil), c.Positive...), c.Negative...))
}

func (c GenerateWord) apply(e *Engine, b *Battle, env Env) ([]Event, error) {
	if c.Generated.CardID == "" {
		return nil, precondition("no card was generated")
	}
	p, _ := b.player(c.UserID)
	used := append(append([]string(nil), c.Positive...), c.Negative...)

	hand := without(p.Hand, used)
	if !contains(hand, c.Generated.CardID) {
		hand = append(hand, c.Generated.CardID)
	}
	var refill []string
	if missing := HandSize - len(hand); missing > 0 {
		supply := without(env.Catalog.IDs(), hand, used)
		refill = pick(e.rng, supply, min(missing, len(supply)))
		hand = append(hand, refill...)
	}
	p.Hand = hand

	spendAction(p, ActionLog{
		Kind:      ActionGenerate,
		CardsIn:   append([]string{c.Generated.CardID}, refill...),
		CardsOut:  used,
		Source:    DrawFromPool,
		Timestamp: env.Now,
	})
	return []Event{{
		Kind:   EventWordGenerated,
		UserID: c.UserID,
		Payload: WordGeneratedPayload{
			CardID:  c.Generated.CardID,
			Text:    c.Generated.Text,
			Used:    used,
			Refill:  refill,
			Warning: c.Generated.Warning,
		},
	}}, nil
}

func spendAction(p *PlayerState, entry ActionLog) {
	if p.Turn.ActionsRemaining > 0 {
		p.Turn.ActionsRemaining--
	}
	p.Turn.ActionsLog = append(p.Turn.ActionsLog, entry)
	p.LastActionTime = entry.Timestamp
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type StartNextRound struct {
	CallerID string
}

func (c StartNextRound) validate(e *Engine, b *Battle, env Env) error {
	if err := validateParticipant(b, c.CallerID); err != nil {
		return err
	}
	if b.Status != StatusActive {
		return precondition("battle is %s", b.Status)
	}
	return requirePhase(b, PhasePointCalculation)
}

func (c StartNextRound) apply(e *Engine, b *Battle, env Env) ([]Event, error) {
	return e.startRound(b, env), nil
}

// CheckTimeout applies the current phase's default when its budget has elapsed.
// Without an elapsed deadline it produces no events.
type CheckTimeout struct {
	CallerID string
	Input    TimeoutInput
}

func (c CheckTimeout) validate(e *Engine, b *Battle, env Env) error {
	return validateParticipant(b, c.CallerID)
}

func (c CheckTimeout) apply(e *Engine, b *Battle, env Env) ([]Event, error) {
	if !e.TimedOut(b, env.Now) {
		return nil, nil
	}
	return phaseSpecs[b.Phase].onTimeout(e, b, env, c.Input)
}

// TimedOut reports whether b's current phase budget is exceeded at now.
// A finished battle never times out.
func (e *Engine) TimedOut(b *Battle, now time.Time) bool {
	return b.Status == StatusActive && e.budgets.expired(b, now)
}

type SetConnected struct {
	CallerID  string
	Connected bool
}

func (c SetConnected) validate(e *Engine, b *Battle, env Env) error {
	return validateParticipant(b, c.CallerID)
}

func (c SetConnected) apply(e *Engine, b *Battle, env Env) ([]Event, error) {
	p, _ := b.player(c.CallerID)
	if p.IsConnected == c.Connected {
		return nil, nil
	}
	p.IsConnected = c.Connected
	return []Event{{Kind: EventConnection, UserID: c.CallerID, Payload: ConnectionPayload{Connected: c.Connected}}}, nil
}
