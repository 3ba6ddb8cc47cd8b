package battle

import (
	"sort"
	"time"
)

// Catalog is an indexed snapshot of every card, used for field cards, pool draws
// and resolving card text.
type Catalog struct {
	cards  []Card
	ids    []string
	byID   map[string]Card
	byText map[string]Card
}

func NewCatalog(cards []Card) *Catalog {
	c := &Catalog{
		cards:  append([]Card(nil), cards...),
		byID:   make(map[string]Card, len(cards)),
		byText: make(map[string]Card, len(cards)),
	}
	for _, card := range cards {
		if _, dup := c.byID[card.ID]; dup {
			continue
		}
		c.byID[card.ID] = card
		c.ids = append(c.ids, card.ID)
		if _, taken := c.byText[card.Text]; !taken {
			c.byText[card.Text] = card
		}
	}
	return c
}

func (c *Catalog) Card(id string) (Card, bool) {
	card, ok := c.byID[id]
	return card, ok
}

func (c *Catalog) ByText(text string) (Card, bool) {
	card, ok := c.byText[text]
	return card, ok
}

func (c *Catalog) Text(id string) string {
	return c.byID[id].Text
}

func (c *Catalog) IDs() []string { return c.ids }

func (c *Catalog) Cards() []Card { return c.cards }

func (c *Catalog) Len() int { return len(c.ids) }

// Env carries everything a command needs from outside the aggregate.
type Env struct {
	Now     time.Time
	Catalog *Catalog
	Decks   map[string]Deck // by deck id
}

func (env Env) deckCards(deckID string) []string {
	return env.Decks[deckID].CardIDs
}

// Engine applies commands to a battle. It holds no per-battle state.
type Engine struct {
	budgets  Budgets
	winScore int
	rng      Rand
}

func NewEngine(budgets Budgets, winScore int, rng Rand) *Engine {
	if winScore <= 0 {
		winScore = DefaultWinScore
	}
	return &Engine{budgets: budgets, winScore: winScore, rng: rng}
}

func (e *Engine) Budgets() Budgets { return e.budgets }

// Command is a player action or system poll applied to a battle.
type Command interface {
	validate(e *Engine, b *Battle, env Env) error
	apply(e *Engine, b *Battle, env Env) ([]Event, error)
}

// Apply runs cmd against a copy of b. On error b is returned unchanged.
func (e *Engine) Apply(b Battle, env Env, cmd Command) (Battle, []Event, error) {
	if err := cmd.validate(e, &b, env); err != nil {
		return b, nil, err
	}
	next := b.Clone()
	evs, err := cmd.apply(e, &next, env)
	if err != nil {
		return b, nil, err
	}
	if len(evs) > 0 {
		next.UpdatedAt = env.Now
	}
	return next, evs, nil
}

// Validate runs only the checks of cmd, without producing a new state.
func (e *Engine) Validate(b Battle, env Env, cmd Command) error {
	return cmd.validate(e, &b, env)
}

// CreateInput describes a new battle. PlayerIDs and DeckIDs are index-aligned.
type CreateInput struct {
	ID        string
	CallerID  string
	PlayerIDs []string
	DeckIDs   []string
}

// NewBattle validates the participants and decks, deals opening hands and starts
// round 1 in field card presentation.
func (e *Engine) NewBattle(in CreateInput, env Env) (Battle, []Event, error) {
	if in.CallerID == "" {
		return Battle{}, nil, ErrUnauthenticated
	}
	switch n := len(in.PlayerIDs); {
	case n > PlayersPerMatch:
		return Battle{}, nil, errorf(CodeUnimplemented, "battles with %d players are not implemented", n)
	case n < PlayersPerMatch:
		return Battle{}, nil, precondition("a battle needs %d players, got %d", PlayersPerMatch, n)
	}
	if len(in.DeckIDs) != len(in.PlayerIDs) {
		return Battle{}, nil, precondition("need one deck per player, got %d decks", len(in.DeckIDs))
	}
	if in.PlayerIDs[0] == "" || in.PlayerIDs[1] == "" || in.PlayerIDs[0] == in.PlayerIDs[1] {
		return Battle{}, nil, precondition("players must be two distinct users")
	}
	caller := false
	for _, id := range in.PlayerIDs {
		caller = caller || id == in.CallerID
	}
	if !caller {
		return Battle{}, nil, forbidden("caller is not one of the battle's players")
	}
	if env.Catalog == nil || env.Catalog.Len() == 0 {
		return Battle{}, nil, precondition("card catalog is empty")
	}

	b := Battle{
		ID:             in.ID,
		PlayerIDs:      append([]string(nil), in.PlayerIDs...),
		Status:         StatusActive,
		Round:          1,
		Phase:          PhaseFieldCardPresentation,
		PhaseStartedAt: env.Now,
		CreatedAt:      env.Now,
		UpdatedAt:      env.Now,
	}
	for i, userID := range in.PlayerIDs {
		deck, ok := env.Decks[in.DeckIDs[i]]
		if !ok {
			return Battle{}, nil, notFound("deck %s not found", in.DeckIDs[i])
		}
		if deck.OwnerID != userID {
			return Battle{}, nil, forbidden("deck %s does not belong to %s", deck.ID, userID)
		}
		hand, err := DealHand(e.rng, deck.CardIDs)
		if err != nil {
			return Battle{}, nil, err
		}
		b.Players = append(b.Players, PlayerState{
			UserID:         userID,
			Hand:           hand,
			DeckID:         deck.ID,
			Turn:           newTurnState(deck.CardIDs, hand),
			LastActionTime: env.Now,
		})
	}
	b.FieldCardID = e.pickFieldCard("", env)

	evs := []Event{
		{Kind: EventBattleCreated},
		{Kind: EventRoundStarted, Payload: RoundStartedPayload{Round: b.Round, FieldCardID: b.FieldCardID}},
	}
	return b, evs, nil
}

func newTurnState(deck, hand []string) TurnState {
	return TurnState{
		ActionsRemaining:   ActionsPerRound,
		DeckCardsRemaining: len(DeckRemainder(deck, hand)),
	}
}

func (e *Engine) pickFieldCard(previous string, env Env) string {
	ids := env.Catalog.IDs()
	if len(ids) > 1 && previous != "" {
		ids = without(ids, []string{previous})
	}
	return RandomCard(e.rng, ids)
}

func (e *Engine) enter(b *Battle, p Phase, now time.Time) Event {
	from := b.Phase
	b.Phase = p
	b.PhaseStartedAt = now
	return Event{Kind: EventPhaseChanged, Payload: PhaseChangedPayload{From: from, To: p, Round: b.Round}}
}

// advance follows exit conditions until the current phase is waiting on input
// or a timer.
func (e *Engine) advance(b *Battle, env Env) ([]Event, error) {
	var evs []Event
	for b.Status == StatusActive && phaseSpecs[b.Phase].complete(b) {
		more, err := e.leave(b, env)
		if err != nil {
			return nil, err
		}
		evs = append(evs, more...)
	}
	return evs, nil
}

// leave moves out of the current phase. Natural completion and timeouts share it.
func (e *Engine) leave(b *Battle, env Env) ([]Event, error) {
	switch b.Phase {
	case PhaseFieldCardPresentation:
		return []Event{e.enter(b, PhasePlayerAction, env.Now)}, nil
	case PhasePlayerAction:
		return []Event{e.enter(b, PhaseWordSubmission, env.Now)}, nil
	case PhaseWordSubmission:
		if b.hasDeclaration() {
			b.Responses = []PlayerResponse{}
			return []Event{e.enter(b, PhaseResponse, env.Now)}, nil
		}
		return e.resolveRound(b, env)
	case PhaseResponse:
		return e.resolveRound(b, env)
	case PhasePointCalculation:
		if b.Status == StatusFinished {
			return nil, nil
		}
		return e.startRound(b, env), nil
	}
	return nil, errorf(CodeUnimplemented, "no transition out of %s", b.Phase)
}

func contenders(b *Battle) []Contender {
	cs := make([]Contender, 0, len(b.Players))
	for i := range b.Players {
		p := &b.Players[i]
		c := Contender{UserID: p.UserID, Response: b.response(p.UserID)}
		if p.Submitted != nil {
			c.Submission = *p.Submitted
		}
		cs = append(cs, c)
	}
	return cs
}

// resolveRound runs on entry to point calculation: awards points, records history
// and checks the win condition.
func (e *Engine) resolveRound(b *Battle, env Env) ([]Event, error) {
	cs := contenders(b)
	points, err := ResolvePoints(cs)
	if err != nil {
		return nil, err
	}

	result := RoundResult{
		Round:         b.Round,
		FieldCardID:   b.FieldCardID,
		FieldCardText: env.Catalog.Text(b.FieldCardID),
		WinnerID:      RoundWinner(cs),
		Points:        points,
		ResolvedAt:    env.Now,
	}
	for _, c := range cs {
		result.Submissions = append(result.Submissions, RoundSubmission{
			UserID:   c.UserID,
			CardText: env.Catalog.Text(c.Submission.CardID),
			Card:     c.Submission,
		})
	}
	for _, aw := range points {
		if p, _ := b.player(aw.UserID); p != nil {
			p.Score += aw.Points
		}
	}
	b.RoundResults = append(b.RoundResults, result)
	b.Responses = nil

	evs := []Event{
		e.enter(b, PhasePointCalculation, env.Now),
		{Kind: EventRoundResolved, Payload: result},
	}
	if winners := e.winners(b); len(winners) > 0 {
		b.Status = StatusFinished
		b.WinnerIDs = winners
		evs = append(evs, Event{Kind: EventBattleFinished, Payload: BattleFinishedPayload{WinnerIDs: winners}})
	}
	return evs, nil
}

// winners returns the players holding the top score once it reaches the threshold.
func (e *Engine) winners(b *Battle) []string {
	top := 0
	for i, p := range b.Players {
		if i == 0 || p.Score > top {
			top = p.Score
		}
	}
	if top < e.winScore {
		return nil
	}
	var ids []string
	for _, p := range b.Players {
		if p.Score == top {
			ids = append(ids, p.UserID)
		}
	}
	sort.Strings(ids)
	return ids
}

// startRound resets per-round state and deals a new field card.
func (e *Engine) startRound(b *Battle, env Env) []Event {
	b.Round++
	b.FieldCardID = e.pickFieldCard(b.FieldCardID, env)
	b.Responses = nil
	for i := range b.Players {
		p := &b.Players[i]
		p.Submitted = nil
		p.IsReady = false
		p.Turn = newTurnState(env.deckCards(p.DeckID), p.Hand)
	}
	return []Event{
		e.enter(b, PhaseFieldCardPresentation, env.Now),
		{Kind: EventRoundStarted, Payload: RoundStartedPayload{Round: b.Round, FieldCardID: b.FieldCardID}},
	}
}
