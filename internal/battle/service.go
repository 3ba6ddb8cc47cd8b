package battle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CardCatalog is the card lookup collaborator.
type CardCatalog interface {
	GetCard(ctx context.Context, cardID string) (Card, error)
	FindByText(ctx context.Context, text string) (Card, bool, error)
	AllCards(ctx context.Context) ([]Card, error)
}

// DeckRepository returns a deck's owner and ordered card ids. A missing deck is
// reported with a NOT_FOUND *Error.
type DeckRepository interface {
	GetDeck(ctx context.Context, deckID string) (Deck, error)
}

// SimilarityOracle scores word pairs in [-1,1] and proposes words for a
// positive/negative card combination.
type SimilarityOracle interface {
	Similarity(ctx context.Context, word1, word2 string) (float64, error)
	Analyze(ctx context.Context, positive, negative []string) ([]string, error)
}

// Publisher receives every committed change, e.g. to push it to watchers.
type Publisher interface {
	Publish(b Battle, evs []Event)
}

// ResultRecorder archives a battle once it is finished.
type ResultRecorder interface {
	RecordFinished(ctx context.Context, b Battle) error
}

// Observer collects operational counters.
type Observer interface {
	Action(action string, code Code)
	Timeout(phase Phase)
	OracleFallback(op string)
}

type Config struct {
	Budgets       Budgets
	WinScore      int
	OracleTimeout time.Duration
	NeutralScore  float64 // fallback similarity; NeutralSimilarity when zero
}

type Deps struct {
	Store     BattleStore
	Catalog   CardCatalog
	Decks     DeckRepository
	Oracle    SimilarityOracle
	Publisher Publisher      // optional
	Recorder  ResultRecorder // optional
	Observer  Observer       // optional
	Log       *slog.Logger   // optional
	Rand      Rand           // optional; time-seeded when nil
	Now       func() time.Time
	NewID     func() string
}

// Service runs the battle operations: it resolves external inputs, applies the
// engine under the store's single-writer Mutate and fans out the result.
type Service struct {
	engine *Engine
	rng    Rand
	store  BattleStore

	catalog CardCatalog
	decks   DeckRepository
	oracle  SimilarityOracle

	pub      Publisher
	recorder ResultRecorder
	observer Observer
	log      *slog.Logger

	now           func() time.Time
	newID         func() string
	oracleTimeout time.Duration
	neutral       float64

	locks battleLocks
}

func NewService(cfg Config, d Deps) *Service {
	if d.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		d.Rand = NewLockedRand(seed, seed>>1)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 10 * time.Second
	}
	if cfg.NeutralScore <= 0 || cfg.NeutralScore > 1 {
		cfg.NeutralScore = NeutralSimilarity
	}
	return &Service{
		engine:        NewEngine(cfg.Budgets, cfg.WinScore, d.Rand),
		rng:           d.Rand,
		store:         d.Store,
		catalog:       d.Catalog,
		decks:         d.Decks,
		oracle:        d.Oracle,
		pub:           d.Publisher,
		recorder:      d.Recorder,
		observer:      d.Observer,
		log:           d.Log,
		now:           d.Now,
		newID:         d.NewID,
		oracleTimeout: cfg.OracleTimeout,
		neutral:       cfg.NeutralScore,
	}
}

func (s *Service) Engine() *Engine { return s.engine }

func (s *Service) CreateBattle(ctx context.Context, callerID string, playerIDs, deckIDs []string) (string, error) {
	if callerID == "" {
		return "", ErrUnauthenticated
	}
	env, err := s.envForDecks(ctx, deckIDs)
	if err != nil {
		return "", err
	}

	b, evs, err := s.engine.NewBattle(CreateInput{
		ID:        s.newID(),
		CallerID:  callerID,
		PlayerIDs: playerIDs,
		DeckIDs:   deckIDs,
	}, env)
	s.observer.Action("create", CodeOf(err))
	if err != nil {
		return "", err
	}
	if err := s.store.Create(ctx, b); err != nil {
		return "", fmt.Errorf("store battle: %w", err)
	}
	s.log.Info("battle created", "battle_id", b.ID, "players", b.PlayerIDs, "field_card", b.FieldCardID)
	s.publish(b, evs)
	return b.ID, nil
}

// SubmitCard scores the card against the field word and submits it.
func (s *Service) SubmitCard(ctx context.Context, callerID, battleID, userID, cardID string, t SubmissionType) (float64, error) {
	var final float64
	err := s.withBattle(ctx, callerID, battleID, func(b Battle, env Env) error {
		cmd := SubmitCard{Actor: Actor{CallerID: callerID, UserID: userID}, CardID: cardID, Type: t}
		if err := s.engine.Validate(b, env, cmd); err != nil {
			s.observer.Action("submit", CodeOf(err))
			return err
		}
		cmd.Similarity = s.similarity(ctx, battleID, env.Catalog.Text(b.FieldCardID), env.Catalog.Text(cardID))

		next, _, err := s.mutate(ctx, "submit", battleID, env, cmd)
		if err != nil {
			return err
		}
		if p, _ := next.player(userID); p != nil && p.Submitted != nil {
			final = p.Submitted.FinalScore
		} else if len(next.RoundResults) > 0 {
			// resolved in the same mutation; read it back from history
			for _, sub := range next.RoundResults[len(next.RoundResults)-1].Submissions {
				if sub.UserID == userID {
					final = sub.Card.FinalScore
				}
			}
		}
		return nil
	})
	return final, err
}

func (s *Service) RespondToDeclaration(ctx context.Context, callerID, battleID, userID string, t ResponseType) error {
	return s.withBattle(ctx, callerID, battleID, func(b Battle, env Env) error {
		_, _, err := s.mutate(ctx, "respond", battleID, env, Respond{Actor: Actor{CallerID: callerID, UserID: userID}, Type: t})
		return err
	})
}

func (s *Service) SetPlayerReady(ctx context.Context, callerID, battleID, userID string) error {
	return s.withBattle(ctx, callerID, battleID, func(b Battle, env Env) error {
		_, _, err := s.mutate(ctx, "ready", battleID, env, SetReady{Actor: Actor{CallerID: callerID, UserID: userID}})
		return err
	})
}

// ExchangeCards discards cards and returns the ids drawn in their place.
func (s *Service) ExchangeCards(ctx context.Context, callerID, battleID, userID string, discards []string, src DrawSource) ([]string, error) {
	var drawn []string
	err := s.withBattle(ctx, callerID, battleID, func(b Battle, env Env) error {
		cmd := ExchangeCards{Actor: Actor{CallerID: callerID, UserID: userID}, Discards: discards, Source: src}
		_, evs, err := s.mutate(ctx, "exchange", battleID, env, cmd)
		if err != nil {
			return err
		}
		if ev, ok := find(evs, EventCardsExchanged); ok {
			drawn = ev.Payload.(CardsExchangedPayload).Drawn
		}
		return nil
	})
	return drawn, err
}

type GenerateResult struct {
	CardID  string
	Text    string
	Warning string
}

// GenerateWord asks the oracle for a word combining the given cards. A word
// missing from the catalog is replaced by a random card with a warning.
func (s *Service) GenerateWord(ctx context.Context, callerID, battleID, userID string, positive, negative []string) (GenerateResult, error) {
	var res GenerateResult
	err := s.withBattle(ctx, callerID, battleID, func(b Battle, env Env) error {
		cmd := GenerateWord{Actor: Actor{CallerID: callerID, UserID: userID}, Positive: positive, Negative: negative}
		if err := s.engine.Validate(b, env, cmd); err != nil {
			s.observer.Action("generate", CodeOf(err))
			return err
		}

		ranked := s.analyze(ctx, battleID, texts(env.Catalog, positive), texts(env.Catalog, negative))
		lookup := func(text string) (Card, bool) {
			c, ok, err := s.catalog.FindByText(ctx, text)
			if err != nil {
				s.log.Warn("catalog lookup failed", "battle_id", battleID, "text", text, "err", err)
				return env.Catalog.ByText(text)
			}
			return c, ok
		}
		gen, ok := ChooseGeneratedCard(s.rng, ranked, lookup, env.Catalog.Cards())
		if !ok {
			s.observer.Action("generate", CodePreconditionFailed)
			return precondition("card catalog is empty")
		}
		if gen.Warning != "" {
			s.log.Warn("generated word fallback", "battle_id", battleID, "user_id", userID, "card_id", gen.CardID, "warning", gen.Warning)
		}
		cmd.Generated = gen

		if _, _, err := s.mutate(ctx, "generate", battleID, env, cmd); err != nil {
			return err
		}
		res = GenerateResult{CardID: gen.CardID, Text: gen.Text, Warning: gen.Warning}
		return nil
	})
	return res, err
}

func (s *Service) StartNextRound(ctx context.Context, callerID, battleID string) error {
	return s.withBattle(ctx, callerID, battleID, func(b Battle, env Env) error {
		_, _, err := s.mutate(ctx, "next_round", battleID, env, StartNextRound{CallerID: callerID})
		return err
	})
}

// CheckPhaseTimeout applies the current phase's default if its budget elapsed.
// Calling it again right after a transition is a no-op reporting false.
func (s *Service) CheckPhaseTimeout(ctx context.Context, callerID, battleID string) (bool, error) {
	timedOut := false
	err := s.withBattle(ctx, callerID, battleID, func(b Battle, env Env) error {
		if err := s.engine.Validate(b, env, CheckTimeout{CallerID: callerID}); err != nil {
			return err
		}
		in := TimeoutInput{}
		if picks := s.engine.PlanTimeout(b, env); len(picks) > 0 {
			in.Picks = make(map[string]AutoPick, len(picks))
			for userID, cardID := range picks {
				sim := s.similarity(ctx, battleID, env.Catalog.Text(b.FieldCardID), env.Catalog.Text(cardID))
				in.Picks[userID] = AutoPick{CardID: cardID, Similarity: sim}
			}
		}

		_, evs, err := s.mutate(ctx, "timeout", battleID, env, CheckTimeout{CallerID: callerID, Input: in})
		if err != nil {
			return err
		}
		if len(evs) > 0 {
			timedOut = true
			s.observer.Timeout(b.Phase)
			s.log.Info("phase timed out", "battle_id", battleID, "phase", b.Phase.String(), "round", b.Round)
		}
		return nil
	})
	return timedOut, err
}

func (s *Service) SetConnected(ctx context.Context, callerID, battleID string, connected bool) error {
	return s.withBattle(ctx, callerID, battleID, func(b Battle, env Env) error {
		_, _, err := s.mutate(ctx, "connection", battleID, env, SetConnected{CallerID: callerID, Connected: connected})
		return err
	})
}

// GetBattle returns the battle to one of its participants.
func (s *Service) GetBattle(ctx context.Context, callerID, battleID string) (Battle, error) {
	if callerID == "" {
		return Battle{}, ErrUnauthenticated
	}
	b, err := s.store.Load(ctx, battleID)
	if err != nil {
		return Battle{}, err
	}
	if err := validateParticipant(&b, callerID); err != nil {
		return Battle{}, err
	}
	return b, nil
}

// GetUserBattles lists the caller's own active battles.
func (s *Service) GetUserBattles(ctx context.Context, callerID, userID string) ([]Battle, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	if callerID != userID {
		return nil, forbidden("caller %s cannot list battles of %s", callerID, userID)
	}
	return s.store.ListActiveByUser(ctx, userID)
}

// withBattle serializes same-process operations on one battle, loads it and
// builds the command environment. The store's Mutate still guards other processes.
func (s *Service) withBattle(ctx context.Context, callerID, battleID string, fn func(b Battle, env Env) error) error {
	if callerID == "" {
		return ErrUnauthenticated
	}
	unlock := s.locks.lock(battleID)
	defer unlock()

	b, err := s.store.Load(ctx, battleID)
	if err != nil {
		return err
	}
	env, err := s.envFor(ctx, b)
	if err != nil {
		return err
	}
	return fn(b, env)
}

func (s *Service) mutate(ctx context.Context, action, battleID string, env Env, cmd Command) (Battle, []Event, error) {
	var evs []Event
	next, err := s.store.Mutate(ctx, battleID, func(cur Battle) (Battle, bool, error) {
		n, e, err := s.engine.Apply(cur, env, cmd)
		if err != nil {
			return cur, false, err
		}
		evs = e
		return n, len(e) > 0, nil
	})
	s.observer.Action(action, CodeOf(err))
	if err != nil {
		if CodeOf(err) == "" {
			s.log.Error("battle mutation failed", "battle_id", battleID, "action", action, "err", err)
		}
		return Battle{}, nil, err
	}
	s.afterCommit(ctx, next, evs)
	return next, evs, nil
}

func (s *Service) afterCommit(ctx context.Context, b Battle, evs []Event) {
	if len(evs) == 0 {
		return
	}
	for _, ev := range evs {
		switch ev.Kind {
		case EventRoundResolved:
			r := ev.Payload.(RoundResult)
			s.log.Info("round resolved", "battle_id", b.ID, "round", r.Round, "winner_id", r.WinnerID)
		case EventBattleFinished:
			s.log.Info("battle finished", "battle_id", b.ID, "winners", b.WinnerIDs)
			if s.recorder != nil {
				if err := s.recorder.RecordFinished(ctx, b); err != nil {
					s.log.Error("archive finished battle", "battle_id", b.ID, "err", err)
				}
			}
		}
	}
	s.publish(b, evs)
}

func (s *Service) publish(b Battle, evs []Event) {
	if s.pub != nil && len(evs) > 0 {
		s.pub.Publish(b, evs)
	}
}

func (s *Service) envFor(ctx context.Context, b Battle) (Env, error) {
	deckIDs := make([]string, 0, len(b.Players))
	for _, p := range b.Players {
		deckIDs = append(deckIDs, p.DeckID)
	}
	return s.envForDecks(ctx, deckIDs)
}

// envForDecks loads the catalog and the given decks. Missing decks are left out
// so the engine reports them in its own validation order.
func (s *Service) envForDecks(ctx context.Context, deckIDs []string) (Env, error) {
	cards, err := s.catalog.AllCards(ctx)
	if err != nil {
		return Env{}, fmt.Errorf("load card catalog: %w", err)
	}
	env := Env{
		Now:     s.now(),
		Catalog: NewCatalog(cards),
		Decks:   make(map[string]Deck, len(deckIDs)),
	}
	for _, id := range deckIDs {
		if _, done := env.Decks[id]; done || id == "" {
			continue
		}
		d, err := s.decks.GetDeck(ctx, id)
		if CodeOf(err) == CodeNotFound {
			continue
		}
		if err != nil {
			return Env{}, fmt.Errorf("load deck %s: %w", id, err)
		}
		env.Decks[id] = d
	}
	return env, nil
}

// similarity returns the normalized oracle score, or the neutral score when the
// oracle is unavailable.
func (s *Service) similarity(ctx context.Context, battleID, word1, word2 string) float64 {
	if s.oracle == nil {
		return s.neutral
	}
	ctx, cancel := context.WithTimeout(ctx, s.oracleTimeout)
	defer cancel()

	raw, err := s.oracle.Similarity(ctx, word1, word2)
	if err != nil {
		s.degraded(battleID, "similarity", err)
		return s.neutral
	}
	return NormalizeSimilarity(raw)
}

func (s *Service) analyze(ctx context.Context, battleID string, positive, negative []string) []string {
	if s.oracle == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.oracleTimeout)
	defer cancel()

	words, err := s.oracle.Analyze(ctx, positive, negative)
	if err != nil {
		s.degraded(battleID, "analyze", err)
		return nil
	}
	return words
}

func (s *Service) degraded(battleID, op string, err error) {
	s.observer.OracleFallback(op)
	s.log.Warn("similarity oracle degraded",
		"code", CodeExternalServiceDegraded,
		"battle_id", battleID,
		"op", op,
		"timeout", errors.Is(err, context.DeadlineExceeded),
		"err", err,
	)
}

func texts(c *Catalog, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.Text(id))
	}
	return out
}

type nopObserver struct{}

func (nopObserver) Action(string, Code)   {}
func (nopObserver) Timeout(Phase)         {}
func (nopObserver) OracleFallback(string) {}

// battleLocks hands out one mutex per battle id and forgets it when unused.
type battleLocks struct {
	mu sync.Mutex
	m  map[string]*battleLock
}

type battleLock struct {
	mu   sync.Mutex
	refs int
}

func (l *battleLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*battleLock)
	}
	bl, ok := l.m[id]
	if !ok {
		bl = &battleLock{}
		l.m[id] = bl
	}
	bl.refs++
	l.mu.Unlock()

	bl.mu.Lock()
	return func() {
		bl.mu.Unlock()
		l.mu.Lock()
		bl.refs--
		if bl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
