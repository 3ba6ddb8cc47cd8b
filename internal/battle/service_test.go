package battle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) Similarity(ctx context.Context, word1, word2 string) (float64, error) {
	args := m.Called(ctx, word1, word2)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockOracle) Analyze(ctx context.Context, positive, negative []string) ([]string, error) {
	args := m.Called(ctx, positive, negative)
	words, _ := args.Get(0).([]string)
	return words, args.Error(1)
}

type fakeCatalog struct {
	c *Catalog
}

func (f fakeCatalog) GetCard(_ context.Context, id string) (Card, error) {
	c, ok := f.c.Card(id)
	if !ok {
		return Card{}, notFound("card %s not found", id)
	}
	return c, nil
}

func (f fakeCatalog) FindByText(_ context.Context, text string) (Card, bool, error) {
	c, ok := f.c.ByText(text)
	return c, ok, nil
}

func (f fakeCatalog) AllCards(context.Context) ([]Card, error) { return f.c.Cards(), nil }

type fakeDecks map[string]Deck

func (f fakeDecks) GetDeck(_ context.Context, id string) (Deck, error) {
	d, ok := f[id]
	if !ok {
		return Deck{}, notFound("deck %s not found", id)
	}
	return d, nil
}

type recorder struct {
	mu        sync.Mutex
	published []EventKind
	finished  []Battle
	fallbacks []string
	timeouts  []Phase
}

func (r *recorder) Publish(_ Battle, evs []Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range evs {
		r.published = append(r.published, ev.Kind)
	}
}

func (r *recorder) RecordFinished(_ context.Context, b Battle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, b)
	return nil
}

func (r *recorder) Action(string, Code) {}

func (r *recorder) Timeout(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts = append(r.timeouts, p)
}

func (r *recorder) OracleFallback(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, op)
}

type serviceFixture struct {
	svc    *Service
	oracle *mockOracle
	rec    *recorder
	store  *InMemoryBattleStore
	now    time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	env := testEnv(t0)
	f := &serviceFixture{
		oracle: &mockOracle{},
		rec:    &recorder{},
		store:  NewInMemoryBattleStore(),
		now:    t0,
	}
	f.svc = NewService(Config{Budgets: DefaultBudgets(), OracleTimeout: time.Second}, Deps{
		Store:     f.store,
		Catalog:   fakeCatalog{c: env.Catalog},
		Decks:     fakeDecks(env.Decks),
		Oracle:    f.oracle,
		Publisher: f.rec,
		Recorder:  f.rec,
		Observer:  f.rec,
		Rand:      NewLockedRand(21, 22),
		Now:       func() time.Time { return f.now },
		NewID:     func() string { return "battle-1" },
	})
	return f
}

func (f *serviceFixture) create(t *testing.T) string {
	t.Helper()
	id, err := f.svc.CreateBattle(context.Background(), "u1", []string{"u1", "u2"}, []string{"d1", "d2"})
	require.NoError(t, err)
	return id
}

func (f *serviceFixture) toSubmission(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	f.now = f.now.Add(6 * time.Second)
	timedOut, err := f.svc.CheckPhaseTimeout(ctx, "u1", id)
	require.NoError(t, err)
	require.True(t, timedOut)
	require.NoError(t, f.svc.SetPlayerReady(ctx, "u1", id, "u1"))
	require.NoError(t, f.svc.SetPlayerReady(ctx, "u2", id, "u2"))
}

func (f *serviceFixture) battle(t *testing.T, id string) Battle {
	t.Helper()
	b, err := f.svc.GetBattle(context.Background(), "u1", id)
	require.NoError(t, err)
	return b
}

func TestService_CreateAndRead(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	id := f.create(t)
	assert.Equal(t, "battle-1", id)
	assert.Equal(t, []EventKind{EventBattleCreated, EventRoundStarted}, f.rec.published)

	_, err := f.svc.GetBattle(ctx, "u9", id)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.GetBattle(ctx, "", id)
	require.ErrorIs(t, err, ErrUnauthenticated)
	_, err = f.svc.GetBattle(ctx, "u1", "missing")
	require.ErrorIs(t, err, ErrNotFound)

	list, err := f.svc.GetUserBattles(ctx, "u2", "u2")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	_, err = f.svc.GetUserBattles(ctx, "u1", "u2")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestService_CreateBattle_UnknownDeck(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.CreateBattle(context.Background(), "u1", []string{"u1", "u2"}, []string{"d1", "zzz"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_CheckPhaseTimeout_Idempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	id := f.create(t)

	timedOut, err := f.svc.CheckPhaseTimeout(ctx, "u2", id)
	require.NoError(t, err)
	assert.False(t, timedOut)

	f.now = f.now.Add(6 * time.Second)
	timedOut, err = f.svc.CheckPhaseTimeout(ctx, "u2", id)
	require.NoError(t, err)
	assert.True(t, timedOut)

	timedOut, err = f.svc.CheckPhaseTimeout(ctx, "u2", id)
	require.NoError(t, err)
	assert.False(t, timedOut)

	assert.Equal(t, PhasePlayerAction, f.battle(t, id).Phase)
	assert.Equal(t, []Phase{PhaseFieldCardPresentation}, f.rec.timeouts)
}

func TestService_SubmitCard_ScoresWithOracle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	id := f.create(t)
	f.toSubmission(t, id)

	b := f.battle(t, id)
	env := testEnv(t0)
	field := env.Catalog.Text(b.FieldCardID)
	card := b.Players[0].Hand[0]
	f.oracle.On("Similarity", mock.Anything, field, env.Catalog.Text(card)).Return(0.6, nil).Once()

	final, err := f.svc.SubmitCard(ctx, "u1", id, "u1", card, SubmissionNormal)
	require.NoError(t, err)

	c, _ := env.Catalog.Card(card)
	assert.InDelta(t, 0.8+RarityBonus(c.Rarity), final, 1e-9)
	f.oracle.AssertExpectations(t)
	assert.Empty(t, f.rec.fallbacks)
}

func TestService_SubmitCard_OracleFailureFallsBack(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	id := f.create(t)
	f.toSubmission(t, id)

	b := f.battle(t, id)
	f.oracle.On("Similarity", mock.Anything, mock.Anything, mock.Anything).Return(0.0, errors.New("connection refused"))

	card := b.Players[1].Hand[0]
	_, err := f.svc.SubmitCard(ctx, "u2", id, "u2", card, SubmissionNormal)
	require.NoError(t, err)

	sub := f.battle(t, id).Players[1].Submitted
	require.NotNil(t, sub)
	assert.Equal(t, NeutralSimilarity, sub.SimilarityScore)
	assert.Equal(t, []string{"similarity"}, f.rec.fallbacks)
}

func TestService_SubmitCard_ValidationSkipsOracle(t *testing.T) {
	f := newServiceFixture(t)
	id := f.create(t)

	_, err := f.svc.SubmitCard(context.Background(), "u1", id, "u1", "c01", SubmissionNormal)
	require.ErrorIs(t, err, ErrInvalidPhase)
	f.oracle.AssertNotCalled(t, "Similarity", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_FullRoundRecordsFinish(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	id := f.create(t)
	env := testEnv(t0)

	for round := 1; round <= 3; round++ {
		f.toSubmission(t, id)
		b := f.battle(t, id)
		field := env.Catalog.Text(b.FieldCardID)
		c1, c2 := b.Players[0].Hand[0], b.Players[1].Hand[0]
		f.oracle.On("Similarity", mock.Anything, field, env.Catalog.Text(c1)).Return(0.9, nil).Once()
		f.oracle.On("Similarity", mock.Anything, field, env.Catalog.Text(c2)).Return(-0.9, nil).Once()

		_, err := f.svc.SubmitCard(ctx, "u1", id, "u1", c1, SubmissionNormal)
		require.NoError(t, err)
		_, err = f.svc.SubmitCard(ctx, "u2", id, "u2", c2, SubmissionNormal)
		require.NoError(t, err)

		if round < 3 {
			require.NoError(t, f.svc.StartNextRound(ctx, "u2", id))
		}
	}

	b := f.battle(t, id)
	assert.Equal(t, StatusFinished, b.Status)
	assert.Equal(t, []string{"u1"}, b.WinnerIDs)
	require.Len(t, f.rec.finished, 1)
	assert.Equal(t, id, f.rec.finished[0].ID)

	list, err := f.svc.GetUserBattles(ctx, "u1", "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_ExchangeCards(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	id := f.create(t)
	f.now = f.now.Add(6 * time.Second)
	_, err := f.svc.CheckPhaseTimeout(ctx, "u1", id)
	require.NoError(t, err)

	h := f.battle(t, id).Players[0].Hand
	drawn, err := f.svc.ExchangeCards(ctx, "u1", id, "u1", h[:2], DrawFromPool)
	require.NoError(t, err)
	assert.Len(t, drawn, 2)
	assert.NotContains(t, drawn, h[0])

	_, err = f.svc.ExchangeCards(ctx, "u2", id, "u1", h[2:3], DrawFromPool)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestService_GenerateWord(t *testing.T) {
	cases := []struct {
		name    string
		ranked  []string
		err     error
		warning bool
		want    string
	}{
		{name: "catalog match", ranked: []string{"sunrise", "glass"}, want: "c20"},
		{name: "no match", ranked: []string{"sunrise"}, warning: true},
		{name: "oracle down", err: errors.New("timeout"), warning: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newServiceFixture(t)
			ctx := context.Background()
			id := f.create(t)
			f.now = f.now.Add(6 * time.Second)
			_, err := f.svc.CheckPhaseTimeout(ctx, "u1", id)
			require.NoError(t, err)

			h := f.battle(t, id).Players[0].Hand
			env := testEnv(t0)
			f.oracle.On("Analyze", mock.Anything, []string{env.Catalog.Text(h[0])}, []string{env.Catalog.Text(h[1])}).
				Return(tc.ranked, tc.err).Once()

			res, err := f.svc.GenerateWord(ctx, "u1", id, "u1", h[:1], h[1:2])
			require.NoError(t, err)
			f.oracle.AssertExpectations(t)

			assert.Equal(t, tc.warning, res.Warning != "")
			if tc.want != "" {
				assert.Equal(t, tc.want, res.CardID)
			}
			p := f.battle(t, id).Players[0]
			assert.Contains(t, p.Hand, res.CardID)
			assert.Len(t, p.Hand, HandSize)
			assert.Equal(t, ActionsPerRound-1, p.Turn.ActionsRemaining)
		})
	}
}

func TestService_GenerateWord_InvalidRequestSkipsOracle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	id := f.create(t)
	f.now = f.now.Add(6 * time.Second)
	_, err := f.svc.CheckPhaseTimeout(ctx, "u1", id)
	require.NoError(t, err)

	h := f.battle(t, id).Players[0].Hand
	_, err = f.svc.GenerateWord(ctx, "u1", id, "u1", h[:1], nil)
	require.ErrorIs(t, err, ErrPreconditionFailed)
	f.oracle.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_WordSubmissionTimeoutScoresAutoPick(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	id := f.create(t)
	f.toSubmission(t, id)

	f.oracle.On("Similarity", mock.Anything, mock.Anything, mock.Anything).Return(0.0, nil)
	f.now = f.now.Add(31 * time.Second)
	timedOut, err := f.svc.CheckPhaseTimeout(ctx, "u1", id)
	require.NoError(t, err)
	assert.True(t, timedOut)

	b := f.battle(t, id)
	assert.Equal(t, PhasePointCalculation, b.Phase)
	f.oracle.AssertNumberOfCalls(t, "Similarity", 2)
	for _, sub := range b.RoundResults[0].Submissions {
		assert.Equal(t, 0.5, sub.Card.SimilarityScore)
	}
}

func TestService_SetConnected(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	id := f.create(t)

	require.NoError(t, f.svc.SetConnected(ctx, "u2", id, true))
	assert.True(t, f.battle(t, id).Players[1].IsConnected)
	require.ErrorIs(t, f.svc.SetConnected(ctx, "u9", id, true), ErrForbidden)
}

func TestService_ConcurrentReadyIsSerialized(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	id := f.create(t)
	f.now = f.now.Add(6 * time.Second)
	_, err := f.svc.CheckPhaseTimeout(ctx, "u1", id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, u := range []string{"u1", "u2", "u1", "u2"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			// a late duplicate may already find the round in word submission
			if err := f.svc.SetPlayerReady(ctx, u, id, u); err != nil {
				assert.ErrorIs(t, err, ErrInvalidPhase)
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, PhaseWordSubmission, f.battle(t, id).Phase)
}
