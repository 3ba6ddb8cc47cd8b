package battle

import (
	"slices"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

type SubmissionType string

const (
	SubmissionNormal             SubmissionType = "normal"
	SubmissionVictoryDeclaration SubmissionType = "victory_declaration"
)

func (t SubmissionType) Valid() bool {
	return t == SubmissionNormal || t == SubmissionVictoryDeclaration
}

type ResponseType string

const (
	ResponseCall ResponseType = "call"
	ResponseFold ResponseType = "fold"
)

func (t ResponseType) Valid() bool {
	return t == ResponseCall || t == ResponseFold
}

type DrawSource string

const (
	DrawFromDeck DrawSource = "deck"
	DrawFromPool DrawSource = "pool"
)

const (
	HandSize        = 5
	ActionsPerRound = 3
	PlayersPerMatch = 2
	DefaultWinScore = 3
)

// Battle is the aggregate root. A mutation always works on a Clone.
type Battle struct {
	ID             string           `json:"id"`
	PlayerIDs      []string         `json:"playerIds"`
	Status         Status           `json:"gameStatus"`
	WinnerIDs      []string         `json:"winnerIds"`
	Round          int              `json:"currentRound"`
	Phase          Phase            `json:"currentPhase"`
	FieldCardID    string           `json:"fieldCardId"`
	Players        []PlayerState    `json:"players"`
	PhaseStartedAt time.Time        `json:"phaseStartTime"`
	Responses      []PlayerResponse `json:"responses,omitempty"`
	RoundResults   []RoundResult    `json:"roundResults"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

type PlayerState struct {
	UserID         string         `json:"userId"`
	Score          int            `json:"score"`
	Hand           []string       `json:"hand"`
	DeckID         string         `json:"deckId"`
	Turn           TurnState      `json:"turnState"`
	Submitted      *SubmittedCard `json:"submittedCard,omitempty"`
	IsReady        bool           `json:"isReady"`
	IsConnected    bool           `json:"isConnected"`
	LastActionTime time.Time      `json:"lastActionTime"`
}

type TurnState struct {
	ActionsRemaining   int         `json:"actionsRemaining"`
	ActionsLog         []ActionLog `json:"actionsLog"`
	DeckCardsRemaining int         `json:"deckCardsRemaining"`
}

type ActionKind string

const (
	ActionExchange ActionKind = "exchange"
	ActionGenerate ActionKind = "generate_word"
)

type ActionLog struct {
	Kind      ActionKind `json:"kind"`
	CardsIn   []string   `json:"cardsIn,omitempty"`
	CardsOut  []string   `json:"cardsOut,omitempty"`
	Source    DrawSource `json:"source,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

type SubmittedCard struct {
	CardID          string         `json:"cardId"`
	SubmissionType  SubmissionType `json:"submissionType"`
	SimilarityScore float64        `json:"similarityScore"`
	RarityBonus     float64        `json:"rarityBonus"`
	FinalScore      float64        `json:"finalScore"`
	IsDeckCard      bool           `json:"isDeckCard"`
	SubmittedAt     time.Time      `json:"submittedAt"`
}

type PlayerResponse struct {
	UserID       string       `json:"userId"`
	ResponseType ResponseType `json:"responseType"`
	RespondedAt  time.Time    `json:"respondedAt"`
}

type RoundResult struct {
	Round         int               `json:"round"`
	FieldCardID   string            `json:"fieldCardId"`
	FieldCardText string            `json:"fieldCardText"`
	Submissions   []RoundSubmission `json:"submissions"`
	WinnerID      string            `json:"winnerId,omitempty"`
	Points        []PointAward      `json:"points"`
	ResolvedAt    time.Time         `json:"resolvedAt"`
}

type RoundSubmission struct {
	UserID   string        `json:"userId"`
	CardText string        `json:"cardText"`
	Card     SubmittedCard `json:"card"`
}

type PointAward struct {
	UserID string `json:"userId"`
	Points int    `json:"points"`
	Reason Reason `json:"reason"`
}

// Clone returns a deep copy so that a failed command leaves the input untouched.
func (b Battle) Clone() Battle {
	out := b
	out.PlayerIDs = slices.Clone(b.PlayerIDs)
	out.WinnerIDs = slices.Clone(b.WinnerIDs)
	out.Responses = slices.Clone(b.Responses)

	out.Players = slices.Clone(b.Players)
	for i := range out.Players {
		p := &out.Players[i]
		p.Hand = slices.Clone(p.Hand)
		p.Turn.ActionsLog = slices.Clone(p.Turn.ActionsLog)
		for j := range p.Turn.ActionsLog {
			l := &p.Turn.ActionsLog[j]
			l.CardsIn = slices.Clone(l.CardsIn)
			l.CardsOut = slices.Clone(l.CardsOut)
		}
		if p.Submitted != nil {
			s := *p.Submitted
			p.Submitted = &s
		}
	}

	out.RoundResults = slices.Clone(b.RoundResults)
	for i := range out.RoundResults {
		r := &out.RoundResults[i]
		r.Submissions = slices.Clone(r.Submissions)
		r.Points = slices.Clone(r.Points)
	}
	return out
}

func (b *Battle) player(userID string) (*PlayerState, int) {
	for i := range b.Players {
		if b.Players[i].UserID == userID {
			return &b.Players[i], i
		}
	}
	return nil, -1
}

// IsParticipant reports whether userID plays in this battle.
func (b *Battle) IsParticipant(userID string) bool {
	p, _ := b.player(userID)
	return p != nil
}

func (b *Battle) response(userID string) *PlayerResponse {
	for i := range b.Responses {
		if b.Responses[i].UserID == userID {
			return &b.Responses[i]
		}
	}
	return nil
}

func (b *Battle) hasDeclaration() bool {
	for _, p := range b.Players {
		if p.Submitted != nil && p.Submitted.SubmissionType == SubmissionVictoryDeclaration {
			return true
		}
	}
	return false
}

func (p *PlayerState) isDeclarer() bool {
	return p.Submitted != nil && p.Submitted.SubmissionType == SubmissionVictoryDeclaration
}

func (p *PlayerState) holds(cardID string) bool {
	for _, id := range p.Hand {
		if id == cardID {
			return true
		}
	}
	return false
}
