package battle

// EventKind identifies what a command changed, for subscribers and logs.
type EventKind string

const (
	EventBattleCreated  EventKind = "battle_created"
	EventPhaseChanged   EventKind = "phase_changed"
	EventRoundStarted   EventKind = "round_started"
	EventPlayerReady    EventKind = "player_ready"
	EventCardsExchanged EventKind = "cards_exchanged"
	EventWordGenerated  EventKind = "word_generated"
	EventCardSubmitted  EventKind = "card_submitted"
	EventAutoSubmitted  EventKind = "card_auto_submitted"
	EventResponded      EventKind = "responded"
	EventRoundResolved  EventKind = "round_resolved"
	EventBattleFinished EventKind = "battle_finished"
	EventConnection     EventKind = "connection_changed"
)

type Event struct {
	Kind    EventKind `json:"kind"`
	UserID  string    `json:"userId,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

type PhaseChangedPayload struct {
	From  Phase `json:"from"`
	To    Phase `json:"to"`
	Round int   `json:"round"`
}

type RoundStartedPayload struct {
	Round       int    `json:"round"`
	FieldCardID string `json:"fieldCardId"`
}

type CardsExchangedPayload struct {
	Discarded []string   `json:"discarded"`
	Drawn     []string   `json:"drawn"`
	Source    DrawSource `json:"source"`
}

type WordGeneratedPayload struct {
	CardID  string   `json:"cardId"`
	Text    string   `json:"text"`
	Used    []string `json:"used"`
	Refill  []string `json:"refill,omitempty"`
	Warning string   `json:"warning,omitempty"`
}

type CardSubmittedPayload struct {
	Card SubmittedCard `json:"card"`
}

type RespondedPayload struct {
	Response ResponseType `json:"response"`
}

type BattleFinishedPayload struct {
	WinnerIDs []string `json:"winnerIds"`
}

type ConnectionPayload struct {
	Connected bool `json:"connected"`
}

// find returns the first event of the given kind.
func find(evs []Event, kind EventKind) (Event, bool) {
	for _, ev := range evs {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}
