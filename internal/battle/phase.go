package battle

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase is one step of the per-round cycle.
type Phase int

const (
	PhaseFieldCardPresentation Phase = iota
	PhasePlayerAction
	PhaseWordSubmission
	PhaseResponse
	PhasePointCalculation

	phaseCount
)

var phaseNames = [phaseCount]string{
	PhaseFieldCardPresentation: "field_card_presentation",
	PhasePlayerAction:          "player_action",
	PhaseWordSubmission:        "word_submission",
	PhaseResponse:              "response",
	PhasePointCalculation:      "point_calculation",
}

func (p Phase) Valid() bool { return p >= 0 && p < phaseCount }

func (p Phase) String() string {
	if !p.Valid() {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

func ParsePhase(s string) (Phase, error) {
	for i, name := range phaseNames {
		if name == s {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

func (p Phase) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("marshal phase: invalid value %d", int(p))
	}
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParsePhase(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Budgets holds the time allowed in each phase.
type Budgets [phaseCount]time.Duration

func DefaultBudgets() Budgets {
	return Budgets{
		PhaseFieldCardPresentation: 5 * time.Second,
		PhasePlayerAction:          60 * time.Second,
		PhaseWordSubmission:        30 * time.Second,
		PhaseResponse:              20 * time.Second,
		PhasePointCalculation:      10 * time.Second,
	}
}

func (b Budgets) For(p Phase) time.Duration {
	if !p.Valid() {
		return 0
	}
	return b[p]
}

// Deadline is when the battle's current phase times out.
func (b Budgets) Deadline(bt *Battle) time.Time {
	return bt.PhaseStartedAt.Add(b.For(bt.Phase))
}

// expired reports whether the phase budget has been exceeded at now.
func (b Budgets) expired(bt *Battle, now time.Time) bool {
	return now.Sub(bt.PhaseStartedAt) > b.For(bt.Phase)
}

// phaseSpec binds every phase to its exit condition and timeout default.
// TestPhaseSpecsComplete fails if a phase is left without an entry.
type phaseSpec struct {
	complete  func(b *Battle) bool
	onTimeout func(e *Engine, b *Battle, env Env, in TimeoutInput) ([]Event, error)
}

var phaseSpecs [phaseCount]phaseSpec

func init() {
	phaseSpecs = [phaseCount]phaseSpec{
		PhaseFieldCardPresentation: {
			complete:  func(*Battle) bool { return false },
			onTimeout: timeoutPresentation,
		},
		PhasePlayerAction: {
			complete:  allReady,
			onTimeout: timeoutPlayerAction,
		},
		PhaseWordSubmission: {
			complete:  allSubmitted,
			onTimeout: timeoutWordSubmission,
		},
		PhaseResponse: {
			complete:  allResponded,
			onTimeout: timeoutResponse,
		},
		PhasePointCalculation: {
			complete:  func(*Battle) bool { return false },
			onTimeout: timeoutPointCalculation,
		},
	}
}

func allReady(b *Battle) bool {
	for _, p := range b.Players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

func allSubmitted(b *Battle) bool {
	for _, p := range b.Players {
		if p.Submitted == nil {
			return false
		}
	}
	return true
}

// allResponded is true when every non-declarer answered, or nobody declared.
func allResponded(b *Battle) bool {
	if !b.hasDeclaration() {
		return true
	}
	for i := range b.Players {
		p := &b.Players[i]
		if p.isDeclarer() {
			continue
		}
		if b.response(p.UserID) == nil {
			return false
		}
	}
	return true
}
