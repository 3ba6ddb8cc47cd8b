package battle

import "math"

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RaritySuperRare Rarity = "super_rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

var rarityBonus = map[Rarity]float64{
	RarityCommon:    0,
	RarityRare:      0.02,
	RaritySuperRare: 0.04,
	RarityEpic:      0.06,
	RarityLegendary: 0.08,
}

// RarityBonus returns the additive bonus for r; unknown rarities get none.
func RarityBonus(r Rarity) float64 {
	return rarityBonus[r]
}

// NormalizeSimilarity maps an oracle cosine score in [-1,1] onto [0,1].
func NormalizeSimilarity(raw float64) float64 {
	if math.IsNaN(raw) {
		return 0
	}
	return clamp01((raw + 1) / 2)
}

// FinalScore applies the rarity bonus only to cards from the submitter's deck.
func FinalScore(similarity float64, rarity Rarity, isDeckCard bool) (bonus, final float64) {
	similarity = clamp01(similarity)
	if isDeckCard {
		bonus = RarityBonus(rarity)
	}
	return bonus, math.Min(similarity+bonus, 1.0)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Reason explains a point award in the round history.
type Reason string

const (
	ReasonNormalWin                 Reason = "normal_win"
	ReasonNormalLose                Reason = "normal_lose"
	ReasonDraw                      Reason = "draw"
	ReasonOpponentFold              Reason = "opponent_fold"
	ReasonFoldAgainstDeclaration    Reason = "fold_against_declaration"
	ReasonVictoryDeclarationSuccess Reason = "victory_declaration_success"
	ReasonVictoryDeclarationFail    Reason = "victory_declaration_fail"
)

// Contender is one side of a round as seen by the resolver.
type Contender struct {
	UserID     string
	Submission SubmittedCard
	Response   *PlayerResponse
}

func (c Contender) declared() bool {
	return c.Submission.SubmissionType == SubmissionVictoryDeclaration
}

// responseOf is the single place where a missing response becomes a call.
func (c Contender) responseOf() ResponseType {
	if c.Response == nil {
		return ResponseCall
	}
	return c.Response.ResponseType
}

// ResolvePoints turns the round's submissions into point awards, in input order.
// Only two contenders are supported.
func ResolvePoints(cs []Contender) ([]PointAward, error) {
	if len(cs) != PlayersPerMatch {
		return nil, errorf(CodeUnimplemented, "round resolution for %d players is not implemented", len(cs))
	}
	a, b := cs[0], cs[1]

	switch {
	case !a.declared() && !b.declared():
		pa, pb, ra, rb := compare(a, b, 1, ReasonNormalWin, ReasonNormalLose)
		return awards(a, b, pa, pb, ra, rb), nil

	case a.declared() && b.declared():
		pa, pb, ra, rb := compare(a, b, 2, ReasonVictoryDeclarationSuccess, ReasonVictoryDeclarationFail)
		return awards(a, b, pa, pb, ra, rb), nil

	case a.declared():
		if b.responseOf() == ResponseFold {
			return awards(a, b, 1, 0, ReasonOpponentFold, ReasonFoldAgainstDeclaration), nil
		}
	default:
		if a.responseOf() == ResponseFold {
			return awards(a, b, 0, 1, ReasonFoldAgainstDeclaration, ReasonOpponentFold), nil
		}
	}

	pa, pb, ra, rb := compare(a, b, 2, ReasonVictoryDeclarationSuccess, ReasonVictoryDeclarationFail)
	return awards(a, b, pa, pb, ra, rb), nil
}

func compare(a, b Contender, stake int, win, lose Reason) (pa, pb int, ra, rb Reason) {
	sa, sb := a.Submission.FinalScore, b.Submission.FinalScore
	switch {
	case sa > sb:
		return stake, -stake, win, lose
	case sb > sa:
		return -stake, stake, lose, win
	}
	return 0, 0, ReasonDraw, ReasonDraw
}

func awards(a, b Contender, pa, pb int, ra, rb Reason) []PointAward {
	return []PointAward{
		{UserID: a.UserID, Points: pa, Reason: ra},
		{UserID: b.UserID, Points: pb, Reason: rb},
	}
}

// RoundWinner returns the unique holder of the highest final score, or "" on a tie.
func RoundWinner(cs []Contender) string {
	winner := ""
	best := math.Inf(-1)
	tied := false
	for _, c := range cs {
		s := c.Submission.FinalScore
		switch {
		case s > best:
			best, winner, tied = s, c.UserID, false
		case s == best:
			tied = true
		}
	}
	if tied {
		return ""
	}
	return winner
}
