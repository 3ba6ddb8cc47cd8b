package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"example.com/word-battle/internal/battle"
)

type BattleHandler struct {
	Battles *battle.Service
	Log     *slog.Logger
}

type createBattleRequest struct {
	PlayerIDs []string `json:"playerIds"`
	DeckIDs   []string `json:"deckIds"`
}

type submitRequest struct {
	UserID         string                `json:"userId"`
	CardID         string                `json:"cardId"`
	SubmissionType battle.SubmissionType `json:"submissionType"`
}

type respondRequest struct {
	UserID       string              `json:"userId"`
	ResponseType battle.ResponseType `json:"responseType"`
}

type readyRequest struct {
	UserID string `json:"userId"`
}

type exchangeRequest struct {
	UserID         string            `json:"userId"`
	DiscardCardIDs []string          `json:"discardCardIds"`
	DrawSource     battle.DrawSource `json:"drawSource"`
}

type generateRequest struct {
	UserID        string   `json:"userId"`
	PositiveCards []string `json:"positiveCards"`
	NegativeCards []string `json:"negativeCards"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return false
	}
	return true
}

func (h *BattleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBattleRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.Battles.CreateBattle(r.Context(), callerID(r), req.PlayerIDs, req.DeckIDs)
	if err != nil {
		writeBattleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"battleId": id})
}

func (h *BattleHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decode(w, r, &req) {
		return
	}
	score, err := h.Battles.SubmitCard(r.Context(), callerID(r), r.PathValue("id"), req.UserID, req.CardID, req.SubmissionType)
	if err != nil {
		writeBattleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "finalScore": score})
}

func (h *BattleHandler) Respond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.Battles.RespondToDeclaration(r.Context(), callerID(r), r.PathValue("id"), req.UserID, req.ResponseType); err != nil {
		writeBattleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *BattleHandler) Ready(w http.ResponseWriter, r *http.Request) {
	var req readyRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.Battles.SetPlayerReady(r.Context(), callerID(r), r.PathValue("id"), req.UserID); err != nil {
		writeBattleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *BattleHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if !decode(w, r, &req) {
		return
	}
	drawn, err := h.Battles.ExchangeCards(r.Context(), callerID(r), r.PathValue("id"), req.UserID, req.DiscardCardIDs, req.DrawSource)
	if err != nil {
		writeBattleError(w, h.Log, err)
		return
	}
	if drawn == nil {
		drawn = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "drawnCards": drawn})
}

func (h *BattleHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Battles.GenerateWord(r.Context(), callerID(r), r.PathValue("id"), req.UserID, req.PositiveCards, req.NegativeCards)
	if err != nil {
		writeBattleError(w, h.Log, err)
		return
	}
	out := map[string]any{
		"success":           true,
		"generatedCard":     res.CardID,
		"generatedCardText": res.Text,
	}
	if res.Warning != "" {
		out["warning"] = res.Warning
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BattleHandler) NextRound(w http.ResponseWriter, r *http.Request) {
	if err := h.Battles.StartNextRound(r.Context(), callerID(r), r.PathValue("id")); err != nil {
		writeBattleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *BattleHandler) Timeout(w http.ResponseWriter, r *http.Request) {
	fired, err := h.Battles.CheckPhaseTimeout(r.Context(), callerID(r), r.PathValue("id"))
	if err != nil {
		writeBattleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"timedOut": fired})
}

func (h *BattleHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.Battles.GetBattle(r.Context(), callerID(r), r.PathValue("id"))
	if err != nil {
		writeBattleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// List returns the battles of ?userId=, defaulting to the caller.
func (h *BattleHandler) List(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = caller
	}
	bs, err := h.Battles.GetUserBattles(r.Context(), caller, userID)
	if err != nil {
		writeBattleError(w, h.Log, err)
		return
	}
	if bs == nil {
		bs = []battle.Battle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"battles": bs})
}
