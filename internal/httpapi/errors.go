package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"example.com/word-battle/internal/battle"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, ErrorResponse{Code: errCode, Message: msg})
}

var statusByCode = map[battle.Code]int{
	battle.CodeUnauthenticated:         http.StatusUnauthorized,
	battle.CodeForbidden:               http.StatusForbidden,
	battle.CodeNotFound:                http.StatusNotFound,
	battle.CodeInvalidPhase:            http.StatusConflict,
	battle.CodePreconditionFailed:      http.StatusPreconditionFailed,
	battle.CodeUnimplemented:           http.StatusNotImplemented,
	battle.CodeExternalServiceDegraded: http.StatusServiceUnavailable,
}

// writeBattleError surfaces domain errors with their code and message and hides
// infrastructure errors behind a generic 500.
func writeBattleError(w http.ResponseWriter, log *slog.Logger, err error) {
	var de *battle.Error
	if errors.As(err, &de) {
		status, ok := statusByCode[de.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		writeError(w, status, string(de.Code), de.Message)
		return
	}
	if errors.Is(err, battle.ErrConflict) {
		writeError(w, http.StatusConflict, "conflict", "battle is busy, retry")
		return
	}
	if log == nil {
		log = slog.Default()
	}
	log.Error("battle request failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}
