package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/clinicore/clinic-scheduling/internal/apperror"
)

type ErrorResponse struct {
	Error   string         `json:"error"`
	Details string         `json:"details,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError maps an apperror kind to a transport status. The code in
// the body is the stable contract, the status only classifies it.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperror.From(err)
	if !ok {
		log.Error().Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("unexpected error")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperror.KindValidation:
		status = http.StatusBadRequest
	case apperror.KindConflict:
		status = http.StatusConflict
	case apperror.KindNotFound:
		status = http.StatusNotFound
	case apperror.KindForbidden:
		status = http.StatusForbidden
	case apperror.KindUpstream:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, ErrorResponse{Error: appErr.Code, Details: appErr.Message, Extra: appErr.Extra})
}
