package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/CrowderSoup/crm-board/calendar"
	"github.com/CrowderSoup/crm-board/database"
	"github.com/rs/zerolog/log"
)

// Broadcaster pushes an event to the clients watching a board.
type Broadcaster interface {
	Broadcast(board, eventType string, data any, user string) error
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "success",
		"data":   data,
	})
}

// writeError maps storage and validation errors to status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *calendar.ValidationError
	switch {
	case errors.Is(err, database.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &verr), errors.Is(err, database.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		http.Error(w, "Server error", http.StatusInternalServerError)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return false
	}
	return true
}

func broadcast(hub Broadcaster, board, eventType string, data any, user string) {
	if hub == nil || board == "" {
		return
	}
	if err := hub.Broadcast(board, eventType, data, user); err != nil {
		log.Warn().Err(err).Str("board", board).Str("event", eventType).Msg("failed to broadcast")
	}
}
