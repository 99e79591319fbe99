package handlers

import (
	"net/http"

	"github.com/CrowderSoup/crm-board/services"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// PushHandler attaches push-channel connections to the hub
type PushHandler struct {
	hub      *services.Hub
	upgrader websocket.Upgrader
}

func NewPushHandler(hub *services.Hub) *PushHandler {
	return &PushHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // origins are enforced by CORS and the token
			},
		},
	}
}

// HandleWebSocket upgrades the HTTP connection to a WebSocket connection
// scoped to the board named in the query
func (h *PushHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}
	board := r.URL.Query().Get("board")
	if board == "" {
		http.Error(w, "board is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("failed to upgrade to websocket")
		return
	}

	// a user may have several tabs or devices on the same board
	client := services.NewClient(h.hub, conn, id.UserID, board)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
