package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/CrowderSoup/crm-board/database"
	"github.com/CrowderSoup/crm-board/services"
	"github.com/rs/zerolog/log"
)

// AuthHandler handles authentication-related endpoints
type AuthHandler struct {
	authService *services.AuthService
	dataService *database.DataService
}

func NewAuthHandler(authService *services.AuthService, dataService *database.DataService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		dataService: dataService,
	}
}

// Login handles the login request (sending a magic link)
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	if req.Email == "" || !strings.Contains(req.Email, "@") {
		http.Error(w, "Invalid email address", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	baseURL := fmt.Sprintf("%s://%s", scheme, r.Host)

	magicLink, err := h.authService.GenerateMagicLink(req.Email, baseURL)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate magic link")
		http.Error(w, "Failed to generate login link", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "success",
		"message":   "Magic link has been sent",
		"magicLink": magicLink, // For development only
	})
}

// HandleMagicLink exchanges a magic link token for a session token, creating
// the user on first login
func (h *AuthHandler) HandleMagicLink(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusBadRequest)
		return
	}

	email, err := h.authService.VerifyMagicLinkToken(token)
	if err != nil {
		http.Error(w, "Invalid or expired token", http.StatusBadRequest)
		return
	}

	user, err := h.dataService.UpsertUser(email, "")
	if err != nil {
		writeError(w, r, err)
		return
	}

	id := services.Identity{UserID: user.ID, Email: user.Email, Name: user.Name}
	jwtToken, err := h.authService.CreateJWT(id)
	if err != nil {
		log.Error().Err(err).Msg("failed to create session token")
		http.Error(w, "Authentication error", http.StatusInternalServerError)
		return
	}

	log.Info().Str("user", user.ID).Msg("user signed in")
	writeData(w, http.StatusOK, map[string]any{
		"token": jwtToken,
		"user":  id,
	})
}

// VerifyToken returns the identity behind the request's token
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}
	writeData(w, http.StatusOK, id)
}
