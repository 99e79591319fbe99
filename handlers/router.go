package handlers

import (
	"net/http"
	"time"

	"github.com/CrowderSoup/crm-board/database"
	"github.com/CrowderSoup/crm-board/services"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// RouterConfig carries what the HTTP API is built from.
type RouterConfig struct {
	Auth           *services.AuthService
	Data           *database.DataService
	Hub            *services.Hub
	AllowedOrigins []string
}

// NewRouter wires every route behind CORS.
func NewRouter(cfg RouterConfig) http.Handler {
	authHandler := NewAuthHandler(cfg.Auth, cfg.Data)
	boardHandler := NewBoardHandler(cfg.Data, cfg.Hub)
	calendarHandler := NewCalendarHandler(cfg.Data)
	userHandler := NewUserHandler(cfg.Data)
	pushHandler := NewPushHandler(cfg.Hub)
	authMiddleware := NewAuthMiddleware(cfg.Auth)

	r := mux.NewRouter()
	r.Use(requestLogger)

	// Auth routes
	r.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/api/auth/magic-link", authHandler.HandleMagicLink).Methods("GET")

	// Protected routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware.Auth)

	api.HandleFunc("/auth/verify", authHandler.VerifyToken).Methods("GET")

	api.HandleFunc("/boards/{board}/lists", boardHandler.GetLists).Methods("GET")
	api.HandleFunc("/boards/{board}/lists", boardHandler.CreateList).Methods("POST")
	api.HandleFunc("/lists/{list}", boardHandler.UpdateList).Methods("PATCH")
	api.HandleFunc("/lists/{list}", boardHandler.DeleteList).Methods("DELETE")
	api.HandleFunc("/lists/{list}/cards", boardHandler.CreateCard).Methods("POST")
	api.HandleFunc("/cards/{card}", boardHandler.UpdateCard).Methods("PATCH")
	api.HandleFunc("/cards/{card}", boardHandler.DeleteCard).Methods("DELETE")
	api.HandleFunc("/cards/{card}/move", boardHandler.MoveCard).Methods("PATCH")

	api.HandleFunc("/events", calendarHandler.ListEvents).Methods("GET")
	api.HandleFunc("/events", calendarHandler.CreateEvent).Methods("POST")
	api.HandleFunc("/events/{event}", calendarHandler.UpdateEvent).Methods("PATCH")
	api.HandleFunc("/events/{event}", calendarHandler.DeleteEvent).Methods("DELETE")

	api.HandleFunc("/users/{user}", userHandler.GetUser).Methods("GET")

	// WebSocket route for real-time updates
	api.HandleFunc("/ws", pushHandler.HandleWebSocket)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	return c.Handler(r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
