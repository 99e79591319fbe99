package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CrowderSoup/crm-board/board"
	"github.com/CrowderSoup/crm-board/calendar"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": data})
}

func newServer(t *testing.T, register func(r *mux.Router)) *Client {
	t.Helper()
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Authorization") != "Bearer tok" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "tok")
}

func TestFetchBoard(t *testing.T) {
	client := newServer(t, func(r *mux.Router) {
		r.HandleFunc("/api/boards/{board}/lists", func(w http.ResponseWriter, req *http.Request) {
			assert.Equal(t, "b 1", mux.Vars(req)["board"])
			writeData(w, []board.Column{{
				List:  board.List{ID: "A", Title: "Leads", BoardID: "b 1", CardIDs: []string{"c1"}},
				Cards: []board.Card{{ID: "c1", Title: "Acme", ListID: "A", Priority: board.PriorityHigh}},
			}})
		}).Methods(http.MethodGet)
	})

	cols, err := client.FetchBoard(context.Background(), "b 1")
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "Leads", cols[0].Title)
	assert.Equal(t, board.PriorityHigh, cols[0].Cards[0].Priority)
}

func TestMoveCard(t *testing.T) {
	var body map[string]any
	client := newServer(t, func(r *mux.Router) {
		r.HandleFunc("/api/cards/{card}/move", func(w http.ResponseWriter, req *http.Request) {
			raw, _ := io.ReadAll(req.Body)
			json.Unmarshal(raw, &body)
			writeData(w, nil)
		}).Methods(http.MethodPatch)
	})

	require.NoError(t, client.MoveCard(context.Background(), "c1", "B", 3))
	assert.Equal(t, "B", body["listId"])
	assert.Equal(t, float64(3), body["index"])
}

func TestEventsRoundTrip(t *testing.T) {
	start := time.Date(2025, 10, 19, 0, 0, 0, 0, time.UTC)
	client := newServer(t, func(r *mux.Router) {
		r.HandleFunc("/api/events", func(w http.ResponseWriter, req *http.Request) {
			assert.Equal(t, "2025-10-19T00:00:00Z", req.URL.Query().Get("start"))
			assert.Equal(t, "2025-10-26T00:00:00Z", req.URL.Query().Get("end"))
			writeData(w, []calendar.Event{{ID: "e1", Title: "Call", Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)}})
		}).Methods(http.MethodGet)
		r.HandleFunc("/api/events", func(w http.ResponseWriter, req *http.Request) {
			var e calendar.Event
			json.NewDecoder(req.Body).Decode(&e)
			e.ID = "e2"
			w.WriteHeader(http.StatusCreated)
			writeData(w, e)
		}).Methods(http.MethodPost)
		r.HandleFunc("/api/events/{id}", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}).Methods(http.MethodDelete)
	})

	ctx := context.Background()
	events, err := client.Events(ctx, start, start.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Call", events[0].Title)

	created, err := client.CreateEvent(ctx, calendar.Event{Title: "Demo", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "e2", created.ID)

	assert.NoError(t, client.DeleteEvent(ctx, "e2"))
}

func TestStatusErrors(t *testing.T) {
	client := newServer(t, func(r *mux.Router) {
		r.HandleFunc("/api/users/{id}", func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "user not found", http.StatusNotFound)
		})
	})

	_, err := client.DisplayName(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "user not found", statusErr.Message)

	unauthorized := New(client.BaseURL(), "wrong")
	_, err = unauthorized.FetchBoard(context.Background(), "b1")
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
}

func TestVerifyAndDisplayName(t *testing.T) {
	client := newServer(t, func(r *mux.Router) {
		r.HandleFunc("/api/auth/verify", func(w http.ResponseWriter, req *http.Request) {
			writeData(w, Identity{UserID: "u1", Email: "ada@example.com", Name: "Ada"})
		})
		r.HandleFunc("/api/users/{id}", func(w http.ResponseWriter, req *http.Request) {
			writeData(w, map[string]string{"id": mux.Vars(req)["id"], "name": "Grace"})
		})
	})

	id, err := client.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)

	name, err := client.DisplayName(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, "Grace", name)
}
