package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CrowderSoup/crm-board/board"
	"github.com/CrowderSoup/crm-board/calendar"
)

const defaultTimeout = 15 * time.Second

// ErrNotFound matches a 404 response.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Code, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404s.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Identity is the account behind the client's token.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Client talks to the CRM REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the API at baseURL authenticating with token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the bearer token.
func (c *Client) Token() string {
	return c.token
}

// Verify resolves the token to the signed-in identity.
func (c *Client) Verify(ctx context.Context) (Identity, error) {
	var id Identity
	err := c.do(ctx, http.MethodGet, "/api/auth/verify", nil, nil, &id)
	return id, err
}

// FetchBoard returns the lists of boardID with their cards in order.
func (c *Client) FetchBoard(ctx context.Context, boardID string) ([]board.Column, error) {
	var cols []board.Column
	if err := c.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID)+"/lists", nil, nil, &cols); err != nil {
		return nil, fmt.Errorf("fetch board %s: %w", boardID, err)
	}
	return cols, nil
}

// MoveCard persists a card's new list and position.
func (c *Client) MoveCard(ctx context.Context, cardID, destListID string, destIndex int) error {
	body := map[string]any{"listId": destListID, "index": destIndex}
	if err := c.do(ctx, http.MethodPatch, "/api/cards/"+url.PathEscape(cardID)+"/move", nil, body, nil); err != nil {
		return fmt.Errorf("move card %s: %w", cardID, err)
	}
	return nil
}

// Events returns the events intersecting [start, end).
func (c *Client) Events(ctx context.Context, start, end time.Time) ([]calendar.Event, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))

	var events []calendar.Event
	if err := c.do(ctx, http.MethodGet, "/api/events", q, nil, &events); err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	return events, nil
}

// CreateEvent stores a new event.
func (c *Client) CreateEvent(ctx context.Context, e calendar.Event) (calendar.Event, error) {
	var created calendar.Event
	if err := c.do(ctx, http.MethodPost, "/api/events", nil, e, &created); err != nil {
		return calendar.Event{}, fmt.Errorf("create event: %w", err)
	}
	return created, nil
}

// UpdateEvent replaces an event's schedule, title and color.
func (c *Client) UpdateEvent(ctx context.Context, e calendar.Event) (calendar.Event, error) {
	var saved calendar.Event
	if err := c.do(ctx, http.MethodPatch, "/api/events/"+url.PathEscape(e.ID), nil, e, &saved); err != nil {
		return calendar.Event{}, fmt.Errorf("update event %s: %w", e.ID, err)
	}
	return saved, nil
}

// DeleteEvent removes an event.
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/events/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	return nil
}

// DisplayName looks up a user's name.
func (c *Client) DisplayName(ctx context.Context, userID string) (string, error) {
	var user struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID), nil, nil, &user); err != nil {
		return "", fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return user.Name, nil
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data (status %s): %w", strconv.Quote(env.Status), err)
	}
	return nil
}
