package handlers

import (
	"net/http"
	"time"

	"github.com/CrowderSoup/crm-board/calendar"
	"github.com/CrowderSoup/crm-board/database"
	"github.com/gorilla/mux"
)

// CalendarHandler serves calendar events
type CalendarHandler struct {
	dataService *database.DataService
}

func NewCalendarHandler(dataService *database.DataService) *CalendarHandler {
	return &CalendarHandler{dataService: dataService}
}

// ListEvents returns the events intersecting [start, end), both RFC 3339 instants
func (h *CalendarHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		http.Error(w, "start must be an RFC 3339 instant", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		http.Error(w, "end must be an RFC 3339 instant", http.StatusBadRequest)
		return
	}
	if !end.After(start) {
		http.Error(w, "end must be after start", http.StatusBadRequest)
		return
	}

	events, err := h.dataService.ListEvents(start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, events)
}

// CreateEvent stores a new event
func (h *CalendarHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var e calendar.Event
	if !decode(w, r, &e) {
		return
	}

	created, err := h.dataService.CreateEvent(e)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

// UpdateEvent replaces an event's title, schedule and color
func (h *CalendarHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var e calendar.Event
	if !decode(w, r, &e) {
		return
	}
	e.ID = mux.Vars(r)["event"]

	saved, err := h.dataService.UpdateEvent(e)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, saved)
}

// DeleteEvent removes an event
func (h *CalendarHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.dataService.DeleteEvent(mux.Vars(r)["event"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
