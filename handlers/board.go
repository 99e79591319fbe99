package handlers

import (
	"net/http"
	"strings"

	"github.com/CrowderSoup/crm-board/board"
	"github.com/CrowderSoup/crm-board/database"
	"github.com/CrowderSoup/crm-board/pushchannel"
	"github.com/gorilla/mux"
)

// BoardHandler serves lists and cards and tells the board about every change
type BoardHandler struct {
	dataService *database.DataService
	hub         Broadcaster
}

func NewBoardHandler(dataService *database.DataService, hub Broadcaster) *BoardHandler {
	return &BoardHandler{
		dataService: dataService,
		hub:         hub,
	}
}

func userOf(r *http.Request) string {
	id, _ := IdentityFrom(r.Context())
	return id.UserID
}

// GetLists returns the lists of a board with their cards in order
func (h *BoardHandler) GetLists(w http.ResponseWriter, r *http.Request) {
	cols, err := h.dataService.GetBoard(mux.Vars(r)["board"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, cols)
}

// CreateList appends a list to a board
func (h *BoardHandler) CreateList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	list, err := h.dataService.CreateList(mux.Vars(r)["board"], strings.TrimSpace(req.Title))
	if err != nil {
		writeError(w, r, err)
		return
	}

	broadcast(h.hub, list.BoardID, pushchannel.ListCreated, list, userOf(r))
	writeData(w, http.StatusCreated, list)
}

// UpdateList renames or reorders a list
func (h *BoardHandler) UpdateList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Order *int   `json:"order"`
	}
	if !decode(w, r, &req) {
		return
	}

	list, err := h.dataService.UpdateList(mux.Vars(r)["list"], strings.TrimSpace(req.Title), req.Order)
	if err != nil {
		writeError(w, r, err)
		return
	}

	broadcast(h.hub, list.BoardID, pushchannel.ListUpdated, list, userOf(r))
	writeData(w, http.StatusOK, list)
}

// DeleteList removes a list and its cards
func (h *BoardHandler) DeleteList(w http.ResponseWriter, r *http.Request) {
	list, err := h.dataService.DeleteList(mux.Vars(r)["list"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	broadcast(h.hub, list.BoardID, pushchannel.ListDeleted, pushchannel.ListDeletedPayload{ID: list.ID}, userOf(r))
	w.WriteHeader(http.StatusNoContent)
}

// CreateCard appends a card to a list
func (h *BoardHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var card board.Card
	if !decode(w, r, &card) {
		return
	}
	if strings.TrimSpace(card.Title) == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	list, err := h.dataService.GetList(mux.Vars(r)["list"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := h.dataService.CreateCard(list.ID, card)
	if err != nil {
		writeError(w, r, err)
		return
	}

	broadcast(h.hub, list.BoardID, pushchannel.CardCreated, pushchannel.CardPayload{ListID: list.ID, Card: created}, userOf(r))
	writeData(w, http.StatusCreated, created)
}

// UpdateCard edits a card's details
func (h *BoardHandler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	var card board.Card
	if !decode(w, r, &card) {
		return
	}
	card.ID = mux.Vars(r)["card"]

	updated, err := h.dataService.UpdateCard(card)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.dataService.GetList(updated.ListID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	broadcast(h.hub, list.BoardID, pushchannel.CardUpdated, pushchannel.CardPayload{ListID: list.ID, Card: updated}, userOf(r))
	writeData(w, http.StatusOK, updated)
}

// DeleteCard removes a card
func (h *BoardHandler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	cardID := mux.Vars(r)["card"]
	card, err := h.dataService.GetCard(cardID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.dataService.GetList(card.ListID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.dataService.DeleteCard(cardID); err != nil {
		writeError(w, r, err)
		return
	}

	broadcast(h.hub, list.BoardID, pushchannel.CardDeleted, pushchannel.CardDeletedPayload{ListID: list.ID, CardID: cardID}, userOf(r))
	w.WriteHeader(http.StatusNoContent)
}

// MoveCard persists a card's list and position. Moves are announced by the
// client that made them over the push channel, so nothing is broadcast here.
func (h *BoardHandler) MoveCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ListID string `json:"listId"`
		Index  int    `json:"index"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ListID == "" {
		http.Error(w, "listId is required", http.StatusBadRequest)
		return
	}

	card, err := h.dataService.MoveCard(mux.Vars(r)["card"], req.ListID, req.Index)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, card)
}
