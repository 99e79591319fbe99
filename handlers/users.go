package handlers

import (
	"net/http"

	"github.com/CrowderSoup/crm-board/database"
	"github.com/gorilla/mux"
)

// UserHandler resolves user ids to display names
type UserHandler struct {
	dataService *database.DataService
}

func NewUserHandler(dataService *database.DataService) *UserHandler {
	return &UserHandler{dataService: dataService}
}

// GetUser returns the public profile of a user. Emails are not exposed.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.dataService.GetUser(mux.Vars(r)["user"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{
		"id":   user.ID,
		"name": user.Name,
	})
}
