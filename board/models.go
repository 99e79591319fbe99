package board

// Priority is the optional urgency tag of a card.
type Priority string

const (
	PriorityNone   Priority = ""
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is unset or one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityNone, PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Card is a lead on the board. It belongs to exactly one list.
type Card struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	ListID       string   `json:"listId"`
	ContactName  string   `json:"contactName,omitempty"`
	ContactEmail string   `json:"contactEmail,omitempty"`
	ContactPhone string   `json:"contactPhone,omitempty"`
	Industry     string   `json:"industry,omitempty"`
	Priority     Priority `json:"priority,omitempty"`
}

// List is a kanban column. CardIDs is the render order of its cards.
type List struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Order   int      `json:"order"`
	BoardID string   `json:"boardId"`
	CardIDs []string `json:"cardIds"`
}

// Column is a list together with its cards in order, as fetched from the API.
type Column struct {
	List
	Cards []Card `json:"cards"`
}

// Placement returns the list id and index of cardID in columns, or ("", -1).
func Placement(columns []Column, cardID string) (string, int) {
	for _, col := range columns {
		for i, id := range col.CardIDs {
			if id == cardID {
				return col.ID, i
			}
		}
	}
	return "", -1
}
