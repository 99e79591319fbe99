package pushchannel

import "github.com/CrowderSoup/crm-board/board"

// Event names carried in Message.Type.
const (
	ListCreated = "list:created"
	ListUpdated = "list:updated"
	ListDeleted = "list:deleted"

	CardCreated    = "card:created"
	CardUpdated    = "card:updated"
	CardDeleted    = "card:deleted"
	CardDragStart  = "card:dragStart"
	CardDragUpdate = "card:dragUpdate"
	CardDragEnd    = "card:dragEnd"
	CardMoved      = "card:moved"

	CallStarted   = "call:started"
	CallEnded     = "call:ended"
	CallActiveSet = "call:activeSet"

	// UserLeft is sent by the hub when a user's last connection to a board closes.
	UserLeft = "user:left"

	Ping = "ping"
	Pong = "pong"
)

// ListDeletedPayload is the data of list:deleted.
type ListDeletedPayload struct {
	ID string `json:"id"`
}

// CardPayload is the data of card:created and card:updated.
type CardPayload struct {
	ListID string     `json:"listId"`
	Card   board.Card `json:"card"`
}

// CardDeletedPayload is the data of card:deleted.
type CardDeletedPayload struct {
	ListID string `json:"listId"`
	CardID string `json:"cardId"`
}

// DragStartPayload is the data of card:dragStart.
type DragStartPayload struct {
	CardID string `json:"cardId"`
	User   string `json:"user,omitempty"`
}

// DragUpdatePayload is the data of card:dragUpdate.
type DragUpdatePayload struct {
	CardID     string `json:"cardId"`
	DestListID string `json:"destListId"`
	DestIndex  int    `json:"destIndex"`
	User       string `json:"user,omitempty"`
}

// DragEndPayload is the data of card:dragEnd and card:moved. An empty
// DestListID is a cancelled drag.
type DragEndPayload struct {
	CardID     string `json:"cardId"`
	DestListID string `json:"destListId,omitempty"`
	DestIndex  int    `json:"destIndex"`
	User       string `json:"user,omitempty"`
}

// CallPayload is the data of the call:* events.
type CallPayload struct {
	CallID string `json:"callId"`
	User   string `json:"user,omitempty"`
	Room   string `json:"room,omitempty"`
}

// UserLeftPayload is the data of user:left.
type UserLeftPayload struct {
	User string `json:"user"`
}
