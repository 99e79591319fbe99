package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/CrowderSoup/crm-board/board"
)

const cardColumns = `id, list_id, title, description, contact_name, contact_email, contact_phone, industry, priority`

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(row scanner) (board.Card, error) {
	var c board.Card
	var priority string
	err := row.Scan(&c.ID, &c.ListID, &c.Title, &c.Description, &c.ContactName, &c.ContactEmail, &c.ContactPhone, &c.Industry, &priority)
	c.Priority = board.Priority(priority)
	return c, err
}

// GetBoard returns the lists of boardID in order, each with its cards in order.
func (s *DataService) GetBoard(boardID string) ([]board.Column, error) {
	rows, err := s.db.Query("SELECT id, title, position FROM lists WHERE board_id = ? ORDER BY position, id", boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lists: %w", err)
	}

	cols := []board.Column{}
	index := make(map[string]int)
	for rows.Next() {
		col := board.Column{List: board.List{BoardID: boardID, CardIDs: []string{}}, Cards: []board.Card{}}
		if err := rows.Scan(&col.ID, &col.Title, &col.Order); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan list: %w", err)
		}
		index[col.ID] = len(cols)
		cols = append(cols, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lists: %w", err)
	}

	rows, err = s.db.Query(`SELECT c.`+strings.ReplaceAll(cardColumns, ", ", ", c.")+`
		FROM cards c JOIN lists l ON l.id = c.list_id
		WHERE l.board_id = ?
		ORDER BY c.list_id, c.position, c.id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		i, ok := index[card.ListID]
		if !ok {
			continue
		}
		cols[i].CardIDs = append(cols[i].CardIDs, card.ID)
		cols[i].Cards = append(cols[i].Cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cards: %w", err)
	}

	return cols, nil
}

// GetList returns the list with id, without its cards.
func (s *DataService) GetList(id string) (board.List, error) {
	return getList(s.db, id)
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func getList(q querier, id string) (board.List, error) {
	var l board.List
	err := q.QueryRow("SELECT id, board_id, title, position FROM lists WHERE id = ?", id).Scan(&l.ID, &l.BoardID, &l.Title, &l.Order)
	if err == sql.ErrNoRows {
		return board.List{}, fmt.Errorf("list %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return board.List{}, fmt.Errorf("failed to query list: %w", err)
	}
	return l, nil
}

// CreateList appends a list to boardID.
func (s *DataService) CreateList(boardID, title string) (board.List, error) {
	list := board.List{ID: newID(), BoardID: boardID, Title: title, CardIDs: []string{}}
	err := s.withTx(func(tx *sql.Tx) error {
		if err := tx.QueryRow("SELECT COALESCE(MAX(position) + 1, 0) FROM lists WHERE board_id = ?", boardID).Scan(&list.Order); err != nil {
			return fmt.Errorf("failed to query list position: %w", err)
		}
		_, err := tx.Exec("INSERT INTO lists (id, board_id, title, position) VALUES (?, ?, ?, ?)", list.ID, boardID, title, list.Order)
		if err != nil {
			return fmt.Errorf("failed to insert list: %w", err)
		}
		return nil
	})
	return list, err
}

// UpdateList renames a list and, when order is not nil, repositions it.
func (s *DataService) UpdateList(id, title string, order *int) (board.List, error) {
	var list board.List
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		if list, err = getList(tx, id); err != nil {
			return err
		}
		if title != "" {
			list.Title = title
		}
		if order != nil {
			list.Order = *order
		}
		_, err = tx.Exec("UPDATE lists SET title = ?, position = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", list.Title, list.Order, id)
		if err != nil {
			return fmt.Errorf("failed to update list: %w", err)
		}
		return nil
	})
	return list, err
}

// DeleteList removes a list and its cards, returning the removed list.
func (s *DataService) DeleteList(id string) (board.List, error) {
	var list board.List
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		if list, err = getList(tx, id); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM cards WHERE list_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete cards: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM lists WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete list: %w", err)
		}
		return nil
	})
	return list, err
}

// GetCard returns the card with id.
func (s *DataService) GetCard(id string) (board.Card, error) {
	return getCard(s.db, id)
}

func getCard(q querier, id string) (board.Card, error) {
	card, err := scanCard(q.QueryRow("SELECT "+cardColumns+" FROM cards WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return board.Card{}, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return board.Card{}, fmt.Errorf("failed to query card: %w", err)
	}
	return card, nil
}

// CreateCard appends card to listID and returns it with its new id.
func (s *DataService) CreateCard(listID string, card board.Card) (board.Card, error) {
	if !card.Priority.Valid() {
		return board.Card{}, fmt.Errorf("%w: priority %q", ErrInvalid, card.Priority)
	}

	card.ID = newID()
	card.ListID = listID
	err := s.withTx(func(tx *sql.Tx) error {
		if _, err := getList(tx, listID); err != nil {
			return err
		}
		var position int
		if err := tx.QueryRow("SELECT COALESCE(MAX(position) + 1, 0) FROM cards WHERE list_id = ?", listID).Scan(&position); err != nil {
			return fmt.Errorf("failed to query card position: %w", err)
		}
		_, err := tx.Exec(`INSERT INTO cards (`+cardColumns+`, position) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			card.ID, listID, card.Title, card.Description, card.ContactName, card.ContactEmail, card.ContactPhone, card.Industry, string(card.Priority), position)
		if err != nil {
			return fmt.Errorf("failed to insert card: %w", err)
		}
		return nil
	})
	if err != nil {
		return board.Card{}, err
	}
	return card, nil
}

// UpdateCard replaces the editable fields of a card. The list is unchanged;
// use MoveCard for that.
func (s *DataService) UpdateCard(card board.Card) (board.Card, error) {
	if !card.Priority.Valid() {
		return board.Card{}, fmt.Errorf("%w: priority %q", ErrInvalid, card.Priority)
	}

	err := s.withTx(func(tx *sql.Tx) error {
		existing, err := getCard(tx, card.ID)
		if err != nil {
			return err
		}
		card.ListID = existing.ListID
		_, err = tx.Exec(`UPDATE cards SET title = ?, description = ?, contact_name = ?, contact_email = ?,
			contact_phone = ?, industry = ?, priority = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			card.Title, card.Description, card.ContactName, card.ContactEmail, card.ContactPhone, card.Industry, string(card.Priority), card.ID)
		if err != nil {
			return fmt.Errorf("failed to update card: %w", err)
		}
		return nil
	})
	if err != nil {
		return board.Card{}, err
	}
	return card, nil
}

// DeleteCard removes a card and closes the gap it leaves.
func (s *DataService) DeleteCard(id string) (board.Card, error) {
	var card board.Card
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		if card, err = getCard(tx, id); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM cards WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete card: %w", err)
		}
		ids, err := cardIDs(tx, card.ListID, "")
		if err != nil {
			return err
		}
		return renumber(tx, ids)
	})
	return card, err
}

// MoveCard places a card at index of destListID, clamping the index, and
// renumbers the affected lists. Both lists must be on the same board.
func (s *DataService) MoveCard(id, destListID string, index int) (board.Card, error) {
	var card board.Card
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		if card, err = getCard(tx, id); err != nil {
			return err
		}
		src, err := getList(tx, card.ListID)
		if err != nil {
			return err
		}
		dest, err := getList(tx, destListID)
		if err != nil {
			return err
		}
		if src.BoardID != dest.BoardID {
			return fmt.Errorf("%w: card %s cannot move to list %s on another board", ErrInvalid, id, destListID)
		}

		ids, err := cardIDs(tx, destListID, id)
		if err != nil {
			return err
		}
		if index < 0 {
			index = 0
		}
		if index > len(ids) {
			index = len(ids)
		}
		ids = append(ids[:index], append([]string{id}, ids[index:]...)...)

		if _, err := tx.Exec("UPDATE cards SET list_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", destListID, id); err != nil {
			return fmt.Errorf("failed to move card: %w", err)
		}
		if err := renumber(tx, ids); err != nil {
			return err
		}

		if src.ID != dest.ID {
			rest, err := cardIDs(tx, src.ID, id)
			if err != nil {
				return err
			}
			if err := renumber(tx, rest); err != nil {
				return err
			}
		}

		card.ListID = destListID
		return nil
	})
	return card, err
}

// cardIDs returns the ordered card ids of listID, leaving out skip.
func cardIDs(tx *sql.Tx, listID, skip string) ([]string, error) {
	rows, err := tx.Query("SELECT id FROM cards WHERE list_id = ? AND id != ? ORDER BY position, id", listID, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to query card order: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan card id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func renumber(tx *sql.Tx, ids []string) error {
	stmt, err := tx.Prepare("UPDATE cards SET position = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare renumber: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		if _, err := stmt.Exec(i, id); err != nil {
			return fmt.Errorf("failed to renumber card %s: %w", id, err)
		}
	}
	return nil
}
