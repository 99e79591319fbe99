package board

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CrowderSoup/crm-board/presence"
	"github.com/rs/zerolog/log"
)

type position struct {
	listID string
	index  int
}

// pendingMove is a local move whose persist call has not returned yet.
type pendingMove struct {
	position
	inFlight int
	seq      uint64
}

// Reconciler owns the local view of one board: its lists, their ordered cards,
// and the live previews of cards other users are dragging. Every mutation goes
// through its methods; none of them panic or return errors on unknown ids.
type Reconciler struct {
	mu       sync.Mutex
	boardID  string
	lists    map[string]*List
	cards    map[string]Card
	previews map[string]position
	pending  map[string]*pendingMove
	seq      uint64
	locks    *presence.Tracker
	diverged bool
}

// NewReconciler creates an empty reconciler for boardID.
func NewReconciler(boardID string, locks *presence.Tracker) *Reconciler {
	if locks == nil {
		locks = presence.NewTracker(presence.DefaultLockTTL)
	}
	return &Reconciler{
		boardID:  boardID,
		lists:    make(map[string]*List),
		cards:    make(map[string]Card),
		previews: make(map[string]position),
		pending:  make(map[string]*pendingMove),
		locks:    locks,
	}
}

// BoardID returns the board currently displayed.
func (r *Reconciler) BoardID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.boardID
}

// Locks exposes the presence tracker shared with the board view.
func (r *Reconciler) Locks() *presence.Tracker {
	return r.locks
}

// Reset switches to boardID and drops all state. Responses still in flight for
// the previous board are ignored by Load afterwards.
func (r *Reconciler) Reset(boardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.boardID = boardID
	r.lists = make(map[string]*List)
	r.cards = make(map[string]Card)
	r.previews = make(map[string]position)
	r.pending = make(map[string]*pendingMove)
	r.diverged = false
	r.locks.Clear()
}

// Load replaces the board contents with a fetched snapshot. Local moves still
// waiting for the server are applied again on top of it, so a refetch never
// undoes them. It returns false and changes nothing when boardID is no longer
// the active board.
func (r *Reconciler) Load(boardID string, columns []Column) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if boardID != r.boardID {
		log.Debug().Str("board", boardID).Str("active", r.boardID).Msg("dropping stale board load")
		return false
	}

	lists := make(map[string]*List, len(columns))
	cards := make(map[string]Card)

	sorted := append([]Column(nil), columns...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for _, col := range sorted {
		if col.ID == "" {
			continue
		}
		if _, dup := lists[col.ID]; dup {
			continue
		}

		list := &List{ID: col.ID, Title: col.Title, Order: col.Order, BoardID: col.BoardID}
		for _, card := range col.Cards {
			if card.ID == "" {
				continue
			}
			if _, seen := cards[card.ID]; seen {
				continue
			}
			card.ListID = list.ID
			cards[card.ID] = card
			list.CardIDs = append(list.CardIDs, card.ID)
		}
		lists[list.ID] = list
	}

	r.lists = lists
	r.cards = cards
	r.diverged = false
	r.replayPending()
	for cardID := range r.previews {
		if _, ok := cards[cardID]; !ok {
			delete(r.previews, cardID)
		}
	}

	return true
}

// Diverged reports whether a persistence call failed since the last Load, so
// local state may no longer match the server.
func (r *Reconciler) Diverged() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.diverged
}

// ApplyLocalMove moves cardID to destIndex of destListID immediately. The
// index is clamped to the destination. It reports whether anything changed.
func (r *Reconciler) ApplyLocalMove(cardID, destListID string, destIndex int) ([]Column, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// the local user's action is the last one applied to this card
	delete(r.previews, cardID)

	moved := r.move(cardID, destListID, destIndex)
	if moved {
		r.trackPending(cardID)
	}
	return r.snapshot(), moved
}

// ApplyRemoteDragUpdate records that userID is dragging cardID over
// destListID at destIndex. The move is only previewed, not committed.
func (r *Reconciler) ApplyRemoteDragUpdate(cardID, userID, destListID string, destIndex int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cards[cardID]; !ok {
		return false
	}
	if _, ok := r.lists[destListID]; !ok {
		return false
	}

	r.locks.Track(cardID, userID, destListID, destIndex)
	r.previews[cardID] = position{listID: destListID, index: destIndex}
	return true
}

// ApplyRemoteDragEnd releases the lock on cardID and commits the move. An empty
// destListID means the drag was cancelled.
func (r *Reconciler) ApplyRemoteDragEnd(cardID, destListID string, destIndex int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.previews, cardID)
	r.locks.Unlock(cardID)

	if destListID == "" {
		return false
	}
	return r.move(cardID, destListID, destIndex)
}

// ApplyServerConfirmedMove settles a persisted move made by ApplyLocalMove.
// On failure the optimistic state is kept and the board is flagged as
// diverged.
func (r *Reconciler) ApplyServerConfirmedMove(cardID, destListID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pending[cardID]; ok {
		p.inFlight--
		if p.inFlight <= 0 {
			delete(r.pending, cardID)
		}
	}

	if err != nil {
		log.Warn().Err(err).Str("card", cardID).Str("list", destListID).Msg("move not persisted, keeping local order")
		r.diverged = true
		return
	}

	if card, ok := r.cards[cardID]; ok && card.ListID != destListID {
		// a later move for the same card has been applied since
		log.Debug().Str("card", cardID).Str("confirmed", destListID).Str("local", card.ListID).Msg("superseded move confirmed")
	}
}

// ApplyCreate inserts card at the end of listID. Cards already on the board
// are left alone so an HTTP response and its push echo apply once.
func (r *Reconciler) ApplyCreate(listID string, card Card) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if card.ID == "" {
		return false
	}
	if _, exists := r.cards[card.ID]; exists {
		return false
	}
	list, ok := r.lists[listID]
	if !ok {
		return false
	}

	card.ListID = listID
	r.cards[card.ID] = card
	list.CardIDs = append(list.CardIDs, card.ID)
	return true
}

// ApplyUpdate replaces the fields of card, inserting it if unknown. A card
// reported in a different list is moved to the end of that list.
func (r *Reconciler) ApplyUpdate(listID string, card Card) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if card.ID == "" {
		return false
	}
	list, ok := r.lists[listID]
	if !ok {
		return false
	}

	prev, exists := r.cards[card.ID]
	card.ListID = listID
	r.cards[card.ID] = card

	if exists && prev.ListID == listID && indexOf(list.CardIDs, card.ID) >= 0 {
		return true
	}

	r.detach(card.ID)
	list.CardIDs = append(list.CardIDs, card.ID)
	return true
}

// ApplyDelete removes cardID from the board wherever it is.
func (r *Reconciler) ApplyDelete(listID, cardID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cards[cardID]; !ok {
		return false
	}

	r.detach(cardID)
	delete(r.cards, cardID)
	delete(r.previews, cardID)
	r.locks.Unlock(cardID)
	return true
}

// UpsertList adds or retitles a list. Lists of other boards are ignored.
func (r *Reconciler) UpsertList(list List) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if list.ID == "" {
		return false
	}
	if list.BoardID != "" && list.BoardID != r.boardID {
		return false
	}

	if existing, ok := r.lists[list.ID]; ok {
		existing.Title = list.Title
		existing.Order = list.Order
		return true
	}

	r.lists[list.ID] = &List{ID: list.ID, Title: list.Title, Order: list.Order, BoardID: r.boardID}
	return true
}

// DeleteList removes listID and every card in it.
func (r *Reconciler) DeleteList(listID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.lists[listID]
	if !ok {
		return false
	}

	for _, cardID := range list.CardIDs {
		delete(r.cards, cardID)
		delete(r.previews, cardID)
		r.locks.Unlock(cardID)
	}
	for cardID, p := range r.previews {
		if p.listID == listID {
			delete(r.previews, cardID)
		}
	}
	delete(r.lists, listID)
	return true
}

// ReleaseUser drops the locks and previews of userID.
func (r *Reconciler) ReleaseUser(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := r.locks.ReleaseUser(userID)
	for _, cardID := range released {
		delete(r.previews, cardID)
	}
	return released
}

// ExpireLocks drops locks, and their previews, that were not refreshed in time.
func (r *Reconciler) ExpireLocks(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := r.locks.Expire(now)
	for _, cardID := range expired {
		delete(r.previews, cardID)
	}
	return expired
}

// Card returns the card with the given id.
func (r *Reconciler) Card(cardID string) (Card, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.cards[cardID]
	return card, ok
}

// Snapshot returns the confirmed board contents ordered by list order.
func (r *Reconciler) Snapshot() []Column {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// View returns the board as it should be rendered: confirmed contents with
// the live drag previews of other users applied.
func (r *Reconciler) View() []Column {
	r.mu.Lock()
	defer r.mu.Unlock()

	cols := r.snapshot()
	byID := make(map[string]int, len(cols))
	for i, col := range cols {
		byID[col.ID] = i
	}

	cardIDs := make([]string, 0, len(r.previews))
	for cardID := range r.previews {
		cardIDs = append(cardIDs, cardID)
	}
	sort.Strings(cardIDs)

	for _, cardID := range cardIDs {
		p := r.previews[cardID]
		if _, ok := r.locks.Get(cardID); !ok {
			continue
		}
		dest, ok := byID[p.listID]
		if !ok {
			continue
		}
		card := r.cards[cardID]

		for i := range cols {
			if at := indexOf(cols[i].CardIDs, cardID); at >= 0 {
				cols[i].CardIDs = removeAt(cols[i].CardIDs, at)
				cols[i].Cards = append(cols[i].Cards[:at:at], cols[i].Cards[at+1:]...)
			}
		}

		idx := clamp(p.index, 0, len(cols[dest].CardIDs))
		card.ListID = p.listID
		cols[dest].CardIDs = insertAt(cols[dest].CardIDs, idx, cardID)
		cols[dest].Cards = append(cols[dest].Cards[:idx:idx], append([]Card{card}, cols[dest].Cards[idx:]...)...)
	}

	return cols
}

// CheckInvariant reports cards placed in more than one list, placed twice, or
// whose owning list disagrees with their placement.
func (r *Reconciler) CheckInvariant() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var problems []string
	seen := make(map[string]string)
	for _, list := range r.lists {
		for _, cardID := range list.CardIDs {
			if other, dup := seen[cardID]; dup {
				problems = append(problems, fmt.Sprintf("card %s in %s and %s", cardID, other, list.ID))
				continue
			}
			seen[cardID] = list.ID

			card, ok := r.cards[cardID]
			if !ok {
				problems = append(problems, fmt.Sprintf("card %s in %s has no data", cardID, list.ID))
			} else if card.ListID != list.ID {
				problems = append(problems, fmt.Sprintf("card %s placed in %s but owned by %s", cardID, list.ID, card.ListID))
			}
		}
	}
	for cardID := range r.cards {
		if _, ok := seen[cardID]; !ok {
			problems = append(problems, fmt.Sprintf("card %s is in no list", cardID))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("board invariant violated: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Pending returns the number of cards with local moves the server has not
// confirmed yet.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// trackPending records where cardID now sits. Must be called with r.mu held.
func (r *Reconciler) trackPending(cardID string) {
	card := r.cards[cardID]
	idx := -1
	if list, ok := r.lists[card.ListID]; ok {
		idx = indexOf(list.CardIDs, cardID)
	}

	p, ok := r.pending[cardID]
	if !ok {
		p = &pendingMove{}
		r.pending[cardID] = p
	}
	r.seq++
	p.position = position{listID: card.ListID, index: idx}
	p.inFlight++
	p.seq = r.seq
}

// replayPending applies unconfirmed local moves in the order they were made.
// Must be called with r.mu held.
func (r *Reconciler) replayPending() {
	order := make([]string, 0, len(r.pending))
	for cardID := range r.pending {
		order = append(order, cardID)
	}
	sort.Slice(order, func(i, j int) bool { return r.pending[order[i]].seq < r.pending[order[j]].seq })

	for _, cardID := range order {
		p := r.pending[cardID]
		r.move(cardID, p.listID, p.index)
	}
}

// move must be called with r.mu held.
func (r *Reconciler) move(cardID, destListID string, destIndex int) bool {
	card, ok := r.cards[cardID]
	if !ok {
		return false
	}
	dest, ok := r.lists[destListID]
	if !ok {
		return false
	}

	srcIndex := -1
	if src, ok := r.lists[card.ListID]; ok {
		srcIndex = indexOf(src.CardIDs, cardID)
	}

	destLen := len(dest.CardIDs)
	if card.ListID == destListID && srcIndex >= 0 {
		destLen--
	}
	idx := clamp(destIndex, 0, destLen)
	if card.ListID == destListID && srcIndex == idx {
		return false
	}

	r.detach(cardID)
	dest.CardIDs = insertAt(dest.CardIDs, idx, cardID)
	card.ListID = destListID
	r.cards[cardID] = card
	return true
}

// detach removes cardID from every list sequence.
func (r *Reconciler) detach(cardID string) {
	for _, list := range r.lists {
		if at := indexOf(list.CardIDs, cardID); at >= 0 {
			list.CardIDs = removeAt(list.CardIDs, at)
		}
	}
}

func (r *Reconciler) snapshot() []Column {
	cols := make([]Column, 0, len(r.lists))
	for _, list := range r.lists {
		col := Column{List: *list}
		col.CardIDs = append([]string(nil), list.CardIDs...)
		col.Cards = make([]Card, 0, len(list.CardIDs))
		for _, cardID := range list.CardIDs {
			col.Cards = append(col.Cards, r.cards[cardID])
		}
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool {
		if cols[i].Order != cols[j].Order {
			return cols[i].Order < cols[j].Order
		}
		return cols[i].ID < cols[j].ID
	})
	return cols
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func removeAt(ids []string, i int) []string {
	out := make([]string, 0, len(ids)-1)
	out = append(out, ids[:i]...)
	return append(out, ids[i+1:]...)
}

func insertAt(ids []string, i int, id string) []string {
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:i]...)
	out = append(out, id)
	return append(out, ids[i:]...)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
