package boardview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CrowderSoup/crm-board/board"
	"github.com/CrowderSoup/crm-board/presence"
	"github.com/CrowderSoup/crm-board/pushchannel"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCardLocked is returned by StartDrag when another user holds the card.
	ErrCardLocked = errors.New("card is being moved by another user")

	// ErrNotMounted is returned by drag operations before Mount.
	ErrNotMounted = errors.New("board view is not mounted")
)

// API is the HTTP side the view needs.
type API interface {
	FetchBoard(ctx context.Context, boardID string) ([]board.Column, error)
	MoveCard(ctx context.Context, cardID, destListID string, destIndex int) error
}

// Channel is the push side the view needs. *pushchannel.Channel satisfies it.
type Channel interface {
	Subscribe(h pushchannel.Handlers) func()
	Emit(ctx context.Context, eventType string, payload any) error
}

// Options configure a View.
type Options struct {
	UserID        string
	LockTTL       time.Duration
	SweepInterval time.Duration
	Names         *presence.Names
	// OnChange runs after every change to the rendered board.
	OnChange func()
}

// View binds one board's reconciler and lock tracker to the push channel and
// the API for as long as it is mounted.
type View struct {
	api  API
	ch   Channel
	opts Options

	locks *presence.Tracker
	rec   *board.Reconciler

	mu          sync.Mutex
	mounted     bool
	unsubscribe func()
	stopSweep   context.CancelFunc
	sweepDone   chan struct{}
	dragging    map[string]bool
	calls       map[string]string
	activeCall  string
}

// New creates an unmounted view.
func New(api API, ch Channel, opts Options) *View {
	if opts.LockTTL <= 0 {
		opts.LockTTL = presence.DefaultLockTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = opts.LockTTL / 2
	}
	locks := presence.NewTracker(opts.LockTTL)
	return &View{
		api:      api,
		ch:       ch,
		opts:     opts,
		locks:    locks,
		rec:      board.NewReconciler("", locks),
		dragging: make(map[string]bool),
		calls:    make(map[string]string),
	}
}

// Reconciler exposes the underlying board state.
func (v *View) Reconciler() *board.Reconciler {
	return v.rec
}

// Locks exposes the drag lock tracker.
func (v *View) Locks() *presence.Tracker {
	return v.locks
}

// Mount subscribes the view's handlers and starts the lock sweeper.
func (v *View) Mount(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.mounted {
		return
	}

	v.unsubscribe = v.ch.Subscribe(v.handlers())

	sweepCtx, cancel := context.WithCancel(ctx)
	v.stopSweep = cancel
	v.sweepDone = make(chan struct{})
	go v.sweep(sweepCtx, v.sweepDone)

	v.mounted = true
}

// Unmount removes exactly the handlers Mount added and stops the sweeper.
func (v *View) Unmount() {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return
	}
	v.mounted = false
	unsubscribe, stop, done := v.unsubscribe, v.stopSweep, v.sweepDone
	v.unsubscribe, v.stopSweep, v.sweepDone = nil, nil, nil
	v.dragging = make(map[string]bool)
	v.mu.Unlock()

	unsubscribe()
	stop()
	<-done
}

// Open makes boardID the displayed board and loads it. A response that
// arrives after another Open is dropped.
func (v *View) Open(ctx context.Context, boardID string) error {
	v.rec.Reset(boardID)
	v.changed()
	return v.load(ctx, boardID)
}

// Refresh refetches the displayed board.
func (v *View) Refresh(ctx context.Context) error {
	return v.load(ctx, v.rec.BoardID())
}

// Render returns the board as it should be drawn, remote previews included.
func (v *View) Render() []board.Column {
	return v.rec.View()
}

// Snapshot returns the confirmed board without previews.
func (v *View) Snapshot() []board.Column {
	return v.rec.Snapshot()
}

// CanDrag reports whether the local user may pick up cardID.
func (v *View) CanDrag(cardID string) bool {
	return !v.locks.IsLockedByOther(cardID, v.opts.UserID)
}

// LockHolder returns the display name of whoever is dragging cardID.
func (v *View) LockHolder(cardID string) (string, bool) {
	lock, ok := v.locks.Get(cardID)
	if !ok {
		return "", false
	}
	if v.opts.Names == nil {
		return lock.UserID, true
	}
	return v.opts.Names.DisplayName(lock.UserID), true
}

// ActiveCall returns the call currently shown on the board, if any.
func (v *View) ActiveCall() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.activeCall
}

// StartDrag announces that the local user picked up cardID.
func (v *View) StartDrag(ctx context.Context, cardID string) error {
	if err := v.requireMounted(); err != nil {
		return err
	}
	if _, ok := v.rec.Card(cardID); !ok {
		return fmt.Errorf("card %s is not on board %s", cardID, v.rec.BoardID())
	}
	if !v.CanDrag(cardID) {
		return ErrCardLocked
	}

	v.mu.Lock()
	v.dragging[cardID] = true
	v.mu.Unlock()

	v.emit(ctx, pushchannel.CardDragStart, pushchannel.DragStartPayload{CardID: cardID, User: v.opts.UserID})
	return nil
}

// UpdateDrag shares the tentative destination of a local drag.
func (v *View) UpdateDrag(ctx context.Context, cardID, destListID string, destIndex int) {
	if !v.isDragging(cardID) {
		return
	}
	v.emit(ctx, pushchannel.CardDragUpdate, pushchannel.DragUpdatePayload{
		CardID:     cardID,
		DestListID: destListID,
		DestIndex:  destIndex,
		User:       v.opts.UserID,
	})
}

// CancelDrag ends a local drag without moving the card.
func (v *View) CancelDrag(ctx context.Context, cardID string) {
	if !v.endDrag(cardID) {
		return
	}
	v.emit(ctx, pushchannel.CardDragEnd, pushchannel.DragEndPayload{CardID: cardID, DestIndex: -1, User: v.opts.UserID})
}

// Drop moves cardID locally, tells peers, then persists the move. A failed
// persist keeps the local order and triggers a refetch. A card another user
// is dragging is not moved and ErrCardLocked is returned.
func (v *View) Drop(ctx context.Context, cardID, destListID string, destIndex int) error {
	if err := v.requireMounted(); err != nil {
		return err
	}
	if !v.CanDrag(cardID) {
		v.CancelDrag(ctx, cardID)
		return ErrCardLocked
	}
	v.endDrag(cardID)

	cols, moved := v.rec.ApplyLocalMove(cardID, destListID, destIndex)
	end := pushchannel.DragEndPayload{CardID: cardID, DestListID: destListID, DestIndex: destIndex, User: v.opts.UserID}
	if moved {
		// report the clamped position actually applied
		if list, idx := board.Placement(cols, cardID); list != "" {
			end.DestListID, end.DestIndex = list, idx
		}
		v.changed()
	}
	v.emit(ctx, pushchannel.CardDragEnd, end)
	if !moved {
		return nil
	}
	v.emit(ctx, pushchannel.CardMoved, end)

	err := v.api.MoveCard(ctx, cardID, end.DestListID, end.DestIndex)
	v.rec.ApplyServerConfirmedMove(cardID, end.DestListID, err)
	if err == nil {
		return nil
	}

	if v.rec.Diverged() {
		if rerr := v.Refresh(ctx); rerr != nil {
			log.Warn().Err(rerr).Str("board", v.rec.BoardID()).Msg("refetch after failed move")
		}
	}
	return fmt.Errorf("persist move of card %s: %w", cardID, err)
}

func (v *View) load(ctx context.Context, boardID string) error {
	if boardID == "" {
		return errors.New("no board selected")
	}
	cols, err := v.api.FetchBoard(ctx, boardID)
	if err != nil {
		return err
	}
	if v.rec.Load(boardID, cols) {
		v.changed()
	}
	return nil
}

func (v *View) handlers() pushchannel.Handlers {
	return pushchannel.Handlers{
		pushchannel.ListCreated:    v.onListUpsert,
		pushchannel.ListUpdated:    v.onListUpsert,
		pushchannel.ListDeleted:    v.onListDeleted,
		pushchannel.CardCreated:    v.onCardCreated,
		pushchannel.CardUpdated:    v.onCardUpdated,
		pushchannel.CardDeleted:    v.onCardDeleted,
		pushchannel.CardDragStart:  v.onDragStart,
		pushchannel.CardDragUpdate: v.onDragUpdate,
		pushchannel.CardDragEnd:    v.onDragEnd,
		pushchannel.CardMoved:      v.onDragEnd,
		pushchannel.CallStarted:    v.onCallStarted,
		pushchannel.CallEnded:      v.onCallEnded,
		pushchannel.CallActiveSet:  v.onCallActiveSet,
		pushchannel.UserLeft:       v.onUserLeft,
	}
}

// accept decodes msg into payload when it belongs to the displayed board.
func (v *View) accept(msg pushchannel.Message, payload any) bool {
	if msg.Board != "" && msg.Board != v.rec.BoardID() {
		return false
	}
	if err := msg.Decode(payload); err != nil {
		log.Debug().Err(err).Msg("ignoring push event")
		return false
	}
	return true
}

func (v *View) onListUpsert(msg pushchannel.Message) {
	var list board.List
	if v.accept(msg, &list) && v.rec.UpsertList(list) {
		v.changed()
	}
}

func (v *View) onListDeleted(msg pushchannel.Message) {
	var p pushchannel.ListDeletedPayload
	if v.accept(msg, &p) && v.rec.DeleteList(p.ID) {
		v.changed()
	}
}

func (v *View) onCardCreated(msg pushchannel.Message) {
	var p pushchannel.CardPayload
	if v.accept(msg, &p) && v.rec.ApplyCreate(listOf(p), p.Card) {
		v.changed()
	}
}

func (v *View) onCardUpdated(msg pushchannel.Message) {
	var p pushchannel.CardPayload
	if v.accept(msg, &p) && v.rec.ApplyUpdate(listOf(p), p.Card) {
		v.changed()
	}
}

func (v *View) onCardDeleted(msg pushchannel.Message) {
	var p pushchannel.CardDeletedPayload
	if v.accept(msg, &p) && v.rec.ApplyDelete(p.ListID, p.CardID) {
		v.changed()
	}
}

func (v *View) onDragStart(msg pushchannel.Message) {
	var p pushchannel.DragStartPayload
	if !v.accept(msg, &p) {
		return
	}
	user := sender(p.User, msg)
	if user == "" || user == v.opts.UserID {
		return
	}
	if _, ok := v.rec.Card(p.CardID); !ok {
		return
	}
	v.locks.Lock(p.CardID, user)
	v.changed()
}

func (v *View) onDragUpdate(msg pushchannel.Message) {
	var p pushchannel.DragUpdatePayload
	if !v.accept(msg, &p) {
		return
	}
	user := sender(p.User, msg)
	if user == "" || user == v.opts.UserID {
		return
	}
	if v.rec.ApplyRemoteDragUpdate(p.CardID, user, p.DestListID, p.DestIndex) {
		v.changed()
	}
}

func (v *View) onDragEnd(msg pushchannel.Message) {
	var p pushchannel.DragEndPayload
	if !v.accept(msg, &p) {
		return
	}
	if sender(p.User, msg) == v.opts.UserID && v.opts.UserID != "" {
		return
	}
	v.rec.ApplyRemoteDragEnd(p.CardID, p.DestListID, p.DestIndex)
	v.changed()
}

func (v *View) onCallStarted(msg pushchannel.Message) {
	var p pushchannel.CallPayload
	if !v.accept(msg, &p) {
		return
	}
	v.mu.Lock()
	v.calls[p.CallID] = sender(p.User, msg)
	v.mu.Unlock()
}

func (v *View) onCallActiveSet(msg pushchannel.Message) {
	var p pushchannel.CallPayload
	if !v.accept(msg, &p) {
		return
	}
	v.mu.Lock()
	v.activeCall = p.CallID
	v.mu.Unlock()
	v.changed()
}

func (v *View) onCallEnded(msg pushchannel.Message) {
	var p pushchannel.CallPayload
	if !v.accept(msg, &p) {
		return
	}

	v.mu.Lock()
	user := sender(p.User, msg)
	if user == "" {
		user = v.calls[p.CallID]
	}
	delete(v.calls, p.CallID)
	if v.activeCall == p.CallID {
		v.activeCall = ""
	}
	v.mu.Unlock()

	if user != "" && user != v.opts.UserID {
		v.rec.ReleaseUser(user)
	}
	v.changed()
}

func (v *View) onUserLeft(msg pushchannel.Message) {
	var p pushchannel.UserLeftPayload
	if !v.accept(msg, &p) {
		return
	}
	user := sender(p.User, msg)
	if user == "" || user == v.opts.UserID {
		return
	}
	if released := v.rec.ReleaseUser(user); len(released) > 0 {
		log.Debug().Str("user", user).Strs("cards", released).Msg("released locks of departed user")
		v.changed()
	}
}

func (v *View) sweep(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(v.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if expired := v.rec.ExpireLocks(now); len(expired) > 0 {
				log.Debug().Strs("cards", expired).Msg("expired stale drag locks")
				v.changed()
			}
		}
	}
}

func (v *View) emit(ctx context.Context, eventType string, payload any) {
	if err := v.ch.Emit(ctx, eventType, payload); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("failed to emit push event")
	}
}

func (v *View) requireMounted() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.mounted {
		return ErrNotMounted
	}
	return nil
}

func (v *View) isDragging(cardID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dragging[cardID]
}

func (v *View) endDrag(cardID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	was := v.dragging[cardID]
	delete(v.dragging, cardID)
	return was
}

func (v *View) changed() {
	if v.opts.OnChange != nil {
		v.opts.OnChange()
	}
}

func listOf(p pushchannel.CardPayload) string {
	if p.ListID != "" {
		return p.ListID
	}
	return p.Card.ListID
}

// sender returns who sent msg. The hub stamps the envelope with the
// authenticated user, so the payload's own claim is only a fallback.
func sender(payloadUser string, msg pushchannel.Message) string {
	if msg.User != "" {
		return msg.User
	}
	return payloadUser
}
