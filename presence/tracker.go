package presence

import (
	"sort"
	"sync"
	"time"
)

// DefaultLockTTL is how long a drag lock survives without a refreshing drag update.
const DefaultLockTTL = 10 * time.Second

// Lock marks a card as being dragged by a remote collaborator.
type Lock struct {
	CardID     string    `json:"cardId"`
	UserID     string    `json:"userId"`
	DestListID string    `json:"destListId,omitempty"`
	DestIndex  int       `json:"destIndex"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Tracker holds the drag locks of a single board view. Writes are last-write-wins.
type Tracker struct {
	mu    sync.RWMutex
	locks map[string]Lock
	ttl   time.Duration
	now   func() time.Time
}

// NewTracker creates a tracker whose locks expire after ttl without a refresh.
// A ttl <= 0 disables expiry.
func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		locks: make(map[string]Lock),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// TTL returns the configured lock lifetime.
func (t *Tracker) TTL() time.Duration {
	return t.ttl
}

// Lock records that userID holds cardID, keeping any tentative destination
// already known for the same holder.
func (t *Tracker) Lock(cardID, userID string) {
	if cardID == "" || userID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	lock := Lock{CardID: cardID, UserID: userID, DestIndex: -1}
	if prev, ok := t.locks[cardID]; ok && prev.UserID == userID {
		lock.DestListID = prev.DestListID
		lock.DestIndex = prev.DestIndex
	}
	lock.UpdatedAt = t.now()
	t.locks[cardID] = lock
}

// Track records the lock together with the holder's tentative destination.
func (t *Tracker) Track(cardID, userID, destListID string, destIndex int) {
	if cardID == "" || userID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.locks[cardID] = Lock{
		CardID:     cardID,
		UserID:     userID,
		DestListID: destListID,
		DestIndex:  destIndex,
		UpdatedAt:  t.now(),
	}
}

// Unlock clears the lock on cardID and returns what was removed.
func (t *Tracker) Unlock(cardID string) (Lock, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, ok := t.locks[cardID]
	delete(t.locks, cardID)
	return lock, ok
}

// Get returns the live lock on cardID. Expired locks are reported as absent.
func (t *Tracker) Get(cardID string) (Lock, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	lock, ok := t.locks[cardID]
	if !ok || t.expired(lock, t.now()) {
		return Lock{}, false
	}
	return lock, true
}

// IsLockedByOther reports whether cardID is held by anyone other than localUserID.
func (t *Tracker) IsLockedByOther(cardID, localUserID string) bool {
	lock, ok := t.Get(cardID)
	return ok && lock.UserID != localUserID
}

// ReleaseUser drops every lock held by userID, e.g. when that user disconnects
// or leaves a call, and returns the affected card ids.
func (t *Tracker) ReleaseUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var released []string
	for cardID, lock := range t.locks {
		if lock.UserID == userID {
			delete(t.locks, cardID)
			released = append(released, cardID)
		}
	}
	sort.Strings(released)
	return released
}

// Expire drops locks that have not been refreshed within the TTL as of now and
// returns the affected card ids.
func (t *Tracker) Expire(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for cardID, lock := range t.locks {
		if t.expired(lock, now) {
			delete(t.locks, cardID)
			expired = append(expired, cardID)
		}
	}
	sort.Strings(expired)
	return expired
}

// Locks returns the live locks ordered by card id.
func (t *Tracker) Locks() []Lock {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	locks := make([]Lock, 0, len(t.locks))
	for _, lock := range t.locks {
		if !t.expired(lock, now) {
			locks = append(locks, lock)
		}
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].CardID < locks[j].CardID })
	return locks
}

// Clear removes every lock.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locks = make(map[string]Lock)
}

func (t *Tracker) expired(lock Lock, now time.Time) bool {
	return t.ttl > 0 && now.Sub(lock.UpdatedAt) >= t.ttl
}
