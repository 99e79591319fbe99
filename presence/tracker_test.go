package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestLockExclusion(t *testing.T) {
	tracker := NewTracker(0)

	tracker.Lock("card1", "userA")
	assert.True(t, tracker.IsLockedByOther("card1", "userB"))
	assert.False(t, tracker.IsLockedByOther("card1", "userA"))

	tracker.Unlock("card1")
	assert.False(t, tracker.IsLockedByOther("card1", "userB"))
	assert.False(t, tracker.IsLockedByOther("card1", "userA"))
}

func TestLockLastWriteWins(t *testing.T) {
	tracker := NewTracker(0)

	tracker.Track("card1", "userA", "listB", 2)
	tracker.Lock("card1", "userB")

	lock, ok := tracker.Get("card1")
	assert.True(t, ok)
	assert.Equal(t, "userB", lock.UserID)
	assert.Equal(t, "", lock.DestListID, "destination belongs to the previous holder")
	assert.True(t, tracker.IsLockedByOther("card1", "userA"))
}

func TestLockKeepsDestinationForSameHolder(t *testing.T) {
	tracker := NewTracker(0)

	tracker.Track("card1", "userA", "listB", 2)
	tracker.Lock("card1", "userA")

	lock, ok := tracker.Get("card1")
	assert.True(t, ok)
	assert.Equal(t, "listB", lock.DestListID)
	assert.Equal(t, 2, lock.DestIndex)
}

func TestLockIgnoresEmptyIdentifiers(t *testing.T) {
	tracker := NewTracker(0)

	tracker.Lock("", "userA")
	tracker.Lock("card1", "")
	tracker.Track("", "userA", "listB", 0)

	assert.Empty(t, tracker.Locks())
}

func TestLockExpiry(t *testing.T) {
	now := time.Date(2025, 10, 19, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(10 * time.Second)
	tracker.SetClock(fixedClock(&now))

	tracker.Lock("card1", "userA")
	tracker.Lock("card2", "userA")

	now = now.Add(6 * time.Second)
	tracker.Track("card2", "userA", "listB", 0)

	now = now.Add(5 * time.Second)
	assert.False(t, tracker.IsLockedByOther("card1", "userB"), "stale lock is not honoured")
	assert.True(t, tracker.IsLockedByOther("card2", "userB"))

	expired := tracker.Expire(now)
	assert.Equal(t, []string{"card1"}, expired)
	assert.Len(t, tracker.Locks(), 1)
}

func TestReleaseUser(t *testing.T) {
	tracker := NewTracker(0)

	tracker.Lock("card1", "userA")
	tracker.Lock("card2", "userB")
	tracker.Lock("card3", "userA")

	released := tracker.ReleaseUser("userA")
	assert.Equal(t, []string{"card1", "card3"}, released)

	locks := tracker.Locks()
	assert.Len(t, locks, 1)
	assert.Equal(t, "card2", locks[0].CardID)
}
