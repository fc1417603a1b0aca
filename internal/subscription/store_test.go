package subscription

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AddAndGet(t *testing.T) {
	s := NewStore()
	expires := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Add("sub-1", "users/u1/calendars/C1/events", expires, "u1"))

	rec, err := s.Get("sub-1")
	require.NoError(t, err)
	assert.Equal(t, Record{
		ID:          "sub-1",
		Resource:    "users/u1/calendars/C1/events",
		ExpiresAt:   expires,
		OwnerUserID: "u1",
	}, rec)
	assert.True(t, s.HasCalendar("C1"))
	assert.Equal(t, 1, s.Len())

	byCalendar, ok := s.ForCalendar("C1")
	require.True(t, ok)
	assert.Equal(t, "sub-1", byCalendar.ID)
}

func TestStore_AddIsIdempotentForSameID(t *testing.T) {
	s := NewStore()
	first := time.Now()

	require.NoError(t, s.Add("sub-1", "me/calendars/C1/events", first, ""))
	require.NoError(t, s.Add("sub-1", "me/calendars/C1/events", first.Add(time.Hour), ""))

	rec, err := s.Get("sub-1")
	require.NoError(t, err)
	assert.Equal(t, first, rec.ExpiresAt)
	assert.Equal(t, 1, s.Len())
}

func TestStore_AddRejectsSecondRecordForCalendar(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add("sub-1", "me/calendars/C1/events", time.Now(), ""))

	err := s.Add("sub-2", "users/u2/calendars/C1/events", time.Now(), "u2")
	require.ErrorIs(t, err, ErrCalendarSubscribed)

	_, err = s.Get("sub-2")
	assert.ErrorIs(t, err, ErrNotFound)
	rec, _ := s.ForCalendar("C1")
	assert.Equal(t, "sub-1", rec.ID)
}

func TestStore_AddRejectsResourceWithoutCalendar(t *testing.T) {
	s := NewStore()
	err := s.Add("sub-1", "users/u1/events", time.Now(), "")
	require.ErrorIs(t, err, ErrInvalidResource)
	assert.Zero(t, s.Len())
}

func TestStore_UpdateExpiration(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add("sub-1", "me/calendars/C1/events", time.Now(), ""))

	later := time.Now().Add(3 * time.Minute)
	require.NoError(t, s.UpdateExpiration("sub-1", later))

	rec, err := s.Get("sub-1")
	require.NoError(t, err)
	assert.Equal(t, later, rec.ExpiresAt)
	assert.Equal(t, "me/calendars/C1/events", rec.Resource)

	assert.ErrorIs(t, s.UpdateExpiration("missing", later), ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add("sub-1", "me/calendars/C1/events", time.Now(), ""))

	s.Delete("sub-1")
	s.Delete("sub-1")
	s.Delete("never-existed")

	assert.False(t, s.HasCalendar("C1"))
	assert.Zero(t, s.Len())
	_, ok := s.ForCalendar("C1")
	assert.False(t, ok)

	// The calendar is free again.
	require.NoError(t, s.Add("sub-2", "me/calendars/C1/events", time.Now(), ""))
}

func TestStore_ListIsSortedSnapshot(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add("b", "me/calendars/B/events", time.Now(), ""))
	require.NoError(t, s.Add("a", "me/calendars/A/events", time.Now(), ""))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	list[0].ID = "mutated"
	_, err := s.Get("a")
	assert.NoError(t, err)
}

func TestStore_ConcurrentAddsOneWinnerPerCalendar(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Add(fmt.Sprintf("sub-%d", i), "me/calendars/C1/events", time.Now(), "")
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrCalendarSubscribed)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, s.Len())
}
