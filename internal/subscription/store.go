// Package subscription tracks provider webhook subscriptions and drives
// their create/renew/delete lifecycle against calendar room occupancy.
package subscription

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a subscription id is unknown.
	ErrNotFound = errors.New("subscription not found")

	// ErrCalendarSubscribed is returned when a calendar already has a
	// different active subscription.
	ErrCalendarSubscribed = errors.New("calendar already has a subscription")

	// ErrInvalidResource is returned when no calendar id can be derived
	// from a resource path.
	ErrInvalidResource = errors.New("invalid subscription resource")
)

// Record is an active provider subscription.
type Record struct {
	ID          string    `json:"id"`
	Resource    string    `json:"resource"`
	ExpiresAt   time.Time `json:"expires_at"`
	OwnerUserID string    `json:"owner_user_id,omitempty"`
}

// Store is the authoritative in-memory map of active subscriptions.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record

	// calendar id -> subscription id
	calendars map[string]string
}

// NewStore creates an empty subscription store.
func NewStore() *Store {
	return &Store{
		records:   make(map[string]Record),
		calendars: make(map[string]string),
	}
}

// Add inserts a subscription record. Adding an id that is already present
// is a no-op.
func (s *Store) Add(id, resource string, expiresAt time.Time, ownerUserID string) error {
	calendarID, err := DeriveCalendarID(resource)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; exists {
		return nil
	}
	if holder, taken := s.calendars[calendarID]; taken {
		return fmt.Errorf("%w: calendar %s held by %s", ErrCalendarSubscribed, calendarID, holder)
	}

	s.records[id] = Record{
		ID:          id,
		Resource:    resource,
		ExpiresAt:   expiresAt,
		OwnerUserID: ownerUserID,
	}
	s.calendars[calendarID] = id
	return nil
}

// UpdateExpiration replaces the expiration of an existing record.
func (s *Store) UpdateExpiration(id string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.ExpiresAt = expiresAt
	s.records[id] = rec
	return nil
}

// Get returns the record for a subscription id.
func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Delete removes a record and releases its calendar. Unknown ids are ignored.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return
	}
	delete(s.records, id)

	if calendarID, err := DeriveCalendarID(rec.Resource); err == nil && s.calendars[calendarID] == id {
		delete(s.calendars, calendarID)
	}
}

// List returns a snapshot of all records ordered by resource.
func (s *Store) List() []Record {
	s.mu.RLock()
	records := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Resource < records[j].Resource
	})
	return records
}

// HasCalendar reports whether a calendar has an active subscription.
func (s *Store) HasCalendar(calendarID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.calendars[calendarID]
	return ok
}

// ForCalendar returns the active record for a calendar.
func (s *Store) ForCalendar(calendarID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.calendars[calendarID]
	if !ok {
		return Record{}, false
	}
	rec, ok := s.records[id]
	return rec, ok
}

// Len returns the number of active records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
