package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/room-booking/backend/internal/graph"
	"github.com/room-booking/backend/internal/metrics"
)

// ChangeTypes is the set of item changes every subscription asks for.
const ChangeTypes = "created,updated,deleted"

// State is a calendar's position in the subscription lifecycle.
type State int

const (
	StateUnwatched State = iota
	StateCreating
	StateActive
	StateRenewing
	StateDeleting
)

func (s State) String() string {
	switch s {
	case StateUnwatched:
		return "unwatched"
	case StateCreating:
		return "creating"
	case StateActive:
		return "active"
	case StateRenewing:
		return "renewing"
	case StateDeleting:
		return "deleting"
	default:
		return "unknown"
	}
}

// Provider is the subscription half of the calendar provider API.
type Provider interface {
	CreateSubscription(ctx context.Context, token string, req graph.SubscriptionRequest) (*graph.Subscription, error)
	RenewSubscription(ctx context.Context, token, subscriptionID string, expiresAt time.Time) error
	DeleteSubscription(ctx context.Context, token, subscriptionID string) error
}

// TokenSource looks up a user's bearer token.
type TokenSource interface {
	Token(ctx context.Context, userID string) (string, error)
}

// Occupancy reports how many clients watch a calendar's room.
type Occupancy interface {
	MemberCount(calendarID string) int
}

// History records completed lifecycle operations.
type History interface {
	Record(ctx context.Context, calendarID, subscriptionID, operation, result, detail string) error
}

// Config holds lifecycle settings.
type Config struct {
	// NotificationURL is the webhook callback registered with the provider
	NotificationURL string

	// Lifetime is the requested subscription lifetime; renewals extend by it
	Lifetime time.Duration

	// ClientState is an optional secret echoed back in every notification
	ClientState string

	// DefaultUserID is used when a trigger carries no user
	DefaultUserID string

	// CallTimeout bounds each provider call
	CallTimeout time.Duration
}

// Manager drives subscription create/renew/delete transitions. It never
// mutates records directly; provider results are applied through the Store.
type Manager struct {
	store    *Store
	provider Provider
	tokens   TokenSource
	rooms    Occupancy
	history  History
	config   Config
	logger   *slog.Logger
	now      func() time.Time

	// calendars with a provider call in flight
	mu       sync.Mutex
	inflight map[string]State
	closed   bool

	wg sync.WaitGroup
}

// NewManager creates a new subscription lifecycle manager.
func NewManager(store *Store, provider Provider, tokens TokenSource, rooms Occupancy, config Config, logger *slog.Logger) *Manager {
	if config.Lifetime <= 0 {
		config.Lifetime = DefaultLifetime
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}

	return &Manager{
		store:    store,
		provider: provider,
		tokens:   tokens,
		rooms:    rooms,
		config:   config,
		logger:   logger.With("component", "subscriptions"),
		now:      time.Now,
		inflight: make(map[string]State),
	}
}

// SetHistory attaches a lifecycle history recorder. Call before use.
func (m *Manager) SetHistory(h History) {
	m.history = h
}

// Store returns the store the manager applies results to.
func (m *Manager) Store() *Store {
	return m.store
}

// State reports a calendar's current lifecycle state.
func (m *Manager) State(calendarID string) State {
	m.mu.Lock()
	state, busy := m.inflight[calendarID]
	m.mu.Unlock()

	if busy {
		return state
	}
	if m.store.HasCalendar(calendarID) {
		return StateActive
	}
	return StateUnwatched
}

// Ensure starts a subscription for calendarID unless one exists or a
// transition for it is already in flight. It reports whether a create call
// was issued. The call itself completes asynchronously.
func (m *Manager) Ensure(ctx context.Context, calendarID, userID string) bool {
	if calendarID == "" {
		return false
	}
	if userID == "" {
		userID = m.config.DefaultUserID
	}
	logger := m.logger.With("calendar_id", calendarID, "user_id", userID)

	if m.store.HasCalendar(calendarID) {
		return false
	}

	token, err := m.tokens.Token(ctx, userID)
	if err != nil {
		logger.Warn("no access token, subscription not created", "error", err)
		m.outcome(ctx, "create", calendarID, "", metrics.ResultSkipped, err)
		return false
	}

	m.mu.Lock()
	if _, busy := m.inflight[calendarID]; busy || m.closed || m.store.HasCalendar(calendarID) {
		m.mu.Unlock()
		logger.Debug("subscription create suppressed")
		return false
	}
	m.inflight[calendarID] = StateCreating
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer m.finish(calendarID)
		m.create(m.callContext(ctx), calendarID, userID, token)
	}()
	return true
}

// create issues the provider create call and stores the result.
func (m *Manager) create(ctx context.Context, calendarID, userID, token string) {
	ctx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	logger := m.logger.With("calendar_id", calendarID)
	resource := CalendarResource(userID, calendarID)

	start := time.Now()
	sub, err := m.provider.CreateSubscription(ctx, token, graph.SubscriptionRequest{
		ChangeType:         ChangeTypes,
		NotificationURL:    m.config.NotificationURL,
		Resource:           resource,
		ExpirationDateTime: m.now().Add(m.config.Lifetime),
		ClientState:        m.config.ClientState,
	})
	metrics.ObserveProviderCall("create", time.Since(start))
	if err != nil {
		logger.Error("failed to create subscription", "error", err)
		m.outcome(ctx, "create", calendarID, "", metrics.ResultFailure, err)
		return
	}

	// Keep the provider's spelling of the resource unless it names a
	// different calendar than the one requested.
	stored := sub.Resource
	if derived, err := DeriveCalendarID(stored); err != nil || derived != calendarID {
		stored = resource
	}

	if err := m.store.Add(sub.ID, stored, sub.ExpirationDateTime, userID); err != nil {
		logger.Warn("discarding redundant subscription", "subscription_id", sub.ID, "error", err)
		m.outcome(ctx, "create", calendarID, sub.ID, metrics.ResultSkipped, err)
		if errors.Is(err, ErrCalendarSubscribed) {
			m.deleteAtProvider(ctx, token, sub.ID)
		}
		return
	}

	m.outcome(ctx, "create", calendarID, sub.ID, metrics.ResultSuccess, nil)
	metrics.SetActiveSubscriptions(m.store.Len())
	logger.Info("subscription created",
		"subscription_id", sub.ID,
		"resource", stored,
		"expires_at", sub.ExpirationDateTime)
}

// deleteAtProvider removes a subscription the store never accepted.
func (m *Manager) deleteAtProvider(ctx context.Context, token, subscriptionID string) {
	start := time.Now()
	err := m.provider.DeleteSubscription(ctx, token, subscriptionID)
	metrics.ObserveProviderCall("delete", time.Since(start))
	if err != nil && !errors.Is(err, graph.ErrNotFound) {
		m.logger.Error("failed to delete redundant subscription", "subscription_id", subscriptionID, "error", err)
		metrics.RecordSubscriptionOperation("delete", metrics.ResultFailure)
		return
	}
	metrics.RecordSubscriptionOperation("delete", metrics.ResultSuccess)
}

// Sweep renews subscriptions whose rooms are occupied and deletes those
// whose rooms are empty. It returns once every call it issued completed,
// with the first provider error any of them hit.
func (m *Manager) Sweep(ctx context.Context) error {
	records := m.store.List()
	m.logger.Debug("subscription sweep started", "subscriptions", len(records))

	ctx = m.callContext(ctx)
	var g errgroup.Group
	for _, rec := range records {
		rec := rec
		calendarID, err := DeriveCalendarID(rec.Resource)
		if err != nil {
			continue
		}

		if m.rooms.MemberCount(calendarID) > 0 {
			if !m.begin(calendarID, StateRenewing) {
				continue
			}
			g.Go(func() error {
				defer m.wg.Done()
				defer m.finish(calendarID)
				return m.renew(ctx, rec)
			})
			continue
		}

		if !m.begin(calendarID, StateDeleting) {
			continue
		}
		g.Go(func() error {
			defer m.wg.Done()
			err := m.remove(ctx, rec)
			m.finish(calendarID)

			// Clients may have joined while the delete was in flight.
			if err == nil && m.rooms.MemberCount(calendarID) > 0 {
				m.Ensure(ctx, calendarID, rec.OwnerUserID)
			}
			return err
		})
	}
	err := g.Wait()

	metrics.SetActiveSubscriptions(m.store.Len())
	m.logger.Debug("subscription sweep finished", "subscriptions", m.store.Len())
	return err
}

// renew extends a record's expiration at the provider and, if the record
// still exists, in the store. Only provider failures are returned.
func (m *Manager) renew(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	logger := m.logger.With("subscription_id", rec.ID)
	calendarID, _ := DeriveCalendarID(rec.Resource)

	token, err := m.tokenFor(ctx, rec)
	if err != nil {
		logger.Warn("no access token, subscription not renewed", "error", err)
		m.outcome(ctx, "renew", calendarID, rec.ID, metrics.ResultSkipped, err)
		return nil
	}

	expiresAt := m.now().Add(m.config.Lifetime)
	start := time.Now()
	err = m.provider.RenewSubscription(ctx, token, rec.ID, expiresAt)
	metrics.ObserveProviderCall("renew", time.Since(start))
	if err != nil {
		logger.Error("failed to renew subscription", "error", err)
		m.outcome(ctx, "renew", calendarID, rec.ID, metrics.ResultFailure, err)
		return fmt.Errorf("renewing subscription %s: %w", rec.ID, err)
	}

	current, err := m.store.Get(rec.ID)
	if err == nil && !expiresAt.After(current.ExpiresAt) {
		m.outcome(ctx, "renew", calendarID, rec.ID, metrics.ResultSkipped, nil)
		return nil
	}
	if err == nil {
		err = m.store.UpdateExpiration(rec.ID, expiresAt)
	}
	if err != nil {
		logger.Info("subscription removed during renewal, not restored")
		m.outcome(ctx, "renew", calendarID, rec.ID, metrics.ResultSkipped, err)
		return nil
	}

	m.outcome(ctx, "renew", calendarID, rec.ID, metrics.ResultSuccess, nil)
	logger.Info("subscription renewed", "expires_at", expiresAt)
	return nil
}

// remove deletes a record at the provider and then from the store. A nil
// error means the record is gone.
func (m *Manager) remove(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	logger := m.logger.With("subscription_id", rec.ID)
	calendarID, _ := DeriveCalendarID(rec.Resource)

	token, err := m.tokenFor(ctx, rec)
	if err != nil {
		logger.Warn("no access token, subscription not deleted", "error", err)
		m.outcome(ctx, "delete", calendarID, rec.ID, metrics.ResultSkipped, err)
		return fmt.Errorf("deleting subscription %s: %w", rec.ID, err)
	}

	start := time.Now()
	err = m.provider.DeleteSubscription(ctx, token, rec.ID)
	metrics.ObserveProviderCall("delete", time.Since(start))

	// A subscription the provider no longer knows is as good as deleted.
	if err != nil && !errors.Is(err, graph.ErrNotFound) {
		logger.Error("failed to delete subscription", "error", err)
		m.outcome(ctx, "delete", calendarID, rec.ID, metrics.ResultFailure, err)
		return fmt.Errorf("deleting subscription %s: %w", rec.ID, err)
	}

	m.store.Delete(rec.ID)
	m.outcome(ctx, "delete", calendarID, rec.ID, metrics.ResultSuccess, nil)
	metrics.SetActiveSubscriptions(m.store.Len())
	logger.Info("subscription deleted", "resource", rec.Resource)
	return nil
}

// Deactivate tears down a calendar's subscription outside the sweep. It
// reports false when the calendar has no active subscription or a
// transition is already in flight. The delete completes asynchronously.
func (m *Manager) Deactivate(ctx context.Context, calendarID string) bool {
	rec, ok := m.store.ForCalendar(calendarID)
	if !ok {
		return false
	}
	if !m.begin(calendarID, StateDeleting) {
		return false
	}

	m.logger.Info("deactivating subscription", "calendar_id", calendarID, "subscription_id", rec.ID)
	go func() {
		defer m.wg.Done()
		defer m.finish(calendarID)
		if err := m.remove(m.callContext(ctx), rec); err != nil {
			m.logger.Warn("deactivation failed", "calendar_id", calendarID, "error", err)
		}
	}()
	return true
}

// Shutdown stops the manager and deletes every stored subscription at the
// provider so none are left delivering to a stopped process. Transitions
// already in flight finish first, so a create that lands late is deleted
// too. After Shutdown, Ensure, Sweep and Deactivate start nothing.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.Wait()

	var g errgroup.Group
	for _, rec := range m.store.List() {
		rec := rec
		calendarID, _ := DeriveCalendarID(rec.Resource)
		m.mu.Lock()
		m.inflight[calendarID] = StateDeleting
		m.mu.Unlock()

		g.Go(func() error {
			defer m.finish(calendarID)
			return m.remove(ctx, rec)
		})
	}
	return g.Wait()
}

// Wait blocks until all asynchronous provider calls have completed.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// begin marks a transition in flight for calendarID, failing if another
// one already is or the manager is shut down. On success the caller owns
// one wg count.
func (m *Manager) begin(calendarID string, state State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.inflight[calendarID]; busy || m.closed {
		return false
	}
	m.inflight[calendarID] = state
	m.wg.Add(1)
	return true
}

func (m *Manager) finish(calendarID string) {
	m.mu.Lock()
	delete(m.inflight, calendarID)
	m.mu.Unlock()
}

// outcome records a lifecycle operation result in metrics and history.
func (m *Manager) outcome(ctx context.Context, operation, calendarID, subscriptionID, result string, err error) {
	metrics.RecordSubscriptionOperation(operation, result)
	if m.history == nil {
		return
	}

	detail := ""
	if err != nil {
		detail = err.Error()
	}
	if herr := m.history.Record(ctx, calendarID, subscriptionID, operation, result, detail); herr != nil {
		m.logger.Warn("failed to record subscription history", "calendar_id", calendarID, "error", herr)
	}
}

func (m *Manager) tokenFor(ctx context.Context, rec Record) (string, error) {
	userID := rec.OwnerUserID
	if userID == "" {
		userID = m.config.DefaultUserID
	}
	return m.tokens.Token(ctx, userID)
}

// callContext detaches provider calls from the triggering request while
// keeping its values.
func (m *Manager) callContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
