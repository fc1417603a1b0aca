// Package notification translates provider webhook deliveries into
// room-scoped calendar item events.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/room-booking/backend/internal/graph"
	"github.com/room-booking/backend/internal/metrics"
	"github.com/room-booking/backend/internal/subscription"
	"github.com/room-booking/backend/internal/websocket"
)

// Change types reported by the provider.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

// Drop reasons, used as metric labels.
const (
	dropUnknownSubscription = "unknown_subscription"
	dropClientState         = "client_state_mismatch"
	dropNoToken             = "no_token"
	dropFetchFailed         = "fetch_failed"
	dropUnknownChangeType   = "unknown_change_type"
)

// Notification is one entry of a webhook delivery.
type Notification struct {
	SubscriptionID string `json:"subscriptionId"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
	ClientState    string `json:"clientState,omitempty"`
	TenantID       string `json:"tenantId,omitempty"`
}

// Batch is a webhook delivery body.
type Batch struct {
	Value []Notification `json:"value"`
}

// Outcome is the synchronous result of handing a batch to the router.
type Outcome int

const (
	// OutcomeNoContent means the batch carried no entries.
	OutcomeNoContent Outcome = iota
	// OutcomeAccepted means entries were queued for processing.
	OutcomeAccepted
)

// Fetcher retrieves changed items from the provider.
type Fetcher interface {
	FetchEvent(ctx context.Context, token, resource string) (*graph.Event, error)
}

// TokenSource looks up a user's bearer token.
type TokenSource interface {
	Token(ctx context.Context, userID string) (string, error)
}

// Broadcaster publishes item events to a calendar room.
type Broadcaster interface {
	BroadcastEventAdded(calendarID string, event websocket.CalendarEventPayload)
	BroadcastEventUpdated(calendarID string, event websocket.CalendarEventPayload)
	BroadcastEventDeleted(calendarID, eventID string)
}

// Config holds router settings.
type Config struct {
	// ClientState, when set, must match every entry's clientState
	ClientState string

	// DefaultUserID is used when neither the entry nor its subscription
	// names a user
	DefaultUserID string

	// FetchTimeout bounds each item fetch
	FetchTimeout time.Duration
}

// Router consumes webhook batches and emits room events.
type Router struct {
	store       *subscription.Store
	fetcher     Fetcher
	tokens      TokenSource
	broadcaster Broadcaster
	config      Config
	logger      *slog.Logger

	wg sync.WaitGroup
}

// NewRouter creates a new notification router.
func NewRouter(store *subscription.Store, fetcher Fetcher, tokens TokenSource, broadcaster Broadcaster, config Config, logger *slog.Logger) *Router {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 30 * time.Second
	}
	return &Router{
		store:       store,
		fetcher:     fetcher,
		tokens:      tokens,
		broadcaster: broadcaster,
		config:      config,
		logger:      logger.With("component", "notifications"),
	}
}

// Handle accepts a batch. Entries are processed in the background so the
// webhook response never waits on provider fetches; entries are neither
// ordered relative to each other nor to other batches.
func (r *Router) Handle(ctx context.Context, batch Batch) Outcome {
	if len(batch.Value) == 0 {
		return OutcomeNoContent
	}

	ctx = context.WithoutCancel(ctx)
	for _, n := range batch.Value {
		metrics.RecordNotificationReceived(n.ChangeType)
		n := n
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.process(ctx, n)
		}()
	}
	return OutcomeAccepted
}

// Wait blocks until all accepted entries have been processed.
func (r *Router) Wait() {
	r.wg.Wait()
}

// process translates one entry into at most one room broadcast.
func (r *Router) process(ctx context.Context, n Notification) {
	logger := r.logger.With("subscription_id", n.SubscriptionID, "change_type", n.ChangeType)

	rec, err := r.store.Get(n.SubscriptionID)
	if err != nil {
		logger.Debug("dropping notification for unknown subscription")
		metrics.RecordNotificationDropped(dropUnknownSubscription)
		return
	}

	if r.config.ClientState != "" && n.ClientState != r.config.ClientState {
		logger.Warn("dropping notification with mismatched client state")
		metrics.RecordNotificationDropped(dropClientState)
		return
	}

	calendarID, err := subscription.DeriveCalendarID(rec.Resource)
	if err != nil {
		logger.Error("stored subscription has no calendar", "resource", rec.Resource)
		metrics.RecordNotificationDropped(dropUnknownSubscription)
		return
	}
	logger = logger.With("calendar_id", calendarID)

	userID := r.userFor(n, rec)
	token, err := r.tokens.Token(ctx, userID)
	if err != nil {
		logger.Warn("dropping notification, no access token", "user_id", userID, "error", err)
		metrics.RecordNotificationDropped(dropNoToken)
		return
	}

	itemID := subscription.DeriveItemID(n.Resource)

	switch n.ChangeType {
	case ChangeDeleted:
		// A deleted item cannot be fetched.
		r.broadcaster.BroadcastEventDeleted(calendarID, itemID)
		return
	case ChangeCreated, ChangeUpdated:
	default:
		logger.Debug("dropping notification with unknown change type")
		metrics.RecordNotificationDropped(dropUnknownChangeType)
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.config.FetchTimeout)
	defer cancel()

	start := time.Now()
	ev, err := r.fetcher.FetchEvent(fetchCtx, token, n.Resource)
	metrics.ObserveProviderCall("fetch", time.Since(start))
	if err != nil {
		// An update racing a delete surfaces as a missing item.
		if n.ChangeType == ChangeUpdated && errors.Is(err, graph.ErrNotFound) {
			logger.Info("updated item no longer exists, reporting deletion", "item_id", itemID)
			r.broadcaster.BroadcastEventDeleted(calendarID, itemID)
			return
		}
		logger.Warn("dropping notification, fetch failed", "error", err)
		metrics.RecordNotificationDropped(dropFetchFailed)
		return
	}

	payload := toPayload(ev, itemID)
	if n.ChangeType == ChangeCreated {
		r.broadcaster.BroadcastEventAdded(calendarID, payload)
	} else {
		r.broadcaster.BroadcastEventUpdated(calendarID, payload)
	}
}

// userFor picks whose token reads the changed item: the user named in the
// entry's resource, else the subscription's owner, else the default user.
func (r *Router) userFor(n Notification, rec subscription.Record) string {
	if userID := subscription.DeriveUserID(n.Resource); userID != "" {
		return userID
	}
	if rec.OwnerUserID != "" {
		return rec.OwnerUserID
	}
	return r.config.DefaultUserID
}

func toPayload(ev *graph.Event, fallbackID string) websocket.CalendarEventPayload {
	id := ev.ID
	if id == "" {
		id = fallbackID
	}
	return websocket.CalendarEventPayload{
		ID:            id,
		Subject:       ev.Subject,
		Start:         ev.Start.DateTime,
		End:           ev.End.DateTime,
		OrganizerName: ev.Organizer.EmailAddress.Name,
	}
}
