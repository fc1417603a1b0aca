// Package graph provides a client for the calendar provider's REST API:
// webhook subscription management and changed-item retrieval.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the provider's v1.0 API root.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// ErrNotFound is returned when the requested subscription or item does not
// exist at the provider.
var ErrNotFound = errors.New("resource not found")

// eventFields limits item fetches to what room clients display.
const eventFields = "subject,organizer,start,end"

// Config holds the configuration for provider API access.
type Config struct {
	// BaseURL is the API root, without a trailing slash
	BaseURL string

	// Timeout for API requests
	Timeout time.Duration
}

// Client is a client for the calendar provider API.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new provider API client.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// SubscriptionRequest describes a webhook subscription to create.
type SubscriptionRequest struct {
	ChangeType         string    `json:"changeType"`
	NotificationURL    string    `json:"notificationUrl"`
	Resource           string    `json:"resource"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	ClientState        string    `json:"clientState,omitempty"`
}

// Subscription is a provider-side webhook subscription.
type Subscription struct {
	ID                 string    `json:"id"`
	Resource           string    `json:"resource"`
	ChangeType         string    `json:"changeType"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
}

// DateTimeZone is a wall-clock time with its time zone name.
type DateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// EmailAddress identifies a person.
type EmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Recipient wraps an email address.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// Event is a calendar item as returned by the provider.
type Event struct {
	ID        string       `json:"id"`
	Subject   string       `json:"subject"`
	Start     DateTimeZone `json:"start"`
	End       DateTimeZone `json:"end"`
	Organizer Recipient    `json:"organizer"`
}

// APIError is a non-success response from the provider.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (status %d): %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (status %d)", e.Status)
}

// Is reports provider "not found" responses as ErrNotFound.
func (e *APIError) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	return e.Status == http.StatusNotFound || e.Code == "ErrorItemNotFound"
}

// CreateSubscription registers a new webhook subscription.
func (c *Client) CreateSubscription(ctx context.Context, token string, req SubscriptionRequest) (*Subscription, error) {
	req.ExpirationDateTime = req.ExpirationDateTime.UTC()

	var sub Subscription
	if err := c.do(ctx, token, http.MethodPost, "/subscriptions", req, &sub); err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}
	return &sub, nil
}

// RenewSubscription extends a subscription's expiration.
func (c *Client) RenewSubscription(ctx context.Context, token, subscriptionID string, expiresAt time.Time) error {
	body := map[string]time.Time{"expirationDateTime": expiresAt.UTC()}
	path := "/subscriptions/" + url.PathEscape(subscriptionID)

	if err := c.do(ctx, token, http.MethodPatch, path, body, nil); err != nil {
		return fmt.Errorf("renewing subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// DeleteSubscription removes a subscription.
func (c *Client) DeleteSubscription(ctx context.Context, token, subscriptionID string) error {
	path := "/subscriptions/" + url.PathEscape(subscriptionID)

	if err := c.do(ctx, token, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("deleting subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// FetchEvent retrieves the calendar item at a resource path, as reported in
// a change notification. A deleted item yields ErrNotFound.
func (c *Client) FetchEvent(ctx context.Context, token, resource string) (*Event, error) {
	path := "/" + strings.TrimLeft(resource, "/") + "?$select=" + eventFields

	var ev Event
	if err := c.do(ctx, token, http.MethodGet, path, nil, &ev); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", resource, err)
	}
	return &ev, nil
}

// do performs an authenticated JSON request. A nil out discards the body.
func (c *Client) do(ctx context.Context, token, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.authorized(ctx, token).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// authorized returns an HTTP client that sends token as a bearer credential.
func (c *Client) authorized(ctx context.Context, token string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	client := oauth2.NewClient(ctx, src)
	client.Timeout = c.config.Timeout
	return client
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
