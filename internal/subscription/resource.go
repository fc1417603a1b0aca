package subscription

import (
	"fmt"
	"strings"
)

// All positional parsing of provider resource paths lives in this file.
// Resource paths look like "Users/{userId}/calendars/{calendarId}/events"
// for subscriptions and "Users/{userId}/Events/{eventId}" for
// notifications. Segment names are matched case-insensitively because the
// provider echoes paths back with its own casing.

const (
	segmentUsers     = "users"
	segmentCalendars = "calendars"
	segmentEvents    = "events"
)

// DeriveCalendarID extracts the calendar identifier from a subscription
// resource path. The calendar id is the segment following "calendars".
func DeriveCalendarID(resource string) (string, error) {
	id := segmentAfter(resource, segmentCalendars)
	if id == "" {
		return "", fmt.Errorf("%w: no calendar id in %q", ErrInvalidResource, resource)
	}
	return id, nil
}

// DeriveUserID extracts the owning user id from a resource path, in the
// form produced by NormalizeUserID. It returns "" when the path is relative
// to the signed-in user ("me/...").
func DeriveUserID(resource string) string {
	id := segmentAfter(resource, segmentUsers)
	if id == "" {
		return ""
	}
	return NormalizeUserID(id)
}

// DeriveItemID extracts the changed item's id from a notification resource
// path. It prefers the segment following "events" and falls back to the
// last segment.
func DeriveItemID(resource string) string {
	if id := segmentAfter(resource, segmentEvents); id != "" {
		return id
	}
	parts := splitPath(resource)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// CalendarResource builds the subscription resource path for a calendar.
// An empty userID yields a path relative to the token's own user.
func CalendarResource(userID, calendarID string) string {
	if userID == "" {
		return "me/calendars/" + calendarID + "/events"
	}
	return "users/" + userID + "/calendars/" + calendarID + "/events"
}

// NormalizeUserID converts an account identifier as reported by the sign-in
// library into the user id form used in provider resource paths and as the
// token store key.
//
// GUID-shaped ids, optionally followed by ".{tenantId}", lose their dashes.
// Personal accounts ("00000000-0000-0000-xxxx-xxxxxxxxxxxx") keep only the
// last two groups. Anything else, such as a user principal name, is only
// lowercased.
func NormalizeUserID(accountID string) string {
	id := strings.ToLower(strings.TrimSpace(accountID))

	head := id
	if dot := strings.Index(id, "."); dot != -1 {
		head = id[:dot]
	}

	groups := strings.Split(head, "-")
	if !isGUID(groups) {
		return id
	}
	if isZeros(groups[0]) && isZeros(groups[1]) && isZeros(groups[2]) {
		return groups[3] + groups[4]
	}
	return strings.Join(groups, "")
}

func segmentAfter(resource, name string) string {
	parts := splitPath(resource)
	for i := 0; i < len(parts)-1; i++ {
		if strings.EqualFold(parts[i], name) {
			return parts[i+1]
		}
	}
	return ""
}

func splitPath(resource string) []string {
	var parts []string
	for _, p := range strings.Split(resource, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func isZeros(s string) bool {
	return strings.Trim(s, "0") == ""
}

var guidGroupLengths = [5]int{8, 4, 4, 4, 12}

func isGUID(groups []string) bool {
	if len(groups) != len(guidGroupLengths) {
		return false
	}
	for i, g := range groups {
		if len(g) != guidGroupLengths[i] || strings.Trim(g, "0123456789abcdef") != "" {
			return false
		}
	}
	return true
}
