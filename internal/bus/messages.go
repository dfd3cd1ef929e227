package bus

import (
	"time"

	"github.com/taplok/taplok/internal/store"
)

// Message types exchanged with foreground clients.
const (
	// MsgStoreUserData binds the device to a tag (client -> worker).
	MsgStoreUserData = "STORE_USER_DATA"

	// MsgTriggerSync requests an immediate sync attempt (client -> worker).
	MsgTriggerSync = "TRIGGER_SYNC"

	// MsgLocationSynced reports a successful sync (worker -> client).
	MsgLocationSynced = "LOCATION_SYNCED"
)

// ClientMessage is an inbound message from a foreground client.
// Unknown types are ignored by the dispatcher.
type ClientMessage struct {
	Type     string          `json:"type"`
	UserData *store.Identity `json:"userData,omitempty"`
}

// SyncedMessage is the outbound broadcast for a successful sync.
type SyncedMessage struct {
	Type      string  `json:"type"`
	Timestamp string  `json:"timestamp"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PushPayload is the optional JSON body of a push event. Absent fields
// fall back to the default notification text.
type PushPayload struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// newSyncedMessage formats a broadcast message with an ISO-8601 timestamp.
func newSyncedMessage(ts time.Time, lat, lon float64) SyncedMessage {
	return SyncedMessage{
		Type:      MsgLocationSynced,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Latitude:  lat,
		Longitude: lon,
	}
}
