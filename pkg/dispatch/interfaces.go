// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-easy-notifier/pkg/notification"
)

// TokenProvider obtains a fresh bearer token for the messaging scope.
// Implementations must not hand back a cached token.
type TokenProvider interface {
	FetchToken(ctx context.Context) (string, error)
}

// Dispatcher defines the contract for the component that posts one encoded
// message to the messaging backend.
type Dispatcher interface {
	// Send returns the backend message identifier on success.
	Send(ctx context.Context, msg notification.WireMessage, bearerToken string) (string, error)
	// Close releases network resources. The Dispatcher must not be used afterwards.
	Close()
}

// TopicSubscriber subscribes a device registration token to a topic.
type TopicSubscriber interface {
	Subscribe(ctx context.Context, token, topic string) error
}

// Channel is the notification channel (category) a record is posted to.
type Channel struct {
	ID          string
	Name        string
	Description string
}

// NotificationSink is the system notification surface.
type NotificationSink interface {
	// EnsureChannel creates the channel if it does not exist. It must be idempotent.
	EnsureChannel(ctx context.Context, ch Channel) error
	// Post displays the record. Delivery is fire-and-forget.
	Post(ctx context.Context, n notification.RenderedNotification) error
}

// DialogRecord is the flat durable schema of the pending-dialog namespace.
type DialogRecord struct {
	HasDialog bool
	Title     string
	Body      string
	ImageURL  string
	Timestamp int64
	Action    string
}

// DialogBackend is the durable key-value namespace behind the pending-dialog store.
type DialogBackend interface {
	// Load returns the stored record; a zero record when nothing was ever written.
	Load(ctx context.Context) (DialogRecord, error)
	// Store overwrites the namespace with rec.
	Store(ctx context.Context, rec DialogRecord) error
	// Reset removes every key in the namespace.
	Reset(ctx context.Context) error
	Close() error
}

// ChangeFeed is implemented by backends that can signal writes made by other
// processes. Each value on the channel means "the namespace may have changed".
type ChangeFeed interface {
	Changes(ctx context.Context) (<-chan struct{}, error)
}
