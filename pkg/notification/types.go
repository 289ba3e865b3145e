// Package notification contains the public domain models for the notifier:
// outbound requests, the wire message, pending dialogs and the error taxonomy.
package notification

import (
	"image"
	"strings"
)

// Reserved default topics.
const (
	TopicAllUsers     = "all_users" // Default topic for all users
	TopicPremiumUsers = "premium_users"
	TopicAdminUsers   = "admin_users"
	TopicVIPUsers     = "vip_users"
)

// Data map keys shared by the sender and the receiver.
const (
	KeyTitle     = "title"
	KeyBody      = "body"
	KeyImageURL  = "imageUrl"
	KeyType      = "type"
	KeyTimestamp = "timestamp"
	KeyAction    = "action"
)

// Kind is the declared message class.
type Kind int

const (
	KindNormal Kind = iota
	KindDialog
)

// String returns the lowercased wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindDialog:
		return "dialog"
	default:
		return "normal"
	}
}

// ParseKind maps a wire type string to a Kind, case-insensitively.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return KindNormal, true
	case "dialog":
		return KindDialog, true
	default:
		return KindNormal, false
	}
}

// NotificationRequest is one outbound send. An empty string means the
// optional field is absent and it is omitted from the wire data.
type NotificationRequest struct {
	Title    string
	Body     string
	ImageURL string
	Kind     Kind
	Extra    map[string]string
}

// Target addresses exactly one of a topic or a device token.
type Target struct {
	Topic string
	Token string
}

// TopicTarget addresses a topic.
func TopicTarget(topic string) Target { return Target{Topic: topic} }

// DeviceTarget addresses a single device registration token.
func DeviceTarget(token string) Target { return Target{Token: token} }

// Valid reports whether exactly one of Topic or Token is set.
func (t Target) Valid() bool {
	return (t.Topic == "") != (t.Token == "")
}

func (t Target) String() string {
	if t.Topic != "" {
		return "topic:" + t.Topic
	}
	return "token"
}

// WireMessage is the "message" object posted to the messaging backend.
type WireMessage struct {
	Topic string            `json:"topic,omitempty"`
	Token string            `json:"token,omitempty"`
	Data  map[string]string `json:"data"`
}

// PendingDialog is a dialog payload waiting for the foreground to show it.
type PendingDialog struct {
	Title           string `json:"title,omitempty"`
	Body            string `json:"body,omitempty"`
	ImageURL        string `json:"imageUrl,omitempty"`
	TimestampMillis int64  `json:"timestamp"`
	Action          string `json:"action,omitempty"`
}

// Priority of a rendered notification.
type Priority int

const (
	PriorityDefault Priority = iota
	PriorityHigh
)

// RenderedNotification is the record handed to the notification surface.
// It is built per inbound normal message and never persisted.
type RenderedNotification struct {
	// ID identifies the record for deduplication on the notification surface.
	ID         int32
	ChannelID  string
	Title      string
	Body       string
	ImageURL   string
	Image      image.Image // nil when absent or the fetch failed
	Extras     map[string]string
	Priority   Priority
	AutoCancel bool
}
