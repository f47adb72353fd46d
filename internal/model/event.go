package model

import "time"

// EventType classifies a delivery-status notification from a mail provider.
type EventType string

const (
	EventDelivered  EventType = "delivered"
	EventOpen       EventType = "open"
	EventClick      EventType = "click"
	EventBounce     EventType = "bounce"
	EventSpamReport EventType = "spamreport"
	EventReply      EventType = "reply"
)

// providerEventNames maps the raw event strings each provider sends onto our
// canonical types. SendGrid and Resend use different vocabularies for the
// same events.
var providerEventNames = map[string]EventType{
	"delivered":        EventDelivered,
	"email.delivered":  EventDelivered,
	"open":             EventOpen,
	"opened":           EventOpen,
	"email.opened":     EventOpen,
	"click":            EventClick,
	"clicked":          EventClick,
	"email.clicked":    EventClick,
	"bounce":           EventBounce,
	"bounced":          EventBounce,
	"email.bounced":    EventBounce,
	"dropped":          EventBounce,
	"spamreport":       EventSpamReport,
	"email.complained": EventSpamReport,
	"reply":            EventReply,
}

// ParseEventType resolves a provider event string to a canonical EventType.
// The second return is false for event kinds we ignore (processed, deferred...).
func ParseEventType(raw string) (EventType, bool) {
	t, ok := providerEventNames[raw]
	return t, ok
}

// EmailEvent is an immutable append-only log row per webhook notification.
type EmailEvent struct {
	ID                string    `json:"id"`
	EmailID           string    `json:"email_id"`
	Type              EventType `json:"type"`
	Provider          string    `json:"provider"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Payload           []byte    `json:"payload,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
	CreatedAt         time.Time `json:"created_at"`
}
