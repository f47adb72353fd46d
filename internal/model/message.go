package model

import "time"

// EmailStatus is the state of one outreach message.
type EmailStatus string

const (
	EmailStatusDraft     EmailStatus = "draft"
	EmailStatusApproved  EmailStatus = "approved"
	EmailStatusScheduled EmailStatus = "scheduled"
	EmailStatusSent      EmailStatus = "sent"
	EmailStatusDelivered EmailStatus = "delivered"
	EmailStatusOpened    EmailStatus = "opened"
	EmailStatusClicked   EmailStatus = "clicked"
	EmailStatusReplied   EmailStatus = "replied"
	EmailStatusFailed    EmailStatus = "failed"
	EmailStatusBounced   EmailStatus = "bounced"
)

// OutreachEmail is one message row per (campaign link, sequence position).
type OutreachEmail struct {
	ID                string      `json:"id"`
	CampaignProspectID string     `json:"campaign_prospect_id"`
	Position          int         `json:"position"`
	Subject           string      `json:"subject"`
	Body              string      `json:"body"`
	Status            EmailStatus `json:"status"`
	AIGenerated       bool        `json:"ai_generated"`
	ScheduledAt       *time.Time  `json:"scheduled_at,omitempty"`
	SentAt            *time.Time  `json:"sent_at,omitempty"`
	ProviderMessageID string      `json:"provider_message_id,omitempty"`
	SendError         string      `json:"send_error,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Sendable reports whether a message in this status may be dispatched.
func (s EmailStatus) Sendable() bool {
	return s == EmailStatusApproved || s == EmailStatusScheduled
}

// Pending reports whether the message is still waiting to go out. Pending
// messages are the ones demoted back to draft when a reply lands.
func (s EmailStatus) Pending() bool {
	return s == EmailStatusApproved || s == EmailStatusScheduled
}

// PostSend reports whether the message has already left the building.
func (s EmailStatus) PostSend() bool {
	switch s {
	case EmailStatusSent, EmailStatusDelivered, EmailStatusOpened,
		EmailStatusClicked, EmailStatusReplied, EmailStatusBounced:
		return true
	}
	return false
}

// applyEngagement returns the status after an engagement event, honoring the
// rule that replied is sticky and wins over opened/clicked.
func (s EmailStatus) applyEngagement(next EmailStatus) EmailStatus {
	if s == EmailStatusReplied {
		return s
	}
	return next
}

// TransitionFor maps a delivery event type onto the resulting email status.
// Returns the current status unchanged when the event does not move it.
func (s EmailStatus) TransitionFor(event EventType) EmailStatus {
	switch event {
	case EventDelivered:
		if s == EmailStatusSent {
			return EmailStatusDelivered
		}
		return s
	case EventOpen:
		return s.applyEngagement(EmailStatusOpened)
	case EventClick:
		return s.applyEngagement(EmailStatusClicked)
	case EventBounce, EventSpamReport:
		return EmailStatusBounced
	case EventReply:
		return EmailStatusReplied
	}
	return s
}
