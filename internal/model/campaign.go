package model

import "time"

// CampaignStatus represents the operational state of a campaign.
type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// MailProviderName selects which transactional-mail provider a campaign uses.
type MailProviderName string

const (
	ProviderSendGrid MailProviderName = "sendgrid"
	ProviderResend   MailProviderName = "resend"
)

// Campaign is a named outbound effort with a daily send cap and an ordered
// sequence of message templates.
type Campaign struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Status       CampaignStatus   `json:"status"`
	DailySendCap int              `json:"daily_send_cap"`
	MailProvider MailProviderName `json:"mail_provider"`
	FromEmail    string           `json:"from_email"`
	FromName     string           `json:"from_name"`
	OpenCount    int              `json:"open_count"`
	ReplyCount   int              `json:"reply_count"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// LinkStatus tracks a prospect's progress through one campaign's sequence.
type LinkStatus string

const (
	LinkStatusActive       LinkStatus = "active"
	LinkStatusReplied      LinkStatus = "replied"
	LinkStatusBounced      LinkStatus = "bounced"
	LinkStatusUnsubscribed LinkStatus = "unsubscribed"
	LinkStatusCompleted    LinkStatus = "completed"
)

// CampaignProspect is the join entity (campaign link) between one prospect
// and one campaign.
type CampaignProspect struct {
	ID          string     `json:"id"`
	CampaignID  string     `json:"campaign_id"`
	ProspectID  string     `json:"prospect_id"`
	Status      LinkStatus `json:"status"`
	CurrentStep int        `json:"current_step"`
	EnrolledAt  time.Time  `json:"enrolled_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
