package model

import "time"

// OpportunityStage is the sales-pipeline stage of an opportunity.
type OpportunityStage string

const (
	OpportunityStageOpen OpportunityStage = "open"
	OpportunityStageWon  OpportunityStage = "won"
	OpportunityStageLost OpportunityStage = "lost"
)

// Opportunity is created at most once per prospect when a reply is detected
// and the auto-conversion setting is enabled.
type Opportunity struct {
	ID         string           `json:"id"`
	ProspectID string           `json:"prospect_id"`
	CampaignID string           `json:"campaign_id,omitempty"`
	Stage      OpportunityStage `json:"stage"`
	Source     string           `json:"source"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Settings keys stored in outreach_settings.
const (
	SettingAutoCreateOpportunity = "auto_create_opportunity"
)
