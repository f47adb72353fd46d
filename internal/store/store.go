// Package store defines persistence for the outreach pipeline.
package store

import (
	"context"
	"time"

	"github.com/retainly/outreach-cli/internal/model"
)

// ProspectFilter specifies criteria for listing prospects.
type ProspectFilter struct {
	Status model.ProspectStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// Store defines the persistence interface for the outreach pipeline. All
// lookup methods that model cache-or-absent semantics return (nil, nil) on a
// miss rather than an error.
type Store interface {
	// Prospects
	CreateProspect(ctx context.Context, p model.Prospect) (*model.Prospect, error)
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	GetProspectByEmail(ctx context.Context, email string) (*model.Prospect, error)
	ListProspects(ctx context.Context, filter ProspectFilter) ([]model.Prospect, error)
	UpdateProspectStatus(ctx context.Context, id string, status model.ProspectStatus) error
	UpdateProspectFirmographics(ctx context.Context, id string, employeeCount int, industry string) error
	SetDoNotEmail(ctx context.Context, id string) error
	ImportProspects(ctx context.Context, prospects []model.Prospect) (int64, error)

	// Research cache
	GetResearch(ctx context.Context, prospectID string) (*model.ResearchRecord, error)
	UpsertResearch(ctx context.Context, rec model.ResearchRecord) (*model.ResearchRecord, error)

	// Campaigns
	CreateCampaign(ctx context.Context, c model.Campaign) (*model.Campaign, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	SetCampaignStatus(ctx context.Context, id string, status model.CampaignStatus) error
	IncrementOpenCount(ctx context.Context, id string) error
	IncrementReplyCount(ctx context.Context, id string) error

	// Campaign links
	EnrollProspect(ctx context.Context, campaignID, prospectID string) (*model.CampaignProspect, error)
	GetLink(ctx context.Context, id string) (*model.CampaignProspect, error)
	FindActiveLinkByEmail(ctx context.Context, email string) (*model.CampaignProspect, error)
	SetLinkStatus(ctx context.Context, id string, status model.LinkStatus) error
	AdvanceLinkStep(ctx context.Context, id string, step int) error

	// Outreach emails
	InsertEmails(ctx context.Context, emails []model.OutreachEmail) error
	GetEmail(ctx context.Context, id string) (*model.OutreachEmail, error)
	GetEmailByProviderMessageID(ctx context.Context, providerMessageID string) (*model.OutreachEmail, error)
	ListSendable(ctx context.Context, campaignID string, limit int) ([]model.OutreachEmail, error)
	ListDueScheduled(ctx context.Context, limit int) ([]model.OutreachEmail, error)
	ListEmailsByLink(ctx context.Context, linkID string) ([]model.OutreachEmail, error)
	UpdateEmailStatus(ctx context.Context, id string, status model.EmailStatus) error
	ScheduleEmail(ctx context.Context, id string, at time.Time) error
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
	DeleteDrafts(ctx context.Context, linkID string) (int, error)
	DemoteLaterPending(ctx context.Context, linkID string, position int) (int, error)
	CountSentSince(ctx context.Context, campaignID string, since time.Time) (int, error)

	// Email events
	InsertEvent(ctx context.Context, ev model.EmailEvent) error
	CountEvents(ctx context.Context, emailID string, typ model.EventType) (int, error)

	// Opportunities
	HasOpenOpportunity(ctx context.Context, prospectID string) (bool, error)
	CreateOpportunity(ctx context.Context, o model.Opportunity) (*model.Opportunity, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
