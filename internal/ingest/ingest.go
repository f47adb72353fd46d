// Package ingest processes delivery-event notifications from the mail
// providers and applies them to emails, links, campaigns, and prospects.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/retainly/outreach-cli/internal/metrics"
	"github.com/retainly/outreach-cli/internal/model"
	"github.com/retainly/outreach-cli/pkg/resend"
	"github.com/retainly/outreach-cli/pkg/sendgrid"
)

// Store is the subset of the data layer the ingestor needs.
type Store interface {
	GetEmail(ctx context.Context, id string) (*model.OutreachEmail, error)
	GetEmailByProviderMessageID(ctx context.Context, providerMessageID string) (*model.OutreachEmail, error)
	GetLink(ctx context.Context, id string) (*model.CampaignProspect, error)
	InsertEvent(ctx context.Context, ev model.EmailEvent) error
	CountEvents(ctx context.Context, emailID string, typ model.EventType) (int, error)
	UpdateEmailStatus(ctx context.Context, id string, status model.EmailStatus) error
	SetLinkStatus(ctx context.Context, id string, status model.LinkStatus) error
	DemoteLaterPending(ctx context.Context, linkID string, position int) (int, error)
	IncrementOpenCount(ctx context.Context, id string) error
	IncrementReplyCount(ctx context.Context, id string) error
	SetDoNotEmail(ctx context.Context, id string) error
	UpdateProspectStatus(ctx context.Context, id string, status model.ProspectStatus) error
	HasOpenOpportunity(ctx context.Context, prospectID string) (bool, error)
	CreateOpportunity(ctx context.Context, o model.Opportunity) (*model.Opportunity, error)
	GetSetting(ctx context.Context, key string) (string, error)
}

// Event is one provider-agnostic delivery notification.
type Event struct {
	// EmailID is our internal email id echoed back by the provider, when
	// present. Resolution prefers it over ProviderMessageID.
	EmailID           string
	ProviderMessageID string
	Provider          string
	Type              model.EventType
	OccurredAt        time.Time
	Payload           []byte
}

// Result summarizes one ingestion batch.
type Result struct {
	Processed int
	Ignored   int
	Failed    int
}

// Ingestor applies delivery events. Events for unknown messages or unknown
// event kinds are ignored, never errors, so provider retries stay quiet.
type Ingestor struct {
	store Store
	now   func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) {
		i.now = now
	}
}

// New wires an ingestor.
func New(st Store, opts ...Option) *Ingestor {
	i := &Ingestor{store: st, now: time.Now}
	for _, o := range opts {
		o(i)
	}
	return i
}

// HandleSendGridBatch processes one SendGrid webhook delivery, which carries
// a JSON array of events. Per-event failures are logged and counted, the
// rest of the batch still lands.
func (i *Ingestor) HandleSendGridBatch(ctx context.Context, events []sendgrid.Event) Result {
	var res Result
	for _, sgEvent := range events {
		typ, ok := model.ParseEventType(sgEvent.Event)
		if !ok {
			res.Ignored++
			continue
		}
		// The raw provider event rides along for auditing.
		payload, _ := json.Marshal(sgEvent)
		ev := Event{
			EmailID:           sgEvent.OutreachEmailID,
			ProviderMessageID: sgEvent.SGMessageID,
			Provider:          string(model.ProviderSendGrid),
			Type:              typ,
			OccurredAt:        sgEvent.OccurredAt(),
			Payload:           payload,
		}
		i.tally(ctx, ev, &res)
	}
	return res
}

// HandleResendEvent processes one Resend webhook delivery, which carries a
// single event object.
func (i *Ingestor) HandleResendEvent(ctx context.Context, ev *resend.WebhookEvent) Result {
	var res Result
	typ, ok := model.ParseEventType(ev.Type)
	if !ok {
		res.Ignored++
		return res
	}
	payload, _ := json.Marshal(ev)
	i.tally(ctx, Event{
		EmailID:           ev.Data.TagValue(resend.TagEmailID),
		ProviderMessageID: ev.Data.EmailID,
		Provider:          string(model.ProviderResend),
		Type:              typ,
		OccurredAt:        ev.CreatedAt,
		Payload:           payload,
	}, &res)
	return res
}

func (i *Ingestor) tally(ctx context.Context, ev Event, res *Result) {
	known, err := i.Process(ctx, ev)
	switch {
	case err != nil:
		res.Failed++
		metrics.RecordEvent(ev.Provider, "failed")
		zap.L().Warn("ingest: event failed",
			zap.String("type", string(ev.Type)),
			zap.String("email_id", ev.EmailID),
			zap.Error(err),
		)
	case !known:
		res.Ignored++
		metrics.RecordEvent(ev.Provider, "ignored")
	default:
		res.Processed++
		metrics.RecordEvent(ev.Provider, "processed")
	}
}

// Process applies a single event. The bool return reports whether the event
// matched a known email.
func (i *Ingestor) Process(ctx context.Context, ev Event) (bool, error) {
	email, err := i.resolve(ctx, ev)
	if err != nil {
		return false, err
	}
	if email == nil {
		zap.L().Debug("ingest: event for unknown message",
			zap.String("type", string(ev.Type)),
			zap.String("provider_message_id", ev.ProviderMessageID),
		)
		return false, nil
	}

	// First open per email bumps the campaign counter; the check runs
	// against the event log before this event is appended.
	firstOfType := false
	if ev.Type == model.EventOpen || ev.Type == model.EventReply {
		n, err := i.store.CountEvents(ctx, email.ID, ev.Type)
		if err != nil {
			return true, eris.Wrap(err, "ingest: count events")
		}
		firstOfType = n == 0
	}

	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = i.now()
	}
	if err := i.store.InsertEvent(ctx, model.EmailEvent{
		EmailID:           email.ID,
		Type:              ev.Type,
		Provider:          ev.Provider,
		ProviderMessageID: ev.ProviderMessageID,
		Payload:           ev.Payload,
		OccurredAt:        occurredAt,
	}); err != nil {
		return true, eris.Wrap(err, "ingest: insert event")
	}

	if next := email.Status.TransitionFor(ev.Type); next != email.Status {
		if err := i.store.UpdateEmailStatus(ctx, email.ID, next); err != nil {
			return true, eris.Wrap(err, "ingest: update email status")
		}
		email.Status = next
	}

	link, err := i.store.GetLink(ctx, email.CampaignProspectID)
	if err != nil {
		return true, eris.Wrap(err, "ingest: get link")
	}
	if link == nil {
		return true, eris.New("ingest: campaign link not found")
	}

	switch ev.Type {
	case model.EventOpen:
		if firstOfType {
			if err := i.store.IncrementOpenCount(ctx, link.CampaignID); err != nil {
				return true, eris.Wrap(err, "ingest: increment opens")
			}
		}
	case model.EventReply:
		if err := i.handleReply(ctx, email, link, firstOfType); err != nil {
			return true, err
		}
	case model.EventBounce, model.EventSpamReport:
		if err := i.handleBounce(ctx, link); err != nil {
			return true, err
		}
	}
	return true, nil
}

// resolve finds the email the event refers to, preferring our echoed
// internal id over the provider's message id.
func (i *Ingestor) resolve(ctx context.Context, ev Event) (*model.OutreachEmail, error) {
	if ev.EmailID != "" {
		email, err := i.store.GetEmail(ctx, ev.EmailID)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: get email")
		}
		if email != nil {
			return email, nil
		}
	}
	if ev.ProviderMessageID != "" {
		email, err := i.store.GetEmailByProviderMessageID(ctx, ev.ProviderMessageID)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: get email by provider id")
		}
		return email, nil
	}
	return nil, nil
}

// handleReply stops the sequence: the link flips to replied, every later
// message still waiting to go out drops back to draft, and when enabled an
// opportunity is opened for the prospect, at most one open at a time.
func (i *Ingestor) handleReply(ctx context.Context, email *model.OutreachEmail, link *model.CampaignProspect, firstReply bool) error {
	if link.Status == model.LinkStatusActive {
		if err := i.store.SetLinkStatus(ctx, link.ID, model.LinkStatusReplied); err != nil {
			return eris.Wrap(err, "ingest: set link replied")
		}
	}

	demoted, err := i.store.DemoteLaterPending(ctx, link.ID, email.Position)
	if err != nil {
		return eris.Wrap(err, "ingest: demote pending")
	}
	if demoted > 0 {
		zap.L().Info("ingest: reply stopped sequence",
			zap.String("link_id", link.ID),
			zap.Int("demoted", demoted),
		)
	}

	if firstReply {
		if err := i.store.IncrementReplyCount(ctx, link.CampaignID); err != nil {
			return eris.Wrap(err, "ingest: increment replies")
		}
		metrics.RecordReply()
	}

	enabled, err := i.store.GetSetting(ctx, model.SettingAutoCreateOpportunity)
	if err != nil {
		return eris.Wrap(err, "ingest: get setting")
	}
	if enabled != "true" {
		return nil
	}

	hasOpen, err := i.store.HasOpenOpportunity(ctx, link.ProspectID)
	if err != nil {
		return eris.Wrap(err, "ingest: check opportunity")
	}
	if hasOpen {
		return nil
	}

	if _, err := i.store.CreateOpportunity(ctx, model.Opportunity{
		ProspectID: link.ProspectID,
		CampaignID: link.CampaignID,
		Stage:      model.OpportunityStageOpen,
		Source:     "email_reply",
	}); err != nil {
		return eris.Wrap(err, "ingest: create opportunity")
	}
	if err := i.store.UpdateProspectStatus(ctx, link.ProspectID, model.ProspectStatusConverted); err != nil {
		return eris.Wrap(err, "ingest: mark converted")
	}
	metrics.RecordOpportunity()
	zap.L().Info("ingest: opportunity created",
		zap.String("prospect_id", link.ProspectID),
		zap.String("campaign_id", link.CampaignID),
	)
	return nil
}

// handleBounce suppresses the prospect from all future outreach. Unsent
// siblings keep their statuses; the send guards stop them via the link and
// the do-not-email flag.
func (i *Ingestor) handleBounce(ctx context.Context, link *model.CampaignProspect) error {
	if err := i.store.SetDoNotEmail(ctx, link.ProspectID); err != nil {
		return eris.Wrap(err, "ingest: set do not email")
	}
	if err := i.store.UpdateProspectStatus(ctx, link.ProspectID, model.ProspectStatusBounced); err != nil {
		return eris.Wrap(err, "ingest: mark bounced")
	}
	if link.Status == model.LinkStatusActive {
		if err := i.store.SetLinkStatus(ctx, link.ID, model.LinkStatusBounced); err != nil {
			return eris.Wrap(err, "ingest: set link bounced")
		}
	}
	return nil
}
