// Package sender dispatches approved and scheduled outreach emails through
// the campaign's mail provider, enforcing the per-campaign daily send cap.
package sender

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/retainly/outreach-cli/internal/metrics"
	"github.com/retainly/outreach-cli/internal/model"
	"github.com/retainly/outreach-cli/pkg/resend"
	"github.com/retainly/outreach-cli/pkg/sendgrid"
)

var (
	// ErrEmailNotFound is returned when the email id does not exist.
	ErrEmailNotFound = eris.New("sender: email not found")

	// ErrNotSendable is returned when the email is not approved or scheduled.
	ErrNotSendable = eris.New("sender: email not in a sendable status")

	// ErrNotSchedulable is returned when the email is not a draft or approved.
	ErrNotSchedulable = eris.New("sender: email not in a schedulable status")

	// ErrCampaignInactive is returned when the campaign is paused or completed.
	ErrCampaignInactive = eris.New("sender: campaign not active")

	// ErrProspectNotContactable is returned when the prospect opted out or
	// bounced.
	ErrProspectNotContactable = eris.New("sender: prospect not contactable")

	// ErrLinkInactive is returned when the campaign link is no longer active.
	ErrLinkInactive = eris.New("sender: campaign link not active")

	// ErrDailyCapReached is returned when the campaign already sent its daily
	// quota.
	ErrDailyCapReached = eris.New("sender: daily send cap reached")
)

// Store is the subset of the data layer the sender needs.
type Store interface {
	GetEmail(ctx context.Context, id string) (*model.OutreachEmail, error)
	GetLink(ctx context.Context, id string) (*model.CampaignProspect, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	ListSendable(ctx context.Context, campaignID string, limit int) ([]model.OutreachEmail, error)
	ListDueScheduled(ctx context.Context, limit int) ([]model.OutreachEmail, error)
	ListEmailsByLink(ctx context.Context, linkID string) ([]model.OutreachEmail, error)
	ScheduleEmail(ctx context.Context, id string, at time.Time) error
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
	AdvanceLinkStep(ctx context.Context, id string, step int) error
	SetLinkStatus(ctx context.Context, id string, status model.LinkStatus) error
	CountSentSince(ctx context.Context, campaignID string, since time.Time) (int, error)
}

// Sender dispatches outreach emails. Each dispatch is attempted exactly once;
// a send failure marks the email failed and moves on, it is never retried
// automatically.
type Sender struct {
	store    Store
	sendgrid sendgrid.Client
	resend   resend.Client
	now      func() time.Time
}

// Option configures a Sender.
type Option func(*Sender)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sender) {
		s.now = now
	}
}

// New wires a sender. Either provider client may be nil; dispatch through a
// missing provider fails the email.
func New(st Store, sg sendgrid.Client, rs resend.Client, opts ...Option) *Sender {
	s := &Sender{
		store:    st,
		sendgrid: sg,
		resend:   rs,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// BatchResult summarizes one sweep or batch run.
type BatchResult struct {
	Sent    int
	Failed  int
	Skipped int
}

// SendOne dispatches a single email by id after re-checking every guard:
// sendable status, active campaign, active link, contactable prospect, and
// the campaign's daily cap.
func (s *Sender) SendOne(ctx context.Context, emailID string) error {
	email, err := s.store.GetEmail(ctx, emailID)
	if err != nil {
		return eris.Wrap(err, "sender: get email")
	}
	if email == nil {
		return ErrEmailNotFound
	}
	return s.send(ctx, email)
}

// Schedule stages a draft or approved email for sending at a future time.
// The link and prospect are re-checked first so an opted-out or bounced
// prospect can never end up with a scheduled email on the books.
func (s *Sender) Schedule(ctx context.Context, emailID string, at time.Time) error {
	email, err := s.store.GetEmail(ctx, emailID)
	if err != nil {
		return eris.Wrap(err, "sender: get email")
	}
	if email == nil {
		return ErrEmailNotFound
	}
	if email.Status != model.EmailStatusDraft && email.Status != model.EmailStatusApproved {
		return ErrNotSchedulable
	}

	link, err := s.store.GetLink(ctx, email.CampaignProspectID)
	if err != nil {
		return eris.Wrap(err, "sender: get link")
	}
	if link == nil {
		return eris.New("sender: campaign link not found")
	}
	if link.Status != model.LinkStatusActive {
		return ErrLinkInactive
	}

	prospect, err := s.store.GetProspect(ctx, link.ProspectID)
	if err != nil {
		return eris.Wrap(err, "sender: get prospect")
	}
	if prospect == nil {
		return eris.New("sender: prospect not found")
	}
	if !prospect.Contactable() {
		return ErrProspectNotContactable
	}

	if err := s.store.ScheduleEmail(ctx, emailID, at); err != nil {
		return eris.Wrap(err, "sender: schedule email")
	}
	return nil
}

// ProcessScheduled dispatches every scheduled email whose time has come,
// across all campaigns. Failures mark the email and continue.
func (s *Sender) ProcessScheduled(ctx context.Context, limit int) (BatchResult, error) {
	due, err := s.store.ListDueScheduled(ctx, limit)
	if err != nil {
		return BatchResult{}, eris.Wrap(err, "sender: list due")
	}
	return s.sendBatch(ctx, due), nil
}

// SendCampaignBatch dispatches the campaign's approved and due-scheduled
// emails, oldest first, up to limit.
func (s *Sender) SendCampaignBatch(ctx context.Context, campaignID string, limit int) (BatchResult, error) {
	emails, err := s.store.ListSendable(ctx, campaignID, limit)
	if err != nil {
		return BatchResult{}, eris.Wrap(err, "sender: list sendable")
	}
	return s.sendBatch(ctx, emails), nil
}

func (s *Sender) sendBatch(ctx context.Context, emails []model.OutreachEmail) BatchResult {
	var res BatchResult
	for i := range emails {
		if ctx.Err() != nil {
			break
		}
		err := s.send(ctx, &emails[i])
		switch {
		case err == nil:
			res.Sent++
		case eris.Is(err, ErrDailyCapReached),
			eris.Is(err, ErrCampaignInactive),
			eris.Is(err, ErrProspectNotContactable),
			eris.Is(err, ErrLinkInactive),
			eris.Is(err, ErrNotSendable):
			res.Skipped++
			zap.L().Debug("sender: skipped email",
				zap.String("email_id", emails[i].ID),
				zap.Error(err),
			)
		default:
			res.Failed++
			zap.L().Warn("sender: send failed",
				zap.String("email_id", emails[i].ID),
				zap.Error(err),
			)
		}
	}
	return res
}

func (s *Sender) send(ctx context.Context, email *model.OutreachEmail) error {
	if !email.Status.Sendable() {
		return ErrNotSendable
	}

	link, err := s.store.GetLink(ctx, email.CampaignProspectID)
	if err != nil {
		return eris.Wrap(err, "sender: get link")
	}
	if link == nil {
		return eris.New("sender: campaign link not found")
	}
	if link.Status != model.LinkStatusActive {
		return ErrLinkInactive
	}

	campaign, err := s.store.GetCampaign(ctx, link.CampaignID)
	if err != nil {
		return eris.Wrap(err, "sender: get campaign")
	}
	if campaign == nil {
		return eris.New("sender: campaign not found")
	}
	if campaign.Status != model.CampaignStatusActive {
		return ErrCampaignInactive
	}

	prospect, err := s.store.GetProspect(ctx, link.ProspectID)
	if err != nil {
		return eris.Wrap(err, "sender: get prospect")
	}
	if prospect == nil {
		return eris.New("sender: prospect not found")
	}
	if !prospect.Contactable() {
		return ErrProspectNotContactable
	}

	if campaign.DailySendCap > 0 {
		// The cap counts sends since local midnight in the process timezone.
		now := s.now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		sentToday, err := s.store.CountSentSince(ctx, campaign.ID, midnight)
		if err != nil {
			return eris.Wrap(err, "sender: count sent")
		}
		if sentToday >= campaign.DailySendCap {
			return ErrDailyCapReached
		}
	}

	providerMessageID, sendErr := s.dispatch(ctx, campaign, prospect, email)
	if sendErr != nil {
		metrics.RecordSend(string(campaign.MailProvider), "failed")
		if markErr := s.store.MarkFailed(ctx, email.ID, sendErr.Error()); markErr != nil {
			zap.L().Error("sender: mark failed",
				zap.String("email_id", email.ID),
				zap.Error(markErr),
			)
		}
		email.Status = model.EmailStatusFailed
		return eris.Wrap(sendErr, "sender: dispatch")
	}

	sentAt := s.now()
	if err := s.store.MarkSent(ctx, email.ID, providerMessageID, sentAt); err != nil {
		return eris.Wrap(err, "sender: mark sent")
	}
	email.Status = model.EmailStatusSent
	email.ProviderMessageID = providerMessageID
	metrics.RecordSend(string(campaign.MailProvider), "sent")

	if err := s.advance(ctx, link, email.Position); err != nil {
		zap.L().Warn("sender: advance link",
			zap.String("link_id", link.ID),
			zap.Error(err),
		)
	}

	zap.L().Info("sender: email sent",
		zap.String("email_id", email.ID),
		zap.String("campaign_id", campaign.ID),
		zap.String("provider", string(campaign.MailProvider)),
		zap.Int("position", email.Position),
	)
	return nil
}

// dispatch routes the email through the campaign's provider, carrying our
// email id so delivery webhooks can find their way back.
func (s *Sender) dispatch(ctx context.Context, campaign *model.Campaign, prospect *model.Prospect, email *model.OutreachEmail) (string, error) {
	switch campaign.MailProvider {
	case model.ProviderSendGrid:
		if s.sendgrid == nil {
			return "", eris.New("sendgrid client not configured")
		}
		return s.sendgrid.Send(ctx, sendgrid.SendRequest{
			FromEmail: campaign.FromEmail,
			FromName:  campaign.FromName,
			ToEmail:   prospect.Email,
			ToName:    prospect.FirstName + " " + prospect.LastName,
			Subject:   email.Subject,
			Body:      email.Body,
			CustomArgs: map[string]string{
				sendgrid.CustomArgEmailID: email.ID,
			},
		})
	case model.ProviderResend:
		if s.resend == nil {
			return "", eris.New("resend client not configured")
		}
		return s.resend.Send(ctx, resend.SendRequest{
			FromEmail: campaign.FromEmail,
			FromName:  campaign.FromName,
			ToEmail:   prospect.Email,
			Subject:   email.Subject,
			Body:      email.Body,
			Tags: map[string]string{
				resend.TagEmailID: email.ID,
			},
		})
	default:
		return "", eris.Errorf("unknown mail provider %q", campaign.MailProvider)
	}
}

// advance moves the link's step pointer past the sent position and marks the
// link completed when no later message remains.
func (s *Sender) advance(ctx context.Context, link *model.CampaignProspect, position int) error {
	if err := s.store.AdvanceLinkStep(ctx, link.ID, position); err != nil {
		return eris.Wrap(err, "advance step")
	}

	siblings, err := s.store.ListEmailsByLink(ctx, link.ID)
	if err != nil {
		return eris.Wrap(err, "list siblings")
	}
	for _, sib := range siblings {
		if sib.Position > position && !sib.Status.PostSend() && sib.Status != model.EmailStatusFailed {
			return nil
		}
	}
	return s.store.SetLinkStatus(ctx, link.ID, model.LinkStatusCompleted)
}
