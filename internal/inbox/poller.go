// Package inbox detects replies by polling an inbound mailbox and matching
// sender addresses against active campaign links. Mail providers report
// opens and bounces, but a reply only shows up in the inbox.
package inbox

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/retainly/outreach-cli/internal/ingest"
	"github.com/retainly/outreach-cli/internal/model"
)

// InboundMessage is one message pulled from the inbox.
type InboundMessage struct {
	MessageID  string
	From       string
	Subject    string
	ReceivedAt time.Time
}

// Source fetches inbound messages received after since.
type Source interface {
	FetchMessages(ctx context.Context, since time.Time) ([]InboundMessage, error)
}

// Store is the subset of the data layer the poller needs.
type Store interface {
	FindActiveLinkByEmail(ctx context.Context, email string) (*model.CampaignProspect, error)
	ListEmailsByLink(ctx context.Context, linkID string) ([]model.OutreachEmail, error)
}

// Processor applies delivery events; satisfied by ingest.Ingestor.
type Processor interface {
	Process(ctx context.Context, ev ingest.Event) (bool, error)
}

// Poller matches inbound mail to campaign links and records reply events.
// Re-polling the same window is safe: once a link leaves the active status
// its sender no longer matches, and repeat replies on the same email are
// absorbed by the ingestor.
type Poller struct {
	source    Source
	store     Store
	processor Processor
	lastPoll  time.Time
	now       func() time.Time
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

// WithLookback sets how far back the first poll reaches.
func WithLookback(d time.Duration) Option {
	return func(p *Poller) {
		p.lastPoll = p.now().Add(-d)
	}
}

// NewPoller wires an inbox poller.
func NewPoller(source Source, st Store, processor Processor, opts ...Option) *Poller {
	p := &Poller{
		source:    source,
		store:     st,
		processor: processor,
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.lastPoll.IsZero() {
		p.lastPoll = p.now().Add(-24 * time.Hour)
	}
	return p
}

// Poll fetches messages since the previous poll and records a reply for each
// one whose sender has an active campaign link. Returns the number of
// replies recorded.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	since := p.lastPoll
	messages, err := p.source.FetchMessages(ctx, since)
	if err != nil {
		return 0, eris.Wrap(err, "inbox: fetch messages")
	}
	p.lastPoll = p.now()

	replies := 0
	for _, msg := range messages {
		ok, err := p.Handle(ctx, msg)
		if err != nil {
			zap.L().Warn("inbox: message failed",
				zap.String("message_id", msg.MessageID),
				zap.String("from", msg.From),
				zap.Error(err),
			)
			continue
		}
		if ok {
			replies++
		}
	}

	if replies > 0 {
		zap.L().Info("inbox: replies recorded",
			zap.Int("count", replies),
			zap.Int("messages", len(messages)),
		)
	}
	return replies, nil
}

// Handle records a reply for a single inbound message. Exposed so pushed
// messages (forwarding hooks) take the same path as polled ones.
func (p *Poller) Handle(ctx context.Context, msg InboundMessage) (bool, error) {
	from := model.NormalizeEmail(msg.From)
	link, err := p.store.FindActiveLinkByEmail(ctx, from)
	if err != nil {
		return false, eris.Wrap(err, "find link")
	}
	if link == nil {
		return false, nil
	}

	emails, err := p.store.ListEmailsByLink(ctx, link.ID)
	if err != nil {
		return false, eris.Wrap(err, "list emails")
	}

	// The reply is attributed to the latest message that actually went out.
	var target *model.OutreachEmail
	for i := range emails {
		em := &emails[i]
		if !em.Status.PostSend() {
			continue
		}
		if target == nil || em.Position > target.Position {
			target = em
		}
	}
	if target == nil {
		zap.L().Debug("inbox: reply with no sent email",
			zap.String("link_id", link.ID),
			zap.String("from", from),
		)
		return false, nil
	}

	known, err := p.processor.Process(ctx, ingest.Event{
		EmailID:    target.ID,
		Provider:   "inbox",
		Type:       model.EventReply,
		OccurredAt: msg.ReceivedAt,
	})
	if err != nil {
		return false, eris.Wrap(err, "record reply")
	}
	return known, nil
}
