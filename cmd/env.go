package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/retainly/outreach-cli/internal/inbox"
	"github.com/retainly/outreach-cli/internal/ingest"
	"github.com/retainly/outreach-cli/internal/model"
	"github.com/retainly/outreach-cli/internal/research"
	"github.com/retainly/outreach-cli/internal/sender"
	"github.com/retainly/outreach-cli/internal/sequence"
	"github.com/retainly/outreach-cli/internal/store"
	anthropicpkg "github.com/retainly/outreach-cli/pkg/anthropic"
	"github.com/retainly/outreach-cli/pkg/apollo"
	"github.com/retainly/outreach-cli/pkg/resend"
	"github.com/retainly/outreach-cli/pkg/sendgrid"
	"github.com/retainly/outreach-cli/pkg/zoom"
)

// appEnv carries the wired components for one command invocation.
type appEnv struct {
	Store     store.Store
	Enricher  *research.Enricher
	Generator *sequence.Generator
	Sender    *sender.Sender
	Ingestor  *ingest.Ingestor
	Inbox     *inbox.Poller
	Zoom      zoom.Client
}

// Close releases held resources.
func (e *appEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// initEnv wires the full pipeline from config. Provider clients without
// credentials stay nil; the components degrade per their contracts.
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{Store: st}

	var aiClient anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		aiClient = anthropicpkg.NewClient(cfg.Anthropic.Key)
	}

	var apolloClient apollo.Client
	if cfg.Apollo.Key != "" {
		apolloClient = apollo.NewClient(cfg.Apollo.Key,
			apollo.WithBaseURL(cfg.Apollo.BaseURL),
			apollo.WithRateLimit(cfg.Apollo.RateLimit, 1),
		)
	}

	ttl := time.Duration(cfg.Outreach.ResearchTTLDays) * 24 * time.Hour
	if ttl <= 0 {
		ttl = model.DefaultResearchTTL
	}
	env.Enricher = research.NewEnricher(st, apolloClient, aiClient, cfg.Anthropic.HaikuModel,
		research.WithTTL(ttl),
	)
	env.Generator = sequence.NewGenerator(st, aiClient, cfg.Anthropic.SonnetModel,
		sequence.WithLength(cfg.Outreach.SequenceLength),
	)

	var sgClient sendgrid.Client
	if cfg.SendGrid.Key != "" {
		var sgOpts []sendgrid.Option
		if cfg.SendGrid.BaseURL != "" {
			sgOpts = append(sgOpts, sendgrid.WithBaseURL(cfg.SendGrid.BaseURL))
		}
		sgClient = sendgrid.NewClient(cfg.SendGrid.Key, sgOpts...)
	}

	var rsClient resend.Client
	if cfg.Resend.Key != "" {
		var rsOpts []resend.Option
		if cfg.Resend.BaseURL != "" {
			rsOpts = append(rsOpts, resend.WithBaseURL(cfg.Resend.BaseURL))
		}
		rsClient = resend.NewClient(cfg.Resend.Key, rsOpts...)
	}

	env.Sender = sender.New(st, sgClient, rsClient)
	env.Ingestor = ingest.New(st)

	var inboxSource inbox.Source
	if cfg.Scheduler.InboxDir != "" {
		inboxSource = inbox.NewDirSource(cfg.Scheduler.InboxDir)
	}
	env.Inbox = inbox.NewPoller(inboxSource, st, env.Ingestor)

	if cfg.Zoom.AccountID != "" && cfg.Zoom.ClientID != "" {
		env.Zoom = zoom.NewClient(cfg.Zoom.AccountID, cfg.Zoom.ClientID, cfg.Zoom.ClientSecret)
	}

	return env, nil
}
