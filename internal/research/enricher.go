// Package research enriches prospects with firmographic data and an
// AI-written personalization brief, cached with a TTL so repeat runs are
// free until the record expires.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/retainly/outreach-cli/internal/estimate"
	"github.com/retainly/outreach-cli/internal/metrics"
	"github.com/retainly/outreach-cli/internal/model"
	"github.com/retainly/outreach-cli/pkg/anthropic"
	"github.com/retainly/outreach-cli/pkg/apollo"
)

// ErrProspectNotFound is returned when the prospect id does not exist.
var ErrProspectNotFound = eris.New("research: prospect not found")

// EnrichmentError wraps a provider failure with the provider name so callers
// can distinguish degraded enrichment from hard failures.
type EnrichmentError struct {
	Provider string
	Err      error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment via %s failed: %v", e.Provider, e.Err)
}

func (e *EnrichmentError) Unwrap() error {
	return e.Err
}

// Store is the subset of the data layer the enricher needs.
type Store interface {
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	GetResearch(ctx context.Context, prospectID string) (*model.ResearchRecord, error)
	UpsertResearch(ctx context.Context, rec model.ResearchRecord) (*model.ResearchRecord, error)
	UpdateProspectFirmographics(ctx context.Context, id string, employeeCount int, industry string) error
}

const researchSystemPrompt = `You are a sales researcher for an employee-retention analytics product. Given facts about a prospect's company, write a research brief. Respond with a valid JSON object:
{"summary": "<2-3 sentence company summary>", "personalization_hook": "<one specific, non-generic opening line referencing the company>", "growth_signals": ["<signal>", ...]}
Only state facts supported by the input. growth_signals may be empty.`

const researchUserPrompt = `Company: %s
Contact: %s %s, %s
Industry: %s
Employee count: %d
Estimated annual turnover cost: $%.0f - $%.0f
Enrichment data:
%s`

// Enricher produces and caches research records for prospects.
type Enricher struct {
	store  Store
	apollo apollo.Client // nil disables firmographic enrichment
	ai     anthropic.Client
	model  string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithTTL overrides the research freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(e *Enricher) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Enricher) {
		e.now = now
	}
}

// NewEnricher wires an enricher. apolloClient may be nil, in which case
// enrichment runs on the prospect's stored fields alone.
func NewEnricher(st Store, apolloClient apollo.Client, ai anthropic.Client, aiModel string, opts ...Option) *Enricher {
	e := &Enricher{
		store:  st,
		apollo: apolloClient,
		ai:     ai,
		model:  aiModel,
		ttl:    model.DefaultResearchTTL,
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enrich returns the research record for the prospect, generating it when
// absent or expired. With force set, the cache is bypassed. A fresh cached
// record is returned byte for byte without touching any provider.
func (e *Enricher) Enrich(ctx context.Context, prospectID string, force bool) (*model.ResearchRecord, error) {
	prospect, err := e.store.GetProspect(ctx, prospectID)
	if err != nil {
		return nil, eris.Wrap(err, "research: get prospect")
	}
	if prospect == nil {
		return nil, ErrProspectNotFound
	}

	if !force {
		cached, err := e.store.GetResearch(ctx, prospectID)
		if err != nil {
			return nil, eris.Wrap(err, "research: get cached")
		}
		if cached.Fresh(e.now()) {
			zap.L().Debug("research: cache hit",
				zap.String("prospect_id", prospectID),
				zap.Time("expires_at", cached.ExpiresAt),
			)
			metrics.RecordEnrichment("cached")
			return cached, nil
		}
	}

	payload := e.enrichFirmographics(ctx, prospect)

	var est estimate.TurnoverEstimate
	if computed, err := estimate.Turnover(prospect.EmployeeCount, prospect.Industry); err != nil {
		// Unknown headcount yields a zero estimate; the brief still renders.
		zap.L().Warn("research: turnover estimate unavailable",
			zap.String("prospect_id", prospectID),
			zap.Error(err),
		)
	} else {
		est = *computed
	}

	rec := model.ResearchRecord{
		ProspectID:        prospectID,
		TurnoverCostLow:   est.Low,
		TurnoverCostHigh:  est.High,
		EnrichmentPayload: payload,
		ExpiresAt:         e.now().Add(e.ttl),
	}

	brief, aiGenerated := e.writeBrief(ctx, prospect, est, payload)
	rec.Summary = brief.Summary
	rec.PersonalizationHook = brief.PersonalizationHook
	rec.GrowthSignals = brief.GrowthSignals
	rec.AIGenerated = aiGenerated

	saved, err := e.store.UpsertResearch(ctx, rec)
	if err != nil {
		return nil, eris.Wrap(err, "research: upsert")
	}
	if aiGenerated {
		metrics.RecordEnrichment("generated")
	} else {
		metrics.RecordEnrichment("fallback")
	}
	return saved, nil
}

// enrichFirmographics calls Apollo best effort, back-fills missing prospect
// fields, and returns the raw enrichment payload for storage. Provider
// failures degrade to the stored fields, never fail the run.
func (e *Enricher) enrichFirmographics(ctx context.Context, prospect *model.Prospect) []byte {
	if e.apollo == nil {
		return nil
	}

	log := zap.L().With(zap.String("prospect_id", prospect.ID))

	person, err := e.apollo.MatchPerson(ctx, apollo.PersonMatchRequest{
		Email:            prospect.Email,
		FirstName:        prospect.FirstName,
		LastName:         prospect.LastName,
		OrganizationName: prospect.CompanyName,
	})
	if err != nil {
		enrichErr := &EnrichmentError{Provider: "apollo", Err: err}
		log.Warn("research: person match failed", zap.Error(enrichErr))
		return nil
	}
	if person == nil {
		log.Debug("research: no person match")
		return nil
	}

	org := person.Organization
	if org != nil && org.Domain != "" {
		enriched, err := e.apollo.EnrichOrganization(ctx, org.Domain)
		if err != nil {
			enrichErr := &EnrichmentError{Provider: "apollo", Err: err}
			log.Warn("research: organization enrich failed", zap.Error(enrichErr))
		} else if enriched != nil {
			org = enriched
		}
	}

	if org != nil {
		employeeCount := prospect.EmployeeCount
		industry := prospect.Industry
		if employeeCount == 0 && org.EstimatedNumEmployees > 0 {
			employeeCount = org.EstimatedNumEmployees
		}
		if industry == "" && org.Industry != "" {
			industry = org.Industry
		}
		if employeeCount != prospect.EmployeeCount || industry != prospect.Industry {
			if err := e.store.UpdateProspectFirmographics(ctx, prospect.ID, employeeCount, industry); err != nil {
				log.Warn("research: firmographics update failed", zap.Error(err))
			} else {
				prospect.EmployeeCount = employeeCount
				prospect.Industry = industry
			}
		}
	}

	payload, err := json.Marshal(struct {
		Person       *apollo.Person       `json:"person"`
		Organization *apollo.Organization `json:"organization,omitempty"`
	}{Person: person, Organization: org})
	if err != nil {
		log.Warn("research: marshal enrichment payload", zap.Error(err))
		return nil
	}
	return payload
}

type briefOutput struct {
	Summary             string   `json:"summary"`
	PersonalizationHook string   `json:"personalization_hook"`
	GrowthSignals       []string `json:"growth_signals"`
}

// writeBrief asks Claude for the research brief. On any failure it falls
// back to a deterministic template so a record is always produced; the
// second return reports whether the brief came from the model.
func (e *Enricher) writeBrief(ctx context.Context, prospect *model.Prospect, est estimate.TurnoverEstimate, payload []byte) (briefOutput, bool) {
	log := zap.L().With(zap.String("prospect_id", prospect.ID))

	enrichment := "(none)"
	if len(payload) > 0 {
		enrichment = string(payload)
	}

	prompt := fmt.Sprintf(researchUserPrompt,
		prospect.CompanyName,
		prospect.FirstName, prospect.LastName, prospect.Title,
		orUnknown(prospect.Industry),
		prospect.EmployeeCount,
		est.Low, est.High,
		enrichment,
	)

	resp, err := e.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: 1024,
		System:    []anthropic.SystemBlock{{Text: researchSystemPrompt}},
		Messages: []anthropic.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		log.Warn("research: brief generation failed, using fallback", zap.Error(err))
		return fallbackBrief(prospect, est), false
	}

	resp.Usage.LogCost(resp.Model, "research brief")

	var brief briefOutput
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &brief); err != nil {
		log.Warn("research: brief parse failed, using fallback", zap.Error(err))
		return fallbackBrief(prospect, est), false
	}
	if brief.Summary == "" || brief.PersonalizationHook == "" {
		log.Warn("research: brief missing required fields, using fallback")
		return fallbackBrief(prospect, est), false
	}
	return brief, true
}

// fallbackBrief builds a usable brief from stored fields alone.
func fallbackBrief(prospect *model.Prospect, est estimate.TurnoverEstimate) briefOutput {
	industry := prospect.Industry
	if industry == "" {
		industry = "their industry"
	}
	summary := fmt.Sprintf("%s is a company in %s", prospect.CompanyName, industry)
	if prospect.EmployeeCount > 0 {
		summary = fmt.Sprintf("%s with roughly %d employees", summary, prospect.EmployeeCount)
	}
	summary += "."

	hook := fmt.Sprintf(
		"Companies the size of %s typically lose $%s to $%s a year to employee turnover.",
		prospect.CompanyName, formatDollars(est.Low), formatDollars(est.High),
	)

	return briefOutput{Summary: summary, PersonalizationHook: hook}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// formatDollars renders a dollar amount with thousands separators.
func formatDollars(v float64) string {
	s := fmt.Sprintf("%.0f", v)
	var sb strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// cleanJSON extracts a JSON object from text that may carry markdown code
// fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
