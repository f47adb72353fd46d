package sequence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/retainly/outreach-cli/internal/model"
	"github.com/retainly/outreach-cli/pkg/anthropic"
)

// ErrLinkNotFound is returned when the campaign link does not exist.
var ErrLinkNotFound = eris.New("sequence: campaign link not found")

// Store is the subset of the data layer the generator needs.
type Store interface {
	GetLink(ctx context.Context, id string) (*model.CampaignProspect, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	GetResearch(ctx context.Context, prospectID string) (*model.ResearchRecord, error)
	ListEmailsByLink(ctx context.Context, linkID string) ([]model.OutreachEmail, error)
	DeleteDrafts(ctx context.Context, linkID string) (int, error)
	InsertEmails(ctx context.Context, emails []model.OutreachEmail) error
}

const generateSystemPrompt = `You write cold outreach email sequences for an employee-retention analytics product. You will be given prospect facts, research, and a dollar range for the company's estimated annual cost of employee turnover.

Rules:
- Write exactly the requested number of emails, positions 1 through N. Each later email assumes the earlier ones got no reply.
- The first and last emails anchor on the company's own turnover cost range. The second email instead uses a single smaller comparison figure derived from that range, such as the cost of losing one senior employee, so the sequence does not repeat itself.
- Compare those costs against the effort of a short call. Never invent facts, names, metrics, or news not present in the input.
- Keep each body under 120 words, plain text, no placeholders, signed with the sender name.

Respond with a valid JSON array only:
[{"position": 1, "subject": "<subject>", "body": "<body>"}, ...]`

const generateUserPrompt = `Number of emails: %d
Sender: %s
Prospect: %s %s, %s at %s
Industry: %s
Employee count: %d
Estimated annual turnover cost: %s to %s
Research summary: %s
Personalization hook: %s
Growth signals: %s`

// Generator produces the draft sequence for one campaign link.
type Generator struct {
	store     Store
	ai        anthropic.Client // nil forces template fallback
	model     string
	templates []Template
}

// Option configures a Generator.
type Option func(*Generator)

// WithLength caps the sequence at the first n templates.
func WithLength(n int) Option {
	return func(g *Generator) {
		if n > 0 && n < len(g.templates) {
			g.templates = g.templates[:n]
		}
	}
}

// NewGenerator wires a sequence generator. ai may be nil, in which case
// every sequence is rendered from the built-in templates.
func NewGenerator(st Store, ai anthropic.Client, aiModel string, opts ...Option) *Generator {
	g := &Generator{
		store:     st,
		ai:        ai,
		model:     aiModel,
		templates: DefaultTemplates(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

type draftOutput struct {
	Position int    `json:"position"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// Generate replaces the link's draft emails with a freshly generated
// sequence. Messages already approved, scheduled, or sent keep their rows;
// only the positions still free get new drafts. Returns the inserted drafts.
func (g *Generator) Generate(ctx context.Context, linkID string) ([]model.OutreachEmail, error) {
	link, err := g.store.GetLink(ctx, linkID)
	if err != nil {
		return nil, eris.Wrap(err, "sequence: get link")
	}
	if link == nil {
		return nil, ErrLinkNotFound
	}

	campaign, err := g.store.GetCampaign(ctx, link.CampaignID)
	if err != nil {
		return nil, eris.Wrap(err, "sequence: get campaign")
	}
	if campaign == nil {
		return nil, eris.New("sequence: campaign not found")
	}

	prospect, err := g.store.GetProspect(ctx, link.ProspectID)
	if err != nil {
		return nil, eris.Wrap(err, "sequence: get prospect")
	}
	if prospect == nil {
		return nil, eris.New("sequence: prospect not found")
	}

	research, err := g.store.GetResearch(ctx, link.ProspectID)
	if err != nil {
		return nil, eris.Wrap(err, "sequence: get research")
	}

	// Regeneration only replaces drafts. Clearing them first keeps the
	// per-position uniqueness constraint satisfied on re-insert.
	deleted, err := g.store.DeleteDrafts(ctx, linkID)
	if err != nil {
		return nil, eris.Wrap(err, "sequence: clear drafts")
	}
	if deleted > 0 {
		zap.L().Debug("sequence: cleared stale drafts",
			zap.String("link_id", linkID),
			zap.Int("deleted", deleted),
		)
	}

	existing, err := g.store.ListEmailsByLink(ctx, linkID)
	if err != nil {
		return nil, eris.Wrap(err, "sequence: list emails")
	}
	occupied := make(map[int]bool, len(existing))
	for _, em := range existing {
		occupied[em.Position] = true
	}

	drafts, aiGenerated := g.draftAll(ctx, campaign, prospect, research)

	var toInsert []model.OutreachEmail
	for _, d := range drafts {
		if occupied[d.Position] {
			continue
		}
		toInsert = append(toInsert, model.OutreachEmail{
			CampaignProspectID: linkID,
			Position:           d.Position,
			Subject:            d.Subject,
			Body:               d.Body,
			Status:             model.EmailStatusDraft,
			AIGenerated:        aiGenerated,
		})
	}
	if len(toInsert) == 0 {
		return nil, nil
	}

	if err := g.store.InsertEmails(ctx, toInsert); err != nil {
		return nil, eris.Wrap(err, "sequence: insert drafts")
	}

	zap.L().Info("sequence: generated drafts",
		zap.String("link_id", linkID),
		zap.Int("count", len(toInsert)),
		zap.Bool("ai_generated", aiGenerated),
	)
	return toInsert, nil
}

// draftAll produces one draft per template position, via a single model call
// when possible and the deterministic templates otherwise.
func (g *Generator) draftAll(ctx context.Context, campaign *model.Campaign, prospect *model.Prospect, research *model.ResearchRecord) ([]draftOutput, bool) {
	if g.ai != nil {
		if drafts, ok := g.draftWithAI(ctx, campaign, prospect, research); ok {
			return drafts, true
		}
	}
	return g.draftFromTemplates(campaign, prospect, research), false
}

func (g *Generator) draftWithAI(ctx context.Context, campaign *model.Campaign, prospect *model.Prospect, research *model.ResearchRecord) ([]draftOutput, bool) {
	log := zap.L().With(zap.String("prospect_id", prospect.ID))

	var summary, hook string
	var signals []string
	var low, high float64
	if research != nil {
		summary = research.Summary
		hook = research.PersonalizationHook
		signals = research.GrowthSignals
		low = research.TurnoverCostLow
		high = research.TurnoverCostHigh
	}

	prompt := fmt.Sprintf(generateUserPrompt,
		len(g.templates),
		campaign.FromName,
		prospect.FirstName, prospect.LastName, prospect.Title, prospect.CompanyName,
		orDash(prospect.Industry),
		prospect.EmployeeCount,
		FormatDollars(low), FormatDollars(high),
		orDash(summary),
		orDash(hook),
		orDash(strings.Join(signals, "; ")),
	)

	resp, err := g.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: 2048,
		System:    []anthropic.SystemBlock{{Text: generateSystemPrompt}},
		Messages: []anthropic.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		log.Warn("sequence: generation failed, using templates", zap.Error(err))
		return nil, false
	}

	resp.Usage.LogCost(resp.Model, "sequence generation")

	var drafts []draftOutput
	if err := json.Unmarshal([]byte(cleanJSONArray(resp.Text())), &drafts); err != nil {
		log.Warn("sequence: parse failed, using templates", zap.Error(err))
		return nil, false
	}

	if !validDrafts(drafts, len(g.templates)) {
		log.Warn("sequence: invalid draft set, using templates", zap.Int("got", len(drafts)))
		return nil, false
	}

	sort.Slice(drafts, func(i, j int) bool { return drafts[i].Position < drafts[j].Position })
	return drafts, true
}

// validDrafts checks for exactly n drafts covering positions 1..n with
// non-empty subject and body.
func validDrafts(drafts []draftOutput, n int) bool {
	if len(drafts) != n {
		return false
	}
	seen := make(map[int]bool, n)
	for _, d := range drafts {
		if d.Position < 1 || d.Position > n || seen[d.Position] {
			return false
		}
		if strings.TrimSpace(d.Subject) == "" || strings.TrimSpace(d.Body) == "" {
			return false
		}
		seen[d.Position] = true
	}
	return true
}

func (g *Generator) draftFromTemplates(campaign *model.Campaign, prospect *model.Prospect, research *model.ResearchRecord) []draftOutput {
	vars := TemplateVars{
		FirstName:   prospect.FirstName,
		CompanyName: prospect.CompanyName,
		SenderName:  campaign.FromName,
	}
	if research != nil {
		vars.PersonalizationHook = research.PersonalizationHook
		vars.TurnoverLow = FormatDollars(research.TurnoverCostLow)
		vars.TurnoverHigh = FormatDollars(research.TurnoverCostHigh)
	} else {
		vars.PersonalizationHook = fmt.Sprintf("I came across %s and wanted to reach out.", prospect.CompanyName)
		vars.TurnoverLow = "$0"
		vars.TurnoverHigh = "$0"
	}

	drafts := make([]draftOutput, 0, len(g.templates))
	for _, tpl := range g.templates {
		subject, body := Render(tpl, vars)
		drafts = append(drafts, draftOutput{
			Position: tpl.Position,
			Subject:  subject,
			Body:     body,
		})
	}
	return drafts
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

// cleanJSONArray extracts a JSON array from text that may carry markdown
// code fences or other wrapping.
func cleanJSONArray(text string) string {
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

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
