package sequence

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retainly/outreach-cli/internal/model"
	"github.com/retainly/outreach-cli/pkg/anthropic"
)

type fakeStore struct {
	link     *model.CampaignProspect
	campaign *model.Campaign
	prospect *model.Prospect
	research *model.ResearchRecord
	existing []model.OutreachEmail

	deletedDrafts int
	inserted      []model.OutreachEmail
}

func (f *fakeStore) GetLink(ctx context.Context, id string) (*model.CampaignProspect, error) {
	return f.link, nil
}

func (f *fakeStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	return f.campaign, nil
}

func (f *fakeStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	return f.prospect, nil
}

func (f *fakeStore) GetResearch(ctx context.Context, prospectID string) (*model.ResearchRecord, error) {
	return f.research, nil
}

func (f *fakeStore) ListEmailsByLink(ctx context.Context, linkID string) ([]model.OutreachEmail, error) {
	return f.existing, nil
}

func (f *fakeStore) DeleteDrafts(ctx context.Context, linkID string) (int, error) {
	f.deletedDrafts++
	var kept []model.OutreachEmail
	n := 0
	for _, em := range f.existing {
		if em.Status == model.EmailStatusDraft {
			n++
			continue
		}
		kept = append(kept, em)
	}
	f.existing = kept
	return n, nil
}

func (f *fakeStore) InsertEmails(ctx context.Context, emails []model.OutreachEmail) error {
	f.inserted = emails
	return nil
}

type fakeAI struct {
	text  string
	err   error
	calls int
}

func (f *fakeAI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Model:   req.Model,
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.text}},
	}, nil
}

func seededStore() *fakeStore {
	return &fakeStore{
		link: &model.CampaignProspect{
			ID:         "link-1",
			CampaignID: "campaign-1",
			ProspectID: "prospect-1",
			Status:     model.LinkStatusActive,
		},
		campaign: &model.Campaign{
			ID:       "campaign-1",
			Name:     "Q1 outbound",
			FromName: "Jess Trent",
		},
		prospect: &model.Prospect{
			ID:            "prospect-1",
			FirstName:     "Dana",
			LastName:      "Reyes",
			Title:         "CTO",
			CompanyName:   "Acme Corp",
			Industry:      "technology",
			EmployeeCount: 250,
		},
		research: &model.ResearchRecord{
			Summary:             "Acme builds tools.",
			PersonalizationHook: "Saw the Series B.",
			TurnoverCostLow:     1950000,
			TurnoverCostHigh:    4387500,
		},
	}
}

const goodAIOutput = `[
	{"position": 1, "subject": "Turnover at Acme", "body": "Hi Dana, first email. Jess"},
	{"position": 2, "subject": "Re: Turnover at Acme", "body": "Hi Dana, second email. Jess"},
	{"position": 3, "subject": "Closing the loop", "body": "Hi Dana, third email. Jess"}
]`

func TestGenerateFromAI(t *testing.T) {
	st := seededStore()
	ai := &fakeAI{text: goodAIOutput}

	gen := NewGenerator(st, ai, "claude-sonnet-4-5-20250929")
	drafts, err := gen.Generate(context.Background(), "link-1")
	require.NoError(t, err)

	require.Len(t, drafts, 3)
	for i, d := range drafts {
		assert.Equal(t, i+1, d.Position)
		assert.Equal(t, model.EmailStatusDraft, d.Status)
		assert.True(t, d.AIGenerated)
		assert.Equal(t, "link-1", d.CampaignProspectID)
	}
	assert.Equal(t, "Turnover at Acme", drafts[0].Subject)
	assert.Equal(t, drafts, st.inserted)
}

func TestGenerateMalformedAIFallsBackToTemplates(t *testing.T) {
	st := seededStore()
	ai := &fakeAI{text: "no json here"}

	gen := NewGenerator(st, ai, "claude-sonnet-4-5-20250929")
	drafts, err := gen.Generate(context.Background(), "link-1")
	require.NoError(t, err)

	require.Len(t, drafts, 3)
	for _, d := range drafts {
		assert.False(t, d.AIGenerated)
		assert.NotContains(t, d.Body, "{{")
	}
	assert.Contains(t, drafts[0].Body, "Saw the Series B.")
	assert.Contains(t, drafts[0].Body, "$1,950,000")
	assert.Contains(t, drafts[0].Body, "$4,387,500")
	assert.Contains(t, drafts[0].Subject, "Acme Corp")
}

func TestGenerateWrongPositionsFallsBack(t *testing.T) {
	st := seededStore()
	ai := &fakeAI{text: `[{"position": 1, "subject": "a", "body": "b"}, {"position": 1, "subject": "c", "body": "d"}, {"position": 3, "subject": "e", "body": "f"}]`}

	gen := NewGenerator(st, ai, "claude-sonnet-4-5-20250929")
	drafts, err := gen.Generate(context.Background(), "link-1")
	require.NoError(t, err)

	require.Len(t, drafts, 3)
	assert.False(t, drafts[0].AIGenerated)
}

func TestGenerateReplacesDraftsKeepsSent(t *testing.T) {
	st := seededStore()
	st.existing = []model.OutreachEmail{
		{ID: "e1", Position: 1, Status: model.EmailStatusSent},
		{ID: "e2", Position: 2, Status: model.EmailStatusDraft},
		{ID: "e3", Position: 3, Status: model.EmailStatusDraft},
	}
	ai := &fakeAI{text: goodAIOutput}

	gen := NewGenerator(st, ai, "claude-sonnet-4-5-20250929")
	drafts, err := gen.Generate(context.Background(), "link-1")
	require.NoError(t, err)

	assert.Equal(t, 1, st.deletedDrafts)
	require.Len(t, drafts, 2)
	assert.Equal(t, 2, drafts[0].Position)
	assert.Equal(t, 3, drafts[1].Position)
}

func TestGenerateAllPositionsOccupied(t *testing.T) {
	st := seededStore()
	st.existing = []model.OutreachEmail{
		{ID: "e1", Position: 1, Status: model.EmailStatusSent},
		{ID: "e2", Position: 2, Status: model.EmailStatusApproved},
		{ID: "e3", Position: 3, Status: model.EmailStatusScheduled},
	}
	ai := &fakeAI{text: goodAIOutput}

	gen := NewGenerator(st, ai, "claude-sonnet-4-5-20250929")
	drafts, err := gen.Generate(context.Background(), "link-1")
	require.NoError(t, err)

	assert.Nil(t, drafts)
	assert.Nil(t, st.inserted)
}

func TestGenerateNoAIClient(t *testing.T) {
	st := seededStore()

	gen := NewGenerator(st, nil, "")
	drafts, err := gen.Generate(context.Background(), "link-1")
	require.NoError(t, err)

	require.Len(t, drafts, 3)
	assert.False(t, drafts[0].AIGenerated)
}

func TestGenerateWithLength(t *testing.T) {
	st := seededStore()

	gen := NewGenerator(st, nil, "", WithLength(2))
	drafts, err := gen.Generate(context.Background(), "link-1")
	require.NoError(t, err)

	require.Len(t, drafts, 2)
	assert.Equal(t, 1, drafts[0].Position)
	assert.Equal(t, 2, drafts[1].Position)
}

func TestGenerateNoResearch(t *testing.T) {
	st := seededStore()
	st.research = nil

	gen := NewGenerator(st, nil, "")
	drafts, err := gen.Generate(context.Background(), "link-1")
	require.NoError(t, err)

	require.Len(t, drafts, 3)
	assert.Contains(t, drafts[0].Body, "Acme Corp")
	assert.NotContains(t, drafts[0].Body, "{{")
}

func TestGenerateLinkNotFound(t *testing.T) {
	st := &fakeStore{}

	gen := NewGenerator(st, nil, "")
	_, err := gen.Generate(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestGenerateAIErrorFallsBack(t *testing.T) {
	st := seededStore()
	ai := &fakeAI{err: eris.New("overloaded")}

	gen := NewGenerator(st, ai, "claude-sonnet-4-5-20250929")
	drafts, err := gen.Generate(context.Background(), "link-1")
	require.NoError(t, err)

	require.Len(t, drafts, 3)
	assert.False(t, drafts[0].AIGenerated)
}

func TestFormatDollars(t *testing.T) {
	assert.Equal(t, "$1,950,000", FormatDollars(1950000))
	assert.Equal(t, "$950", FormatDollars(950))
	assert.Equal(t, "$0", FormatDollars(0))
	assert.Equal(t, "-$12,500", FormatDollars(-12500))
}

func TestRenderResolvesAllTokens(t *testing.T) {
	vars := TemplateVars{
		FirstName:           "Dana",
		CompanyName:         "Acme Corp",
		PersonalizationHook: "Saw the Series B.",
		TurnoverLow:         "$1,950,000",
		TurnoverHigh:        "$4,387,500",
		SenderName:          "Jess",
	}
	for _, tpl := range DefaultTemplates() {
		subject, body := Render(tpl, vars)
		assert.NotContains(t, subject, "{{")
		assert.NotContains(t, body, "{{")
	}
}
