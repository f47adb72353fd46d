package research

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retainly/outreach-cli/internal/model"
	"github.com/retainly/outreach-cli/pkg/anthropic"
	"github.com/retainly/outreach-cli/pkg/apollo"
)

type fakeStore struct {
	prospect      *model.Prospect
	cached        *model.ResearchRecord
	upserted      *model.ResearchRecord
	firmoUpdates  int
	researchReads int
}

func (f *fakeStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	return f.prospect, nil
}

func (f *fakeStore) GetResearch(ctx context.Context, prospectID string) (*model.ResearchRecord, error) {
	f.researchReads++
	return f.cached, nil
}

func (f *fakeStore) UpsertResearch(ctx context.Context, rec model.ResearchRecord) (*model.ResearchRecord, error) {
	rec.ID = "research-1"
	rec.CreatedAt = time.Now()
	f.upserted = &rec
	return &rec, nil
}

func (f *fakeStore) UpdateProspectFirmographics(ctx context.Context, id string, employeeCount int, industry string) error {
	f.firmoUpdates++
	return nil
}

type fakeApollo struct {
	person    *apollo.Person
	org       *apollo.Organization
	matchErr  error
	enrichErr error
	calls     int
}

func (f *fakeApollo) MatchPerson(ctx context.Context, req apollo.PersonMatchRequest) (*apollo.Person, error) {
	f.calls++
	return f.person, f.matchErr
}

func (f *fakeApollo) EnrichOrganization(ctx context.Context, domain string) (*apollo.Organization, error) {
	f.calls++
	return f.org, f.enrichErr
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

func testProspect() *model.Prospect {
	return &model.Prospect{
		ID:            "prospect-1",
		Email:         "cto@acme.com",
		FirstName:     "Dana",
		LastName:      "Reyes",
		Title:         "CTO",
		CompanyName:   "Acme Corp",
		Status:        model.ProspectStatusActive,
		EmployeeCount: 250,
		Industry:      "technology",
	}
}

func TestEnrichCacheHitSkipsProviders(t *testing.T) {
	cached := &model.ResearchRecord{
		ID:         "research-1",
		ProspectID: "prospect-1",
		Summary:    "cached summary",
		ExpiresAt:  time.Now().Add(24 * time.Hour),
	}
	st := &fakeStore{prospect: testProspect(), cached: cached}
	ap := &fakeApollo{}
	ai := &fakeAI{}

	e := NewEnricher(st, ap, ai, "claude-haiku-4-5-20251001")
	rec, err := e.Enrich(context.Background(), "prospect-1", false)
	require.NoError(t, err)

	assert.Same(t, cached, rec)
	assert.Equal(t, 0, ap.calls)
	assert.Equal(t, 0, ai.calls)
	assert.Nil(t, st.upserted)
}

func TestEnrichExpiredRegenerates(t *testing.T) {
	st := &fakeStore{
		prospect: testProspect(),
		cached: &model.ResearchRecord{
			ID:        "research-old",
			ExpiresAt: time.Now().Add(-time.Hour),
		},
	}
	ai := &fakeAI{text: `{"summary":"Acme builds tools.","personalization_hook":"Saw the Series B.","growth_signals":["hiring"]}`}

	e := NewEnricher(st, nil, ai, "claude-haiku-4-5-20251001")
	rec, err := e.Enrich(context.Background(), "prospect-1", false)
	require.NoError(t, err)

	assert.Equal(t, 1, ai.calls)
	assert.True(t, rec.AIGenerated)
	assert.Equal(t, "Acme builds tools.", rec.Summary)
	assert.Equal(t, "Saw the Series B.", rec.PersonalizationHook)
	assert.Equal(t, []string{"hiring"}, rec.GrowthSignals)
	// 250 employees, technology salary 110000.
	assert.InDelta(t, 250*0.12*110000*1.0, rec.TurnoverCostLow, 0.01)
	assert.InDelta(t, 250*0.18*110000*1.5, rec.TurnoverCostHigh, 0.01)
	assert.True(t, rec.ExpiresAt.After(time.Now().Add(29*24*time.Hour)))
}

func TestEnrichForceBypassesCache(t *testing.T) {
	st := &fakeStore{
		prospect: testProspect(),
		cached: &model.ResearchRecord{
			ID:        "research-1",
			ExpiresAt: time.Now().Add(24 * time.Hour),
		},
	}
	ai := &fakeAI{text: `{"summary":"s","personalization_hook":"h","growth_signals":[]}`}

	e := NewEnricher(st, nil, ai, "claude-haiku-4-5-20251001")
	_, err := e.Enrich(context.Background(), "prospect-1", true)
	require.NoError(t, err)

	assert.Equal(t, 0, st.researchReads)
	assert.Equal(t, 1, ai.calls)
	require.NotNil(t, st.upserted)
}

func TestEnrichBackfillsFirmographics(t *testing.T) {
	prospect := testProspect()
	prospect.EmployeeCount = 0
	prospect.Industry = ""

	st := &fakeStore{prospect: prospect}
	ap := &fakeApollo{
		person: &apollo.Person{
			ID:           "p1",
			Organization: &apollo.Organization{Domain: "acme.com"},
		},
		org: &apollo.Organization{
			Domain:                "acme.com",
			Industry:              "manufacturing",
			EstimatedNumEmployees: 480,
		},
	}
	ai := &fakeAI{text: `{"summary":"s","personalization_hook":"h"}`}

	e := NewEnricher(st, ap, ai, "claude-haiku-4-5-20251001")
	rec, err := e.Enrich(context.Background(), "prospect-1", false)
	require.NoError(t, err)

	assert.Equal(t, 1, st.firmoUpdates)
	assert.Equal(t, 480, prospect.EmployeeCount)
	assert.Equal(t, "manufacturing", prospect.Industry)

	var payload struct {
		Organization *apollo.Organization `json:"organization"`
	}
	require.NoError(t, json.Unmarshal(rec.EnrichmentPayload, &payload))
	assert.Equal(t, 480, payload.Organization.EstimatedNumEmployees)
}

func TestEnrichApolloFailureDegrades(t *testing.T) {
	st := &fakeStore{prospect: testProspect()}
	ap := &fakeApollo{matchErr: eris.New("apollo down")}
	ai := &fakeAI{text: `{"summary":"s","personalization_hook":"h"}`}

	e := NewEnricher(st, ap, ai, "claude-haiku-4-5-20251001")
	rec, err := e.Enrich(context.Background(), "prospect-1", false)
	require.NoError(t, err)

	assert.Nil(t, rec.EnrichmentPayload)
	assert.Equal(t, 0, st.firmoUpdates)
	assert.True(t, rec.AIGenerated)
}

func TestEnrichAIFailureFallsBack(t *testing.T) {
	st := &fakeStore{prospect: testProspect()}
	ai := &fakeAI{err: eris.New("overloaded")}

	e := NewEnricher(st, nil, ai, "claude-haiku-4-5-20251001")
	rec, err := e.Enrich(context.Background(), "prospect-1", false)
	require.NoError(t, err)

	assert.False(t, rec.AIGenerated)
	assert.Contains(t, rec.Summary, "Acme Corp")
	assert.Contains(t, rec.PersonalizationHook, "turnover")
}

func TestEnrichMalformedAIOutputFallsBack(t *testing.T) {
	st := &fakeStore{prospect: testProspect()}
	ai := &fakeAI{text: "I could not produce JSON, sorry."}

	e := NewEnricher(st, nil, ai, "claude-haiku-4-5-20251001")
	rec, err := e.Enrich(context.Background(), "prospect-1", false)
	require.NoError(t, err)

	assert.False(t, rec.AIGenerated)
	assert.NotEmpty(t, rec.Summary)
	assert.NotEmpty(t, rec.PersonalizationHook)
}

func TestEnrichUnknownHeadcountZeroEstimate(t *testing.T) {
	prospect := testProspect()
	prospect.EmployeeCount = 0
	st := &fakeStore{prospect: prospect}
	ai := &fakeAI{err: eris.New("overloaded")}

	e := NewEnricher(st, nil, ai, "claude-haiku-4-5-20251001")
	rec, err := e.Enrich(context.Background(), "prospect-1", false)
	require.NoError(t, err)

	assert.Zero(t, rec.TurnoverCostLow)
	assert.Zero(t, rec.TurnoverCostHigh)
	assert.NotEmpty(t, rec.PersonalizationHook)
}

func TestEnrichProspectNotFound(t *testing.T) {
	st := &fakeStore{}
	e := NewEnricher(st, nil, &fakeAI{}, "claude-haiku-4-5-20251001")

	_, err := e.Enrich(context.Background(), "ghost", false)
	assert.ErrorIs(t, err, ErrProspectNotFound)
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose_wrapped", `Here you go: {"a":1} hope that helps`, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.input))
		})
	}
}
