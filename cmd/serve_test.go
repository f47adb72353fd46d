//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retainly/outreach-cli/internal/config"
	"github.com/retainly/outreach-cli/internal/inbox"
	"github.com/retainly/outreach-cli/internal/ingest"
	"github.com/retainly/outreach-cli/internal/model"
	"github.com/retainly/outreach-cli/internal/research"
	"github.com/retainly/outreach-cli/internal/sender"
	"github.com/retainly/outreach-cli/internal/sequence"
	"github.com/retainly/outreach-cli/internal/store"
)

// pingStore overrides Ping and the id lookups, which all miss; everything
// else panics if reached.
type pingStore struct {
	store.Store
	pingErr error
}

func (s *pingStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *pingStore) GetEmail(ctx context.Context, id string) (*model.OutreachEmail, error) {
	return nil, nil
}

func (s *pingStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	return nil, nil
}

func (s *pingStore) GetLink(ctx context.Context, id string) (*model.CampaignProspect, error) {
	return nil, nil
}

func newTestEnv(pingErr error) *appEnv {
	st := &pingStore{pingErr: pingErr}
	ing := ingest.New(st)
	return &appEnv{
		Store:     st,
		Enricher:  research.NewEnricher(st, nil, nil, "test-model"),
		Generator: sequence.NewGenerator(st, nil, "test-model"),
		Sender:    sender.New(st, nil, nil),
		Ingestor:  ing,
		Inbox:     inbox.NewPoller(nil, st, ing),
	}
}

func TestServe_Health_OK(t *testing.T) {
	cfg = &config.Config{}
	router := newRouter(newTestEnv(nil))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServe_Health_Degraded(t *testing.T) {
	cfg = &config.Config{}
	router := newRouter(newTestEnv(eris.New("connection refused")))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "degraded")
}

func TestServe_SendGridWebhook_InvalidPayload(t *testing.T) {
	cfg = &config.Config{}
	router := newRouter(newTestEnv(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sendgrid", bytes.NewReader([]byte("not json")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid event payload")
}

func TestServe_SendGridWebhook_UnknownEventsIgnored(t *testing.T) {
	cfg = &config.Config{}
	router := newRouter(newTestEnv(nil))

	payload := `[{"email":"a@b.com","event":"processed"},{"email":"a@b.com","event":"deferred"}]`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sendgrid", bytes.NewReader([]byte(payload)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 0, body["processed"])
	assert.Equal(t, 2, body["ignored"])
}

func TestServe_ResendWebhook_InvalidPayload(t *testing.T) {
	cfg = &config.Config{}
	router := newRouter(newTestEnv(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/resend", bytes.NewReader([]byte(`{"data":{}}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServe_Admin_NoKeyConfigured(t *testing.T) {
	cfg = &config.Config{}
	router := newRouter(newTestEnv(nil))

	req := httptest.NewRequest(http.MethodPost, "/admin/campaigns/c-1/pause", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "admin API disabled")
}

func TestServe_Admin_WrongKey(t *testing.T) {
	cfg = &config.Config{Server: config.ServerConfig{AdminKey: "secret"}}
	router := newRouter(newTestEnv(nil))

	req := httptest.NewRequest(http.MethodPost, "/admin/campaigns/c-1/pause", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestServe_Admin_ValidKeyReachesHandler(t *testing.T) {
	cfg = &config.Config{Server: config.ServerConfig{AdminKey: "secret"}}
	router := newRouter(newTestEnv(nil))

	// Zoom is unconfigured in the test env, so the handler reports 501
	// rather than an auth failure.
	body, _ := json.Marshal(map[string]any{
		"topic":      "Intro call",
		"start_time": "2026-09-02T15:00:00Z",
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/meetings", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotImplemented, rr.Code)
	assert.Contains(t, rr.Body.String(), "zoom is not configured")
}

func TestServe_Admin_InboundRequiresFrom(t *testing.T) {
	cfg = &config.Config{Server: config.ServerConfig{AdminKey: "secret"}}
	router := newRouter(newTestEnv(nil))

	req := httptest.NewRequest(http.MethodPost, "/admin/inbound", bytes.NewReader([]byte(`{"subject":"Re: hi"}`)))
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "from is required")
}

func TestServe_Admin_UnknownIDsReturn404(t *testing.T) {
	cfg = &config.Config{Server: config.ServerConfig{AdminKey: "secret"}}
	router := newRouter(newTestEnv(nil))

	tests := []struct {
		name string
		path string
		body string
	}{
		{"approve", "/admin/emails/ghost/approve", ""},
		{"schedule", "/admin/emails/ghost/schedule", `{"at":"2026-09-02T15:00:00Z"}`},
		{"research", "/admin/prospects/ghost/research", ""},
		{"generate", "/admin/links/ghost/generate", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewReader([]byte(tt.body)))
			req.Header.Set("Authorization", "Bearer secret")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusNotFound, rr.Code)
			assert.Contains(t, rr.Body.String(), "not found")
		})
	}
}

func TestServe_Admin_ScheduleRequiresTimestamp(t *testing.T) {
	cfg = &config.Config{Server: config.ServerConfig{AdminKey: "secret"}}
	router := newRouter(newTestEnv(nil))

	req := httptest.NewRequest(http.MethodPost, "/admin/emails/e-1/schedule", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "at (RFC3339) is required")
}
