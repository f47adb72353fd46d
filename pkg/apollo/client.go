// Package apollo provides a client for the Apollo.io enrichment API.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/retainly/outreach-cli/internal/resilience"
)

const defaultBaseURL = "https://api.apollo.io/api/v1"

// Client defines the Apollo operations used by the research enricher.
type Client interface {
	MatchPerson(ctx context.Context, req PersonMatchRequest) (*Person, error)
	EnrichOrganization(ctx context.Context, domain string) (*Organization, error)
}

// PersonMatchRequest identifies a person to look up.
type PersonMatchRequest struct {
	Email            string `json:"email,omitempty"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
}

// Person is the matched-person payload.
type Person struct {
	ID           string        `json:"id"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	Title        string        `json:"title"`
	LinkedInURL  string        `json:"linkedin_url"`
	City         string        `json:"city"`
	State        string        `json:"state"`
	Organization *Organization `json:"organization,omitempty"`
}

// Organization is the enriched-company payload.
type Organization struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Domain            string   `json:"primary_domain"`
	Industry          string   `json:"industry"`
	EstimatedNumEmployees int  `json:"estimated_num_employees"`
	FoundedYear       int      `json:"founded_year"`
	Keywords          []string `json:"keywords"`
	ShortDescription  string   `json:"short_description"`
	LatestFundingStage string  `json:"latest_funding_stage"`
}

type personMatchResponse struct {
	Person *Person `json:"person"`
}

type orgEnrichResponse struct {
	Organization *Organization `json:"organization"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default request rate limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetryConfig overrides the default retry behavior.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates an Apollo API client. Apollo's standard plan allows
// roughly 2 requests per second, so the default limiter stays under that.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(1.5), 2),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) MatchPerson(ctx context.Context, req PersonMatchRequest) (*Person, error) {
	var out personMatchResponse
	if err := c.post(ctx, "/people/match", req, &out); err != nil {
		return nil, eris.Wrap(err, "apollo: match person")
	}
	if out.Person == nil {
		return nil, nil
	}
	return out.Person, nil
}

func (c *httpClient) EnrichOrganization(ctx context.Context, domain string) (*Organization, error) {
	var out orgEnrichResponse
	body := map[string]string{"domain": domain}
	if err := c.post(ctx, "/organizations/enrich", body, &out); err != nil {
		return nil, eris.Wrap(err, "apollo: enrich organization")
	}
	if out.Organization == nil {
		return nil, nil
	}
	return out.Organization, nil
}

func (c *httpClient) post(ctx context.Context, path string, reqBody, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit wait")
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Api-Key", c.apiKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return eris.Wrap(err, "send request")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return eris.Wrap(err, "read response")
		}

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}

		return eris.Wrap(json.Unmarshal(respBody, out), "unmarshal response")
	})
}
