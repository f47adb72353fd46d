// Package zoom provides a Server-to-Server OAuth client for the Zoom
// Meetings API, used to book discovery calls for replied prospects.
package zoom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/retainly/outreach-cli/internal/resilience"
)

const (
	defaultBaseURL = "https://api.zoom.us/v2"
	defaultAuthURL = "https://zoom.us/oauth/token"

	// MeetingTypeScheduled is Zoom's type code for a scheduled meeting.
	MeetingTypeScheduled = 2
)

// Client defines the Zoom operations used by the outreach pipeline.
type Client interface {
	CreateMeeting(ctx context.Context, req MeetingRequest) (*Meeting, error)
	UpdateMeeting(ctx context.Context, meetingID int64, req MeetingRequest) error
	DeleteMeeting(ctx context.Context, meetingID int64) error
}

// MeetingRequest describes a meeting to create or update.
type MeetingRequest struct {
	Topic     string    `json:"topic"`
	Type      int       `json:"type"`
	StartTime time.Time `json:"start_time"`
	Duration  int       `json:"duration"` // minutes
	Timezone  string    `json:"timezone,omitempty"`
	Agenda    string    `json:"agenda,omitempty"`
}

// Meeting is the subset of Zoom's meeting object we use.
type Meeting struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	StartTime time.Time `json:"start_time"`
	Duration  int       `json:"duration"`
	JoinURL   string    `json:"join_url"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithAuthURL overrides the OAuth token endpoint.
func WithAuthURL(u string) Option {
	return func(c *httpClient) {
		c.authURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryConfig overrides the retry behavior for API calls.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	accountID    string
	clientID     string
	clientSecret string
	baseURL      string
	authURL      string
	http         *http.Client
	retry        resilience.RetryConfig

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a Zoom client using Server-to-Server OAuth
// (account_credentials grant).
func NewClient(accountID, clientID, clientSecret string, opts ...Option) Client {
	c := &httpClient{
		accountID:    accountID,
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultBaseURL,
		authURL:      defaultAuthURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// token returns a valid access token, refreshing when the cached one is
// within a minute of expiry.
func (c *httpClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "account_credentials")
	form.Set("account_id", c.accountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "zoom: create token request")
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "zoom: token request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "zoom: read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("zoom: token status %d: %s", resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", eris.Wrap(err, "zoom: unmarshal token")
	}
	if tok.AccessToken == "" {
		return "", eris.New("zoom: empty access token")
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// do executes an authenticated API call with retry on transient failures.
func (c *httpClient) do(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return nil, eris.Wrap(err, "zoom: marshal request")
		}
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		tok, err := c.token(ctx)
		if err != nil {
			return nil, err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, eris.Wrap(err, "zoom: create request")
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "zoom: request"), 0)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "zoom: read response")
		}

		if resp.StatusCode >= 400 {
			apiErr := eris.Errorf("zoom: status %d: %s", resp.StatusCode, string(body))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				te := resilience.NewTransientError(apiErr, resp.StatusCode)
				if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
					te.RetryAfter = time.Duration(secs) * time.Second
				}
				return nil, te
			}
			return nil, apiErr
		}
		return body, nil
	})
}

func (c *httpClient) CreateMeeting(ctx context.Context, req MeetingRequest) (*Meeting, error) {
	if req.Type == 0 {
		req.Type = MeetingTypeScheduled
	}
	body, err := c.do(ctx, http.MethodPost, "/users/me/meetings", req)
	if err != nil {
		return nil, err
	}
	var m Meeting
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, eris.Wrap(err, "zoom: unmarshal meeting")
	}
	return &m, nil
}

func (c *httpClient) UpdateMeeting(ctx context.Context, meetingID int64, req MeetingRequest) error {
	_, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/meetings/%d", meetingID), req)
	return err
}

func (c *httpClient) DeleteMeeting(ctx context.Context, meetingID int64) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/meetings/%d", meetingID), nil)
	return err
}
