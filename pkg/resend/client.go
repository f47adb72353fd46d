// Package resend provides a client for the Resend email API and types for
// its webhook, which posts one JSON object per event.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.resend.com"

// TagEmailID is the tag name carrying our internal email id through Resend.
const TagEmailID = "outreach_email_id"

// Client defines the Resend operations used by the sender.
type Client interface {
	Send(ctx context.Context, req SendRequest) (string, error)
}

// SendRequest describes a single transactional email.
type SendRequest struct {
	FromEmail string
	FromName  string
	ToEmail   string
	Subject   string
	Body      string
	Tags      map[string]string
}

// Tag is Resend's name/value tag shape.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// WebhookEvent is the single-object payload Resend posts per notification.
type WebhookEvent struct {
	Type      string    `json:"type"` // e.g. "email.delivered", "email.opened"
	CreatedAt time.Time `json:"created_at"`
	Data      EventData `json:"data"`
}

// EventData carries the event subject.
type EventData struct {
	EmailID string   `json:"email_id"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Tags    []Tag    `json:"tags,omitempty"`
}

// TagValue returns the value of the named tag, or "".
func (d EventData) TagValue(name string) string {
	for _, t := range d.Tags {
		if t.Name == name {
			return t.Value
		}
	}
	return ""
}

// ParseWebhookEvent decodes a webhook request body.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, eris.Wrap(err, "resend: parse webhook event")
	}
	if ev.Type == "" {
		return nil, eris.New("resend: webhook event missing type")
	}
	return &ev, nil
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

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Resend API client.
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
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type sendBody struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	Tags    []Tag    `json:"tags,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send dispatches one email and returns the Resend email id.
func (c *httpClient) Send(ctx context.Context, req SendRequest) (string, error) {
	from := req.FromEmail
	if req.FromName != "" {
		from = fmt.Sprintf("%s <%s>", req.FromName, req.FromEmail)
	}

	body := sendBody{
		From:    from,
		To:      []string{req.ToEmail},
		Subject: req.Subject,
		Text:    req.Body,
	}
	for name, value := range req.Tags {
		body.Tags = append(body.Tags, Tag{Name: name, Value: value})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", eris.Wrap(err, "resend: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrap(err, "resend: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", eris.Wrap(err, "resend: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "resend: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("resend: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result sendResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", eris.Wrap(err, "resend: unmarshal response")
	}
	return result.ID, nil
}
