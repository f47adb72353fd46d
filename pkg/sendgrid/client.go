// Package sendgrid provides a client for the SendGrid v3 mail send API and
// types for its event webhook.
package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.sendgrid.com/v3"

// CustomArgEmailID is the custom-arg key carrying our internal email id.
// SendGrid echoes custom args back as top-level fields on webhook events,
// which is how events are correlated to outreach_emails rows.
const CustomArgEmailID = "outreach_email_id"

// Client defines the SendGrid operations used by the sender.
type Client interface {
	Send(ctx context.Context, req SendRequest) (string, error)
}

// SendRequest describes a single transactional email.
type SendRequest struct {
	FromEmail  string
	FromName   string
	ToEmail    string
	ToName     string
	Subject    string
	Body       string
	CustomArgs map[string]string
}

// Event is one entry of the webhook payload. SendGrid always posts a JSON
// array of events.
type Event struct {
	Email       string `json:"email"`
	Timestamp   int64  `json:"timestamp"`
	Event       string `json:"event"`
	SGMessageID string `json:"sg_message_id"`
	Reason      string `json:"reason,omitempty"`
	// Custom args are echoed back as top-level fields.
	OutreachEmailID string `json:"outreach_email_id,omitempty"`
}

// OccurredAt converts the event's unix timestamp.
func (e Event) OccurredAt() time.Time {
	if e.Timestamp == 0 {
		return time.Now().UTC()
	}
	return time.Unix(e.Timestamp, 0).UTC()
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

// NewClient creates a SendGrid API client.
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

// v3 mail send payload shapes.
type mailSendBody struct {
	Personalizations []personalization `json:"personalizations"`
	From             emailAddress      `json:"from"`
	Subject          string            `json:"subject"`
	Content          []contentPart     `json:"content"`
}

type personalization struct {
	To         []emailAddress    `json:"to"`
	CustomArgs map[string]string `json:"custom_args,omitempty"`
}

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type contentPart struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Send dispatches one email and returns the provider message id from the
// X-Message-Id response header.
func (c *httpClient) Send(ctx context.Context, req SendRequest) (string, error) {
	body := mailSendBody{
		Personalizations: []personalization{{
			To:         []emailAddress{{Email: req.ToEmail, Name: req.ToName}},
			CustomArgs: req.CustomArgs,
		}},
		From:    emailAddress{Email: req.FromEmail, Name: req.FromName},
		Subject: req.Subject,
		Content: []contentPart{{Type: "text/plain", Value: req.Body}},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", eris.Wrap(err, "sendgrid: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mail/send", bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrap(err, "sendgrid: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", eris.Wrap(err, "sendgrid: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "sendgrid: read response")
	}

	if resp.StatusCode != http.StatusAccepted {
		return "", eris.Errorf("sendgrid: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return resp.Header.Get("X-Message-Id"), nil
}

// ParseEvents decodes a webhook request body into events.
func ParseEvents(body []byte) ([]Event, error) {
	var events []Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, eris.Wrap(err, "sendgrid: parse webhook events")
	}
	return events, nil
}
