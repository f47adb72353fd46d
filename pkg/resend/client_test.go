package resend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body sendBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Jess Trent <jess@retainly.io>", body.From)
		assert.Equal(t, []string{"cto@acme.com"}, body.To)
		assert.Equal(t, "Quick question", body.Subject)
		require.Len(t, body.Tags, 1)
		assert.Equal(t, TagEmailID, body.Tags[0].Name)
		assert.Equal(t, "email-42", body.Tags[0].Value)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"re_abc123"}`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	id, err := client.Send(context.Background(), SendRequest{
		FromEmail: "jess@retainly.io",
		FromName:  "Jess Trent",
		ToEmail:   "cto@acme.com",
		Subject:   "Quick question",
		Body:      "Hi there",
		Tags:      map[string]string{TagEmailID: "email-42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "re_abc123", id)
}

func TestSendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid from address"}`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	_, err := client.Send(context.Background(), SendRequest{
		FromEmail: "bad",
		ToEmail:   "cto@acme.com",
		Subject:   "x",
		Body:      "y",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestParseWebhookEvent(t *testing.T) {
	payload := []byte(`{
		"type": "email.opened",
		"created_at": "2026-02-10T15:04:05Z",
		"data": {
			"email_id": "re_abc123",
			"from": "jess@retainly.io",
			"to": ["cto@acme.com"],
			"subject": "Quick question",
			"tags": [{"name": "outreach_email_id", "value": "email-42"}]
		}
	}`)

	ev, err := ParseWebhookEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "email.opened", ev.Type)
	assert.Equal(t, "re_abc123", ev.Data.EmailID)
	assert.Equal(t, "email-42", ev.Data.TagValue(TagEmailID))
	assert.Equal(t, "", ev.Data.TagValue("missing"))
}

func TestParseWebhookEventInvalid(t *testing.T) {
	_, err := ParseWebhookEvent([]byte(`[]`))
	require.Error(t, err)

	_, err = ParseWebhookEvent([]byte(`{"data":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing type")
}
