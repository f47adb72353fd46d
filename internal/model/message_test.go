package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmailStatus_TransitionFor(t *testing.T) {
	tests := []struct {
		name  string
		from  EmailStatus
		event EventType
		want  EmailStatus
	}{
		{"sent_to_delivered", EmailStatusSent, EventDelivered, EmailStatusDelivered},
		{"delivered_stays_on_delivered", EmailStatusDelivered, EventDelivered, EmailStatusDelivered},
		{"delivered_to_opened", EmailStatusDelivered, EventOpen, EmailStatusOpened},
		{"opened_to_clicked", EmailStatusOpened, EventClick, EmailStatusClicked},
		{"replied_sticky_over_open", EmailStatusReplied, EventOpen, EmailStatusReplied},
		{"replied_sticky_over_click", EmailStatusReplied, EventClick, EmailStatusReplied},
		{"sent_to_bounced", EmailStatusSent, EventBounce, EmailStatusBounced},
		{"spamreport_bounces", EmailStatusDelivered, EventSpamReport, EmailStatusBounced},
		{"opened_to_replied", EmailStatusOpened, EventReply, EmailStatusReplied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.TransitionFor(tt.event))
		})
	}
}

func TestEmailStatus_Pending(t *testing.T) {
	assert.True(t, EmailStatusApproved.Pending())
	assert.True(t, EmailStatusScheduled.Pending())
	assert.False(t, EmailStatusDraft.Pending())
	assert.False(t, EmailStatusSent.Pending())
	assert.False(t, EmailStatusReplied.Pending())
}

func TestParseEventType(t *testing.T) {
	for raw, want := range map[string]EventType{
		"open":             EventOpen,
		"email.opened":     EventOpen,
		"bounce":           EventBounce,
		"email.bounced":    EventBounce,
		"dropped":          EventBounce,
		"email.complained": EventSpamReport,
		"delivered":        EventDelivered,
	} {
		got, ok := ParseEventType(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	_, ok := ParseEventType("processed")
	assert.False(t, ok)
}

func TestProspect_Contactable(t *testing.T) {
	p := &Prospect{Status: ProspectStatusActive}
	assert.True(t, p.Contactable())

	p.DoNotEmail = true
	assert.False(t, p.Contactable())

	p = &Prospect{Status: ProspectStatusUnsubscribed}
	assert.False(t, p.Contactable())

	p = &Prospect{Status: ProspectStatusBounced}
	assert.False(t, p.Contactable())
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "jane@acme.test", NormalizeEmail("  Jane@Acme.TEST "))
}
