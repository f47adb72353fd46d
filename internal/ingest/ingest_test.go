package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retainly/outreach-cli/internal/model"
	"github.com/retainly/outreach-cli/pkg/resend"
	"github.com/retainly/outreach-cli/pkg/sendgrid"
)

type fakeStore struct {
	emails       map[string]*model.OutreachEmail
	byProviderID map[string]*model.OutreachEmail
	link         *model.CampaignProspect
	events       []model.EmailEvent
	settings     map[string]string
	hasOpenOpp   bool

	opens          int
	replies        int
	demoteCalls    int
	demotePosition int
	doNotEmail     []string
	prospectStatus model.ProspectStatus
	opportunities  []model.Opportunity
}

func (f *fakeStore) GetEmail(ctx context.Context, id string) (*model.OutreachEmail, error) {
	return f.emails[id], nil
}

func (f *fakeStore) GetEmailByProviderMessageID(ctx context.Context, providerMessageID string) (*model.OutreachEmail, error) {
	return f.byProviderID[providerMessageID], nil
}

func (f *fakeStore) GetLink(ctx context.Context, id string) (*model.CampaignProspect, error) {
	return f.link, nil
}

func (f *fakeStore) InsertEvent(ctx context.Context, ev model.EmailEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) CountEvents(ctx context.Context, emailID string, typ model.EventType) (int, error) {
	n := 0
	for _, ev := range f.events {
		if ev.EmailID == emailID && ev.Type == typ {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UpdateEmailStatus(ctx context.Context, id string, status model.EmailStatus) error {
	if em, ok := f.emails[id]; ok {
		em.Status = status
	}
	return nil
}

func (f *fakeStore) SetLinkStatus(ctx context.Context, id string, status model.LinkStatus) error {
	f.link.Status = status
	return nil
}

func (f *fakeStore) DemoteLaterPending(ctx context.Context, linkID string, position int) (int, error) {
	f.demoteCalls++
	f.demotePosition = position
	n := 0
	for _, em := range f.emails {
		if em.CampaignProspectID == linkID && em.Position > position && em.Status.Pending() {
			em.Status = model.EmailStatusDraft
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) IncrementOpenCount(ctx context.Context, id string) error {
	f.opens++
	return nil
}

func (f *fakeStore) IncrementReplyCount(ctx context.Context, id string) error {
	f.replies++
	return nil
}

func (f *fakeStore) SetDoNotEmail(ctx context.Context, id string) error {
	f.doNotEmail = append(f.doNotEmail, id)
	return nil
}

func (f *fakeStore) UpdateProspectStatus(ctx context.Context, id string, status model.ProspectStatus) error {
	f.prospectStatus = status
	return nil
}

func (f *fakeStore) HasOpenOpportunity(ctx context.Context, prospectID string) (bool, error) {
	return f.hasOpenOpp, nil
}

func (f *fakeStore) CreateOpportunity(ctx context.Context, o model.Opportunity) (*model.Opportunity, error) {
	f.opportunities = append(f.opportunities, o)
	f.hasOpenOpp = true
	return &o, nil
}

func (f *fakeStore) GetSetting(ctx context.Context, key string) (string, error) {
	return f.settings[key], nil
}

func seededStore() *fakeStore {
	e1 := &model.OutreachEmail{
		ID:                 "e1",
		CampaignProspectID: "link-1",
		Position:           1,
		Status:             model.EmailStatusSent,
		ProviderMessageID:  "sg-1",
	}
	e2 := &model.OutreachEmail{
		ID:                 "e2",
		CampaignProspectID: "link-1",
		Position:           2,
		Status:             model.EmailStatusApproved,
	}
	e3 := &model.OutreachEmail{
		ID:                 "e3",
		CampaignProspectID: "link-1",
		Position:           3,
		Status:             model.EmailStatusScheduled,
	}
	return &fakeStore{
		emails:       map[string]*model.OutreachEmail{"e1": e1, "e2": e2, "e3": e3},
		byProviderID: map[string]*model.OutreachEmail{"sg-1": e1},
		link: &model.CampaignProspect{
			ID:         "link-1",
			CampaignID: "campaign-1",
			ProspectID: "prospect-1",
			Status:     model.LinkStatusActive,
		},
		settings: map[string]string{},
	}
}

func TestDeliveredMovesSentEmail(t *testing.T) {
	st := seededStore()
	ing := New(st)

	known, err := ing.Process(context.Background(), Event{
		EmailID: "e1", Provider: "sendgrid", Type: model.EventDelivered,
	})
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, model.EmailStatusDelivered, st.emails["e1"].Status)
	require.Len(t, st.events, 1)
	assert.Equal(t, model.EventDelivered, st.events[0].Type)
}

func TestFirstOpenIncrementsOnce(t *testing.T) {
	st := seededStore()
	ing := New(st)

	for range 3 {
		_, err := ing.Process(context.Background(), Event{
			EmailID: "e1", Provider: "sendgrid", Type: model.EventOpen,
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, st.opens)
	assert.Len(t, st.events, 3)
	assert.Equal(t, model.EmailStatusOpened, st.emails["e1"].Status)
}

func TestReplyDemotesLaterPending(t *testing.T) {
	st := seededStore()
	st.settings[model.SettingAutoCreateOpportunity] = "true"
	ing := New(st)

	known, err := ing.Process(context.Background(), Event{
		EmailID: "e1", Provider: "sendgrid", Type: model.EventReply,
	})
	require.NoError(t, err)
	assert.True(t, known)

	assert.Equal(t, model.EmailStatusReplied, st.emails["e1"].Status)
	assert.Equal(t, model.LinkStatusReplied, st.link.Status)
	assert.Equal(t, 1, st.demotePosition)
	assert.Equal(t, model.EmailStatusDraft, st.emails["e2"].Status)
	assert.Equal(t, model.EmailStatusDraft, st.emails["e3"].Status)
	assert.Equal(t, 1, st.replies)

	require.Len(t, st.opportunities, 1)
	assert.Equal(t, "prospect-1", st.opportunities[0].ProspectID)
	assert.Equal(t, model.OpportunityStageOpen, st.opportunities[0].Stage)
	assert.Equal(t, model.ProspectStatusConverted, st.prospectStatus)
}

func TestSecondReplyCreatesNoSecondOpportunity(t *testing.T) {
	st := seededStore()
	st.settings[model.SettingAutoCreateOpportunity] = "true"
	ing := New(st)

	for range 2 {
		_, err := ing.Process(context.Background(), Event{
			EmailID: "e1", Provider: "sendgrid", Type: model.EventReply,
		})
		require.NoError(t, err)
	}

	assert.Len(t, st.opportunities, 1)
	assert.Equal(t, 1, st.replies)
}

func TestReplyWithoutSettingSkipsOpportunity(t *testing.T) {
	st := seededStore()
	ing := New(st)

	_, err := ing.Process(context.Background(), Event{
		EmailID: "e1", Provider: "sendgrid", Type: model.EventReply,
	})
	require.NoError(t, err)
	assert.Empty(t, st.opportunities)
}

func TestOpenAfterReplyKeepsRepliedStatus(t *testing.T) {
	st := seededStore()
	ing := New(st)

	_, err := ing.Process(context.Background(), Event{
		EmailID: "e1", Provider: "sendgrid", Type: model.EventReply,
	})
	require.NoError(t, err)

	_, err = ing.Process(context.Background(), Event{
		EmailID: "e1", Provider: "sendgrid", Type: model.EventOpen,
	})
	require.NoError(t, err)

	assert.Equal(t, model.EmailStatusReplied, st.emails["e1"].Status)
	// The open still lands in the event log and counts for the campaign.
	assert.Equal(t, 1, st.opens)
	assert.Len(t, st.events, 2)
}

func TestBounceSuppressesProspectWithoutDemoting(t *testing.T) {
	st := seededStore()
	ing := New(st)

	_, err := ing.Process(context.Background(), Event{
		EmailID: "e1", Provider: "sendgrid", Type: model.EventBounce,
	})
	require.NoError(t, err)

	assert.Equal(t, model.EmailStatusBounced, st.emails["e1"].Status)
	assert.Equal(t, []string{"prospect-1"}, st.doNotEmail)
	assert.Equal(t, model.ProspectStatusBounced, st.prospectStatus)
	assert.Equal(t, model.LinkStatusBounced, st.link.Status)
	// Later siblings keep their statuses; the send guards stop them.
	assert.Equal(t, 0, st.demoteCalls)
	assert.Equal(t, model.EmailStatusApproved, st.emails["e2"].Status)
	assert.Equal(t, model.EmailStatusScheduled, st.emails["e3"].Status)
}

func TestUnknownMessageIgnored(t *testing.T) {
	st := seededStore()
	ing := New(st)

	known, err := ing.Process(context.Background(), Event{
		ProviderMessageID: "sg-unknown", Provider: "sendgrid", Type: model.EventOpen,
	})
	require.NoError(t, err)
	assert.False(t, known)
	assert.Empty(t, st.events)
}

func TestResolveFallsBackToProviderID(t *testing.T) {
	st := seededStore()
	ing := New(st)

	known, err := ing.Process(context.Background(), Event{
		ProviderMessageID: "sg-1", Provider: "sendgrid", Type: model.EventDelivered,
	})
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, model.EmailStatusDelivered, st.emails["e1"].Status)
}

func TestHandleSendGridBatch(t *testing.T) {
	st := seededStore()
	ing := New(st)

	res := ing.HandleSendGridBatch(context.Background(), []sendgrid.Event{
		{Event: "open", OutreachEmailID: "e1", Timestamp: time.Now().Unix()},
		{Event: "processed", OutreachEmailID: "e1"},
		{Event: "bounce", SGMessageID: "sg-unknown"},
	})

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, res.Ignored)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 1, st.opens)
}

func TestHandleSendGridBatchStoresRawEvent(t *testing.T) {
	st := seededStore()
	ing := New(st)

	res := ing.HandleSendGridBatch(context.Background(), []sendgrid.Event{
		{Event: "open", OutreachEmailID: "e1", SGMessageID: "sg-1", Timestamp: time.Now().Unix()},
	})
	assert.Equal(t, 1, res.Processed)

	require.Len(t, st.events, 1)
	require.NotEmpty(t, st.events[0].Payload)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(st.events[0].Payload, &raw))
	assert.Equal(t, "open", raw["event"])
}

func TestHandleResendEvent(t *testing.T) {
	st := seededStore()
	ing := New(st)

	res := ing.HandleResendEvent(context.Background(), &resend.WebhookEvent{
		Type:      "email.opened",
		CreatedAt: time.Now(),
		Data: resend.EventData{
			EmailID: "re_any",
			Tags:    []resend.Tag{{Name: resend.TagEmailID, Value: "e1"}},
		},
	})

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, model.EmailStatusOpened, st.emails["e1"].Status)
	require.Len(t, st.events, 1)
	assert.Equal(t, "resend", st.events[0].Provider)
	assert.NotEmpty(t, st.events[0].Payload)
}

func TestHandleResendUnknownTypeIgnored(t *testing.T) {
	st := seededStore()
	ing := New(st)

	res := ing.HandleResendEvent(context.Background(), &resend.WebhookEvent{Type: "email.sent"})
	assert.Equal(t, 1, res.Ignored)
}
