package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

func (e *testEnv) doForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(form.Encode())))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func seedLead(t *testing.T, env *testEnv, phone string) *models.Lead {
	t.Helper()
	lead := &models.Lead{Name: "Test Lead", PhoneNumber: phone}
	require.NoError(t, env.store.CreateLead(context.Background(), lead))
	return lead
}

func TestSendMessageByLeadID(t *testing.T) {
	env := newTestEnv(t)
	lead := seedLead(t, env, "+15550001234")

	rec := env.do(t, http.MethodPost, "/send-message", `{"lead_id":"`+lead.ID+`","content":"Hi again!"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, env.sender.SentMessages, 1)
	assert.Equal(t, "+15550001234", env.sender.SentMessages[0].To)

	convs, err := env.store.ListConversations(context.Background(), store.ListConversationsOptions{LeadID: lead.ID})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, models.StateEngaged, convs[0].State)
}

func TestSendMessageByPhone(t *testing.T) {
	env := newTestEnv(t)
	seedLead(t, env, "+15550001234")

	rec := env.do(t, http.MethodPost, "/send-message", `{"phone_number":"+1 555 000 1234","content":"Hi!"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.sender.SentMessages, 1)
}

func TestSendMessageValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/send-message", `{"content":"Hi!"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/send-message", `{"lead_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/send-message", `{"lead_id":"missing","content":"Hi!"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessageTransportFailureStillOK(t *testing.T) {
	env := newTestEnv(t)
	lead := seedLead(t, env, "+15550001234")
	env.sender.Err = errors.New("carrier rejected")

	rec := env.do(t, http.MethodPost, "/send-message", `{"lead_id":"`+lead.ID+`","content":"Hi!"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	result := resp.Result.(map[string]interface{})
	send := result["send"].(map[string]interface{})
	assert.Equal(t, false, send["success"])
	assert.NotEmpty(t, send["error"])
}

func TestGenerateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	lead := seedLead(t, env, "+15550001234")
	conv, err := env.store.FindOrCreateActiveConversation(context.Background(), lead.ID, models.StateNew)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/generate/"+conv.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.sender.SentMessages, 1)

	rec = env.do(t, http.MethodPost, "/generate/missing-conv", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListConversationsAndMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lead := seedLead(t, env, "+15550001234")
	conv, err := env.store.FindOrCreateActiveConversation(ctx, lead.ID, models.StateEngaged)
	require.NoError(t, err)
	require.NoError(t, env.store.AppendMessage(ctx, &models.Message{
		ConversationID: conv.ID, Content: "hello", IsFromLead: true, Delivered: true,
	}))

	rec := env.do(t, http.MethodGet, "/conversations?lead_id="+lead.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/conversations/"+conv.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/conversations/"+conv.ID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello")

	rec = env.do(t, http.MethodGet, "/conversations/missing/messages", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTwilioWebhookInbound(t *testing.T) {
	env := newTestEnv(t)
	seedLead(t, env, "+15550001234")

	form := url.Values{}
	form.Set("From", "+15550001234")
	form.Set("Body", "Hi, interested!")
	form.Set("MessageSid", "SM100")
	rec := env.doForm(t, "/webhook/twilio", form)
	require.Equal(t, http.StatusOK, rec.Code)

	// A generated reply goes back out.
	assert.Len(t, env.sender.SentMessages, 1)
}

func TestTwilioWebhookDuplicateDelivery(t *testing.T) {
	env := newTestEnv(t)
	seedLead(t, env, "+15550001234")

	form := url.Values{}
	form.Set("From", "+15550001234")
	form.Set("Body", "Hi, interested!")
	form.Set("MessageSid", "SM200")

	rec := env.doForm(t, "/webhook/twilio", form)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.doForm(t, "/webhook/twilio", form)
	require.Equal(t, http.StatusOK, rec.Code)

	// The retried callback must not produce a second reply.
	assert.Len(t, env.sender.SentMessages, 1)
}

func TestTwilioWebhookMalformed(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{}
	form.Set("From", "+15550001234")
	rec := env.doForm(t, "/webhook/twilio", form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTwilioWebhookUnknownSenderAcked(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{}
	form.Set("From", "+19990000000")
	form.Set("Body", "who dis")
	form.Set("MessageSid", "SM300")
	rec := env.doForm(t, "/webhook/twilio", form)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.sender.SentMessages)
}
