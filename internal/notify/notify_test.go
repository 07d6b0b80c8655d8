package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/config"
	"github.com/leozw/monitrix/internal/core"
	"github.com/leozw/monitrix/internal/evaluator"
)

type recordingEmail struct {
	to   []string
	msgs []Message
	err  error
}

func (r *recordingEmail) SendEmail(_ context.Context, to []string, msg Message) error {
	r.to = append(r.to, to...)
	r.msgs = append(r.msgs, msg)
	return r.err
}

type recordingWebhook struct {
	urls []string
}

func (r *recordingWebhook) PostWebhook(_ context.Context, url string, _ Message) error {
	r.urls = append(r.urls, url)
	return nil
}

func downNotification(targets ...string) evaluator.Notification {
	return evaluator.Notification{
		Resource: &core.Resource{ID: 3, UniqueID: "u-3", Name: "Shop", URL: "https://shop.example.com", Kind: core.KindWebsite},
		Status:   core.AlertDown,
		Targets:  targets,
		Opened: []core.Incident{{
			MetricType: core.MetricResponseCode, Comparison: core.OpNotEqual, LimitAtTime: "200",
			Message: "response code 503 != 200",
		}},
	}
}

func TestCompose(t *testing.T) {
	msg := Compose(downNotification())
	assert.Equal(t, "[DOWN] Website Shop", msg.Subject)
	assert.Contains(t, msg.Text, "responseCode: response code 503 != 200 (!= 200)")
	assert.Contains(t, msg.Text, "Resource ID: u-3")

	resolved := evaluator.Notification{
		Resource: &core.Resource{URL: "http://example.org", Kind: core.KindDomain},
		Status:   core.AlertUp,
		Closed:   []core.Resolution{{MetricType: core.MetricDomainExpiry, Message: "domain renewed"}},
	}
	msg = Compose(resolved)
	assert.Equal(t, "[RESOLVED] Domain http://example.org", msg.Subject)
	assert.Contains(t, msg.Text, "Resolved:\n- domainExpiry: domain renewed")
}

func TestDispatcher_RoutesTargets(t *testing.T) {
	email := &recordingEmail{}
	hooks := &recordingWebhook{}
	d := NewDispatcher(email, hooks, "https://hooks.slack.com/services/T/B/X", zap.NewNop())

	err := d.Notify(context.Background(), downNotification(
		"ops@example.com", "https://chat.example.com/hook", "pager", "dev@example.com",
		"https://hooks.slack.com/services/T/B/X",
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"ops@example.com", "dev@example.com"}, email.to)
	require.Len(t, email.msgs, 1)
	assert.Equal(t, []string{"https://chat.example.com/hook", "https://hooks.slack.com/services/T/B/X"}, hooks.urls)
}

func TestDispatcher_JoinsErrors(t *testing.T) {
	email := &recordingEmail{err: errors.New("quota exceeded")}
	d := NewDispatcher(email, nil, "", zap.NewNop())

	err := d.Notify(context.Background(), downNotification("ops@example.com"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestDispatcher_NoEmailSender(t *testing.T) {
	d := NewFromConfig(config.NotifyConfig{}, zap.NewNop())
	assert.NoError(t, d.Notify(context.Background(), downNotification("ops@example.com")))
}

func TestSlackSender(t *testing.T) {
	var mu sync.Mutex
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlackSender(0)
	require.NoError(t, s.PostWebhook(context.Background(), srv.URL, Message{Text: "site down"}))
	mu.Lock()
	assert.Equal(t, "site down", got["text"])
	mu.Unlock()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()
	assert.Error(t, s.PostWebhook(context.Background(), bad.URL, Message{Text: "x"}))
}

func TestSendGridSender(t *testing.T) {
	var body []byte
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	assert.Nil(t, NewSendGridSender(config.NotifyConfig{}))

	s := NewSendGridSender(config.NotifyConfig{SendGridAPIKey: "SG.test", FromEmail: "alerts@monitrix.io"})
	require.NotNil(t, s)
	s.client.BaseURL = srv.URL + "/v3/mail/send"

	err := s.SendEmail(context.Background(), []string{"ops@example.com"}, Message{Subject: "[DOWN] Website Shop", Text: "body"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer SG.test", auth)

	var payload struct {
		Subject string `json:"subject"`
		From    struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"from"`
		Personalizations []struct {
			To []struct {
				Email string `json:"email"`
			} `json:"to"`
		} `json:"personalizations"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "[DOWN] Website Shop", payload.Subject)
	assert.Equal(t, "Monitrix", payload.From.Name)
	require.Len(t, payload.Personalizations, 1)
	assert.Equal(t, "ops@example.com", payload.Personalizations[0].To[0].Email)

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer rejecting.Close()
	s.client.BaseURL = rejecting.URL + "/v3/mail/send"
	assert.Error(t, s.SendEmail(context.Background(), []string{"ops@example.com"}, Message{Subject: "s", Text: "t"}))
}

func TestDispatcher_DefaultWebhookWithoutTargets(t *testing.T) {
	email := &recordingEmail{}
	hooks := &recordingWebhook{}
	d := NewDispatcher(email, hooks, "https://hooks.slack.com/services/T/B/X", zap.NewNop())

	require.NoError(t, d.Notify(context.Background(), downNotification()))
	assert.Empty(t, email.msgs)
	assert.Equal(t, []string{"https://hooks.slack.com/services/T/B/X"}, hooks.urls)
}
