package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookChannelSendsJSONEnvelope(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Auth"))
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := newWebhookChannel(srv.URL, map[string]string{"X-Auth": "secret"})
	err := ch.Send(context.Background(), "ops@example.com", RenderedMessage{Subject: "subj", PlainBody: "body"})
	require.NoError(t, err)
	require.Equal(t, "ops@example.com", gotBody["recipient"])
}

func TestWebhookChannelNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := newWebhookChannel(srv.URL, nil)
	err := ch.Send(context.Background(), "x", RenderedMessage{})
	require.Error(t, err)
}

func TestSlackChannelUnconfiguredIsError(t *testing.T) {
	ch := newSlackChannel("")
	err := ch.Send(context.Background(), "x", RenderedMessage{})
	require.Error(t, err)
}
