package api

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWebPush(publicKey string) *webpush.Options {
	return &webpush.Options{VAPIDPublicKey: publicKey}
}

func TestPutSubscription_InvalidRequest(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/subscriptions", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())

	w = env.do(t, http.MethodPut, "/api/subscriptions", `{"endpoint":"https://push.example/1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	endpoint := "https://push.example/abc?token=1"
	query := "/api/subscriptions?endpoint=" + url.QueryEscape(endpoint)

	w := env.do(t, http.MethodGet, query, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPut, "/api/subscriptions",
		`{"endpoint":"`+endpoint+`","p256dh":"key","auth":"secret"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	// Re-registering refreshes keys instead of failing.
	w = env.do(t, http.MethodPut, "/api/subscriptions",
		`{"endpoint":"`+endpoint+`","p256dh":"key2","auth":"secret2"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodGet, query, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"endpoint":"https://push.example/abc?token=1"`)

	sub, err := env.store.GetSubscription(context.Background(), endpoint)
	require.NoError(t, err)
	assert.Equal(t, "key2", sub.P256DH)

	w = env.do(t, http.MethodDelete, "/api/subscriptions", `{"endpoint":"`+endpoint+`"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, query, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSubscription_MissingEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/subscriptions", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
