package gohighlevel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynergists/specter/internal/resilience"
)

func TestUpsertContact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/contacts/", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Equal(t, DefaultAPIVersion, r.Header.Get("Version"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "loc-1", body["locationId"])
		assert.Equal(t, "ann@example.com", body["email"])
		assert.NotContains(t, body, "phone")
		assert.Equal(t, []any{"source:Specter"}, body["tags"])
		assert.Equal(t, float64(85), body["customFields"].(map[string]any)["specter_intent_score"])

		_, _ = w.Write([]byte(`{"contact":{"id":"c-123"}}`))
	}))
	defer srv.Close()

	c := NewClient("key-1", WithBaseURL(srv.URL), WithRateLimit(50))
	resp, err := c.UpsertContact(context.Background(), &ContactRequest{
		LocationID:   "loc-1",
		Email:        "ann@example.com",
		Tags:         []string{"source:Specter"},
		CustomFields: map[string]any{"specter_intent_score": 85},
	})
	require.NoError(t, err)
	assert.Equal(t, "c-123", resp.Contact.ID)
}

func TestUpsertContact_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid phone"}`))
	}))
	defer srv.Close()

	c := NewClient("key", WithBaseURL(srv.URL))
	_, err := c.UpsertContact(context.Background(), &ContactRequest{LocationID: "loc"})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resilience.StatusCode(err))
	assert.Contains(t, err.Error(), "invalid phone")
}

func TestUpsertContact_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"contact":{"id":"c-9"}}`))
	}))
	defer srv.Close()

	policy := resilience.NewPolicy(resilience.Backoff{MaxAttempts: 3, Initial: time.Millisecond, Max: time.Millisecond}, 5, time.Minute)
	c := NewClient("key", WithBaseURL(srv.URL), WithPolicy(policy))

	resp, err := c.UpsertContact(context.Background(), &ContactRequest{LocationID: "loc"})
	require.NoError(t, err)
	assert.Equal(t, "c-9", resp.Contact.ID)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, resilience.Closed, policy.States()["gohighlevel:loc"])
}

func TestUpsertContact_CircuitOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	policy := resilience.NewPolicy(resilience.Backoff{MaxAttempts: 1}, 1, time.Minute)
	c := NewClient("key", WithBaseURL(srv.URL), WithPolicy(policy))

	_, err := c.UpsertContact(context.Background(), &ContactRequest{LocationID: "loc"})
	require.Error(t, err)
	_, err = c.UpsertContact(context.Background(), &ContactRequest{LocationID: "loc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, int32(1), calls.Load())
}

func TestUpsertContact_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	resp, err := NewClient("key", WithBaseURL(srv.URL), WithAPIVersion("2021-04-15")).
		UpsertContact(context.Background(), &ContactRequest{LocationID: "loc"})
	require.NoError(t, err)
	assert.Empty(t, resp.Contact.ID)
}
