package consentlinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsTokenAndDecodesDecision(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"d-1","title":"Rota","algorithm":"CONSENSUS","mode":"INVITED","status":"DRAFT","creator_id":"alice","version":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	d, err := c.CreateDecision(context.Background(), CreateDecision{Title: "Rota", Algorithm: "CONSENSUS"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "/v1/decisions", gotPath)
	assert.Equal(t, "Rota", gotBody["title"])
	assert.Equal(t, "d-1", d.ID)
	assert.Equal(t, "DRAFT", d.Status)
}

func TestClientParsesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_state","message":"decision is not open for voting"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").CastBallot(context.Background(), "d-1", "consensus", map[string]string{"value": "AGREE"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "invalid_state", apiErr.Code)
	assert.Equal(t, "decision is not open for voting", apiErr.Message)
}

func TestPublicBallotAndCronHeaders(t *testing.T) {
	headers := map[string]http.Header{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers[r.URL.Path] = r.Header.Clone()
		switch r.URL.Path {
		case "/v1/cron/closure-scan":
			_, _ = w.Write([]byte(`{"processed":2,"closures":1,"failures":[]}`))
		default:
			_, _ = w.Write([]byte(`{"id":"b-1","kind":"ADVISORY","payload":{"value":"AGREE"}}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	b, err := c.CastPublicBallot(context.Background(), "d 1", "advisory", "device-7", map[string]string{"value": "AGREE"})
	require.NoError(t, err)
	assert.Equal(t, "AGREE", b.Payload["value"])
	h := headers["/v1/public/decisions/d 1/ballots/advisory"]
	require.NotNil(t, h)
	assert.Equal(t, "device-7", h.Get("X-Dedup-Key"))
	assert.Empty(t, h.Get("Authorization"))

	summary, err := c.TriggerClosureScan(context.Background(), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Closures)
	assert.Equal(t, "s3cret", headers["/v1/cron/closure-scan"].Get("X-Cron-Secret"))
}

func TestLaunchFormatsEndTime(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"id":"d-1","status":"OPEN"}`))
	}))
	defer srv.Close()

	end := time.Date(2024, 3, 5, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	d, err := New(srv.URL, "tok").Launch(context.Background(), "d-1", end)
	require.NoError(t, err)
	assert.Equal(t, "OPEN", d.Status)
	assert.Equal(t, "2024-03-05T08:00:00Z", body["end_time"])
}
