package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentline/internal/domain"
	"consentline/internal/notify"
)

var end = time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)

func TestQueueEnqueuesIntents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q := notify.Queue{Client: client, Key: "test:intents"}
	ctx := context.Background()

	require.NoError(t, q.NotifyStageTransition(ctx, notify.StageTransition{
		DecisionID: "d-1", Stage: domain.StageAmendements, Recipients: []string{"alice"}, StageEndTime: end,
	}))
	require.NoError(t, q.NotifyClosure(ctx, notify.Closure{DecisionID: "d-1", Result: domain.ResultBlocked, DecidedAt: end}))

	items, err := mr.List("test:intents")
	require.NoError(t, err)
	require.Len(t, items, 2)
	var first notify.Intent
	require.NoError(t, json.Unmarshal([]byte(items[0]), &first))
	assert.Equal(t, notify.KindStageTransition, first.Kind)
	assert.Equal(t, []string{"alice"}, first.Recipients)
	require.NotNil(t, first.StageEndTime)
	assert.True(t, first.StageEndTime.Equal(end))
	var second notify.Intent
	require.NoError(t, json.Unmarshal([]byte(items[1]), &second))
	assert.Equal(t, domain.ResultBlocked, second.Result)
}

func TestQueueReportsRedisFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()
	err = notify.Queue{Client: client}.NotifyClosure(context.Background(), notify.Closure{DecisionID: "d-1"})
	assert.Error(t, err)
}

func TestWebhookPostsFilteredIntents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []notify.Intent
		secrets  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var in notify.Intent
		_ = json.Unmarshal(body, &in)
		mu.Lock()
		received = append(received, in)
		secrets = append(secrets, r.Header.Get("X-Consentline-Secret"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	disabled := false
	hook := notify.Webhook{Hooks: []notify.Hook{
		{URL: srv.URL, Secret: "s3cret", Kinds: []string{notify.KindClosure}},
		{URL: srv.URL, Enabled: &disabled},
	}}
	ctx := context.Background()
	require.NoError(t, hook.NotifyStageTransition(ctx, notify.StageTransition{DecisionID: "d-1", Stage: domain.StageObjections, StageEndTime: end}))
	require.NoError(t, hook.NotifyClosure(ctx, notify.Closure{DecisionID: "d-1", Result: domain.ResultApproved, DecidedAt: end}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, notify.KindClosure, received[0].Kind)
	assert.Equal(t, "s3cret", secrets[0])
}

func TestWebhookReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := notify.Webhook{Hooks: []notify.Hook{{URL: srv.URL}}}.NotifyClosure(context.Background(), notify.Closure{DecisionID: "d-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

type failing struct{}

func (failing) NotifyStageTransition(context.Context, notify.StageTransition) error {
	return errors.New("transition down")
}
func (failing) NotifyClosure(context.Context, notify.Closure) error { return errors.New("closure down") }

func TestFanoutJoinsErrors(t *testing.T) {
	f := notify.Fanout{notify.Log{}, failing{}}
	err := f.NotifyClosure(context.Background(), notify.Closure{DecisionID: "d-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closure down")
	assert.NoError(t, notify.Fanout{notify.Log{}}.NotifyStageTransition(context.Background(), notify.StageTransition{}))
}
