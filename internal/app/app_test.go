package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentline/internal/config"
	"consentline/internal/engine"
	"consentline/internal/notify"
)

// unsetForTest clears key for the test and restores it afterwards.
func unsetForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadConfigReadsDotenvAndEnvironment(t *testing.T) {
	workspace := t.TempDir()
	unsetForTest(t, EnvFingerprintSecret)
	unsetForTest(t, EnvCronSecret)
	t.Setenv(EnvJWTSecret, "from-process")
	require.NoError(t, os.WriteFile(filepath.Join(workspace, ".env"),
		[]byte("CONSENTLINE_FINGERPRINT_SECRET=from-dotenv\nCONSENTLINE_JWT_SECRET=ignored\n"), 0o600))
	require.NoError(t, os.WriteFile(config.Path(workspace),
		[]byte("secrets:\n  cron: from-yaml\n"), 0o600))

	cfg, err := LoadConfig(workspace)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Secrets.Fingerprint)
	assert.Equal(t, "from-process", cfg.Secrets.JWT)
	assert.Equal(t, "from-yaml", cfg.Secrets.Cron)
}

func TestLoadConfigRejectsInvalidOverride(t *testing.T) {
	t.Setenv(EnvDatabaseDriver, "oracle")
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}

func TestBuildNotifierTargets(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Notifications.Log = true
	cfg.Notifications.Webhooks = []config.WebhookConfig{{URL: "http://127.0.0.1:1/hook"}}
	cfg.Notifications.Redis.Addr = mr.Addr()
	cfg.Notifications.Redis.Queue = "test:intents"

	n, closeFn := BuildNotifier(cfg, nil)
	require.NotNil(t, closeFn)
	defer closeFn()
	fan, ok := n.(notify.Fanout)
	require.True(t, ok)
	require.Len(t, fan, 3)

	// The webhook target fails; the redis target still receives the intent.
	err := fan[2].NotifyClosure(context.Background(), notify.Closure{DecisionID: "d-1", Result: "APPROVED", Reason: "deadline", DecidedAt: time.Now()})
	require.NoError(t, err)
	items, err := mr.List("test:intents")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestBootstrapMigratesSqliteWorkspace(t *testing.T) {
	workspace := t.TempDir()
	unsetForTest(t, EnvDatabaseDriver)
	unsetForTest(t, EnvRedisAddr)
	t.Setenv(EnvFingerprintSecret, "fp")
	a, err := Bootstrap(context.Background(), workspace, nil)
	require.NoError(t, err)
	defer a.Close()

	d, err := a.Engine.CreateDecision(context.Background(), engine.CreateOptions{
		Title: "Bootstrap check", Algorithm: "CONSENSUS", ActorID: "alice",
	})
	require.NoError(t, err)
	got, err := a.Engine.GetDecision(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Title, got.Title)
	_, err = os.Stat(filepath.Join(workspace, ".consentline", "consentline.db"))
	assert.NoError(t, err)
}
