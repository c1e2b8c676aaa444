package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentline/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval.Std())
	assert.Equal(t, 30*time.Second, cfg.Scheduler.DecisionTimeout.Std())
	assert.Equal(t, domain.LayoutDistinct, cfg.Decisions.DefaultLayout)
	assert.Equal(t, 5, cfg.Decisions.DefaultScale)
	assert.Equal(t, "consentline:notifications", cfg.Notifications.Redis.Queue)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
database:
  driver: postgres
  dsn: postgres://localhost/consentline
scheduler:
  interval: 1m
notifications:
  webhooks:
    - url: http://hooks.local/consentline
      kinds: [closure]
`))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval.Std())
	assert.Equal(t, 30*time.Second, cfg.Scheduler.DecisionTimeout.Std())
	require.Len(t, cfg.Notifications.Webhooks, 1)
	assert.Equal(t, []string{"closure"}, cfg.Notifications.Webhooks[0].Kinds)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"postgres without dsn": "database:\n  driver: postgres\n",
		"unknown driver":       "database:\n  driver: mysql\n",
		"bad base path":        "server:\n  base_path: v1\n",
		"bad layout":           "decisions:\n  default_layout: SPLIT\n",
		"bad scale":            "decisions:\n  default_nuanced_scale: 4\n",
		"hook without url":     "notifications:\n  webhooks:\n    - secret: x\n",
		"unknown hook kind":    "notifications:\n  webhooks:\n    - url: http://x\n      kinds: [ballot]\n",
		"bad duration":         "scheduler:\n  interval: soon\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("logging:\n  format: text\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
}
