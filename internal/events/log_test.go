package events_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentline/internal/db"
	"consentline/internal/events"
	"consentline/internal/migrate"
	"consentline/internal/repo"
)

func newWriter(t *testing.T, buf *bytes.Buffer) events.Writer {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	return events.Writer{
		Repo:   repo.Repo{DB: conn, Dialect: dialect},
		Now:    func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
		Logger: slog.New(slog.NewJSONHandler(buf, nil)),
	}
}

func TestAppendWritesEntry(t *testing.T) {
	var buf bytes.Buffer
	w := newWriter(t, &buf)
	ctx := context.Background()
	w.Append(ctx, events.Entry{DecisionID: "d-1", Type: events.BallotUpdated, ActorID: "bob", OldValue: "AGREE", NewValue: "DISAGREE"})

	entries, err := w.Repo.ListLogEntries(ctx, w.Repo.DB, "d-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, events.BallotUpdated, entries[0].EventType)
	require.NotNil(t, entries[0].OldValue)
	assert.Equal(t, "AGREE", *entries[0].OldValue)
	assert.Empty(t, buf.String())
}

func TestAppendSwallowsStorageFailure(t *testing.T) {
	var buf bytes.Buffer
	w := newWriter(t, &buf)
	_, err := w.Repo.DB.Exec(`DROP TABLE decision_events`)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		w.Append(context.Background(), events.Entry{DecisionID: "d-1", Type: events.DecisionClosed})
	})
	assert.Contains(t, buf.String(), "events.append_failed")
}

func TestAppendDropsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	w := newWriter(t, &buf)
	w.Append(context.Background(), events.Entry{DecisionID: "d-1", Type: "decision.teleported"})
	entries, err := w.Repo.ListLogEntries(context.Background(), w.Repo.DB, "d-1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Contains(t, buf.String(), "events.unknown_type")
	assert.False(t, events.Known("decision.teleported"))
	assert.True(t, events.Known(events.CommentAdded))
}
