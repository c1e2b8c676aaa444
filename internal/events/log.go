// Package events is the decision history side channel. Appending never fails
// the operation that triggered it.
package events

import (
	"context"
	"log/slog"
	"time"

	"consentline/internal/domain"
	"consentline/internal/repo"
)

// Event types. The set is closed; Append drops anything else.
const (
	DecisionCreated       = "decision.created"
	DecisionLaunched      = "decision.launched"
	DecisionStatusChanged = "decision.status_changed"
	DecisionClosed        = "decision.closed"
	DecisionReopened      = "decision.reopened"
	DecisionFieldUpdated  = "decision.field_updated"
	ParticipantAdded      = "participant.added"
	ParticipantRemoved    = "participant.removed"
	BallotRecorded        = "ballot.recorded"
	BallotUpdated         = "ballot.updated"
	CommentAdded          = "comment.added"
)

var taxonomy = map[string]struct{}{
	DecisionCreated: {}, DecisionLaunched: {}, DecisionStatusChanged: {}, DecisionClosed: {},
	DecisionReopened: {}, DecisionFieldUpdated: {}, ParticipantAdded: {}, ParticipantRemoved: {},
	BallotRecorded: {}, BallotUpdated: {}, CommentAdded: {},
}

// Known reports whether eventType belongs to the taxonomy.
func Known(eventType string) bool {
	_, ok := taxonomy[eventType]
	return ok
}

type Entry struct {
	DecisionID string
	Type       string
	// ActorID is empty for system and anonymous events.
	ActorID  string
	OldValue string
	NewValue string
	Metadata map[string]any
}

// Log is the append contract. Implementations must not block indefinitely
// and must not report errors.
type Log interface {
	Append(ctx context.Context, e Entry)
}

// Writer appends entries to the decision_events table.
type Writer struct {
	Repo   repo.Repo
	Now    func() time.Time
	Logger *slog.Logger
}

func (w Writer) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w Writer) Append(ctx context.Context, e Entry) {
	if !Known(e.Type) {
		w.logger().Warn("event dropped", "event", "events.unknown_type", "module", "events", "type", e.Type, "decision_id", e.DecisionID)
		return
	}
	ts := time.Now()
	if w.Now != nil {
		ts = w.Now()
	}
	entry := domain.LogEntry{
		DecisionID: e.DecisionID,
		EventType:  e.Type,
		ActorID:    optional(e.ActorID),
		OldValue:   optional(e.OldValue),
		NewValue:   optional(e.NewValue),
		Metadata:   e.Metadata,
		CreatedAt:  ts.UTC(),
	}
	if err := w.Repo.InsertLogEntry(ctx, w.Repo.DB, entry); err != nil {
		w.logger().Error("event append failed", "event", "events.append_failed", "module", "events",
			"type", e.Type, "decision_id", e.DecisionID, "error", err)
	}
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Append(context.Context, Entry) {}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
