package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"consentline/internal/domain"
)

// InsertLogEntry appends one decision log row. Rows are never updated.
func (r Repo) InsertLogEntry(ctx context.Context, q Querier, e domain.LogEntry) error {
	var meta any
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal log metadata: %w", err)
		}
		meta = string(data)
	}
	_, err := r.exec(ctx, q, `INSERT INTO decision_events(decision_id,event_type,actor_id,old_value,new_value,metadata_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		e.DecisionID, e.EventType, nullableStr(e.ActorID), nullableStr(e.OldValue), nullableStr(e.NewValue), meta, formatTime(e.CreatedAt))
	return err
}

// ListLogEntries returns a decision's history in insertion order.
func (r Repo) ListLogEntries(ctx context.Context, q Querier, decisionID string, limit int) ([]domain.LogEntry, error) {
	query := `SELECT id,decision_id,event_type,actor_id,old_value,new_value,metadata_json,created_at FROM decision_events WHERE decision_id=? ORDER BY id`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	return r.listLogEntries(ctx, q, query, decisionID)
}

// LatestLogEntries returns the newest entries across decisions, newest first.
func (r Repo) LatestLogEntries(ctx context.Context, q Querier, limit int) ([]domain.LogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.listLogEntries(ctx, q, fmt.Sprintf(`SELECT id,decision_id,event_type,actor_id,old_value,new_value,metadata_json,created_at FROM decision_events ORDER BY id DESC LIMIT %d`, limit))
}

func (r Repo) listLogEntries(ctx context.Context, q Querier, query string, args ...any) ([]domain.LogEntry, error) {
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LogEntry
	for rows.Next() {
		var (
			e                       domain.LogEntry
			actor, oldV, newV, meta sql.NullString
			createdAt               string
		)
		if err := rows.Scan(&e.ID, &e.DecisionID, &e.EventType, &actor, &oldV, &newV, &meta, &createdAt); err != nil {
			return nil, err
		}
		e.ActorID = stringPtr(actor)
		e.OldValue = stringPtr(oldV)
		e.NewValue = stringPtr(newV)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("log entry %d metadata: %w", e.ID, err)
			}
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("log entry %d created_at: %w", e.ID, err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
