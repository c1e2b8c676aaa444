package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"consentline/internal/domain"
)

const ballotColumns = `id,decision_id,voter_key,participant_id,fingerprint,kind,payload_json,withdrawn,created_at,updated_at`

func scanBallot(row scanner) (domain.Ballot, error) {
	var (
		b                    domain.Ballot
		participant, fp      sql.NullString
		kind, payload        string
		createdAt, updatedAt string
	)
	err := row.Scan(&b.ID, &b.DecisionID, &b.VoterKey, &participant, &fp, &kind, &payload, &b.Withdrawn, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	b.ParticipantID = stringPtr(participant)
	b.Fingerprint = stringPtr(fp)
	b.Kind = domain.Algorithm(kind)
	if err := json.Unmarshal([]byte(payload), &b.Payload); err != nil {
		return b, fmt.Errorf("ballot %s payload: %w", b.ID, err)
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return b, fmt.Errorf("ballot %s created_at: %w", b.ID, err)
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return b, fmt.Errorf("ballot %s updated_at: %w", b.ID, err)
	}
	return b, nil
}

func (r Repo) GetBallotByVoter(ctx context.Context, q Querier, decisionID, voterKey string) (domain.Ballot, error) {
	return scanBallot(r.queryRow(ctx, q, `SELECT `+ballotColumns+` FROM ballots WHERE decision_id=? AND voter_key=?`, decisionID, voterKey))
}

// UpsertBallot keeps exactly one row per (decision, voter key). The id and
// created_at of an existing row are preserved.
func (r Repo) UpsertBallot(ctx context.Context, q Querier, b domain.Ballot) error {
	payload, err := json.Marshal(b.Payload)
	if err != nil {
		return fmt.Errorf("marshal ballot payload: %w", err)
	}
	_, err = r.exec(ctx, q, `INSERT INTO ballots(id,decision_id,voter_key,participant_id,fingerprint,kind,payload_json,withdrawn,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(decision_id, voter_key) DO UPDATE SET
  kind=excluded.kind,
  payload_json=excluded.payload_json,
  withdrawn=excluded.withdrawn,
  updated_at=excluded.updated_at`,
		b.ID, b.DecisionID, b.VoterKey, nullableStr(b.ParticipantID), nullableStr(b.Fingerprint), string(b.Kind),
		string(payload), boolInt(b.Withdrawn), formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	return err
}

func (r Repo) ListBallots(ctx context.Context, q Querier, decisionID string) ([]domain.Ballot, error) {
	rows, err := r.query(ctx, q, `SELECT `+ballotColumns+` FROM ballots WHERE decision_id=? ORDER BY voter_key`, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Ballot
	for rows.Next() {
		b, err := scanBallot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
