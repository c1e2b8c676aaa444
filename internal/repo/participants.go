package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"consentline/internal/domain"
)

const participantColumns = `id,decision_id,user_id,invitee_email,has_voted,created_at`

func scanParticipant(row scanner) (domain.Participant, error) {
	var (
		p             domain.Participant
		user, invitee sql.NullString
		createdAt     string
	)
	err := row.Scan(&p.ID, &p.DecisionID, &user, &invitee, &p.HasVoted, &createdAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.UserID = stringPtr(user)
	p.InviteeEmail = stringPtr(invitee)
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return p, fmt.Errorf("participant %s created_at: %w", p.ID, err)
	}
	return p, nil
}

func (r Repo) InsertParticipant(ctx context.Context, q Querier, p domain.Participant) error {
	_, err := r.exec(ctx, q, `INSERT INTO participants(id,decision_id,user_id,invitee_email,has_voted,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.DecisionID, nullableStr(p.UserID), nullableStr(p.InviteeEmail), boolInt(p.HasVoted), formatTime(p.CreatedAt))
	return err
}

func (r Repo) DeleteParticipant(ctx context.Context, q Querier, decisionID, participantID string) error {
	res, err := r.exec(ctx, q, `DELETE FROM participants WHERE id=? AND decision_id=?`, participantID, decisionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetParticipant(ctx context.Context, q Querier, decisionID, participantID string) (domain.Participant, error) {
	return scanParticipant(r.queryRow(ctx, q, `SELECT `+participantColumns+` FROM participants WHERE id=? AND decision_id=?`,
		participantID, decisionID))
}

// FindParticipant resolves an identity (member user id or invitee email).
// The user id is tried first; the email is the fallback for invitees who
// later authenticate with an account.
func (r Repo) FindParticipant(ctx context.Context, q Querier, decisionID, userID, inviteeEmail string) (domain.Participant, error) {
	if userID != "" {
		p, err := scanParticipant(r.queryRow(ctx, q, `SELECT `+participantColumns+` FROM participants WHERE decision_id=? AND user_id=?`,
			decisionID, userID))
		if err == nil || !errors.Is(err, ErrNotFound) || inviteeEmail == "" {
			return p, err
		}
	}
	if inviteeEmail != "" {
		return scanParticipant(r.queryRow(ctx, q, `SELECT `+participantColumns+` FROM participants WHERE decision_id=? AND invitee_email=?`,
			decisionID, strings.ToLower(inviteeEmail)))
	}
	return domain.Participant{}, ErrNotFound
}

func (r Repo) ListParticipants(ctx context.Context, q Querier, decisionID string) ([]domain.Participant, error) {
	rows, err := r.query(ctx, q, `SELECT `+participantColumns+` FROM participants WHERE decision_id=? ORDER BY created_at, id`, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// MarkVoted sets has_voted; the flag is never cleared.
func (r Repo) MarkVoted(ctx context.Context, q Querier, participantID string) error {
	_, err := r.exec(ctx, q, `UPDATE participants SET has_voted=1 WHERE id=? AND has_voted=0`, participantID)
	return err
}
