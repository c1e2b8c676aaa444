package repo

import (
	"context"
	"fmt"

	"consentline/internal/domain"
)

func (r Repo) InsertProposal(ctx context.Context, q Querier, p domain.Proposal) error {
	_, err := r.exec(ctx, q, `INSERT INTO proposals(id,decision_id,title,position,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.DecisionID, p.Title, p.Position, formatTime(p.CreatedAt))
	return err
}

func (r Repo) ListProposals(ctx context.Context, q Querier, decisionID string) ([]domain.Proposal, error) {
	rows, err := r.query(ctx, q, `SELECT id,decision_id,title,position,created_at FROM proposals WHERE decision_id=? ORDER BY position, id`, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		var (
			p         domain.Proposal
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.DecisionID, &p.Title, &p.Position, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("proposal %s created_at: %w", p.ID, err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
