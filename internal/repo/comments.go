package repo

import (
	"context"
	"fmt"

	"consentline/internal/domain"
)

func (r Repo) InsertComment(ctx context.Context, q Querier, c domain.Comment) error {
	_, err := r.exec(ctx, q, `INSERT INTO comments(id,decision_id,kind,author_id,body,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.DecisionID, string(c.Kind), c.AuthorID, c.Body, formatTime(c.CreatedAt))
	return err
}

func (r Repo) ListComments(ctx context.Context, q Querier, decisionID string) ([]domain.Comment, error) {
	rows, err := r.query(ctx, q, `SELECT id,decision_id,kind,author_id,body,created_at FROM comments WHERE decision_id=? ORDER BY created_at, id`, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var (
			c               domain.Comment
			kind, createdAt string
		)
		if err := rows.Scan(&c.ID, &c.DecisionID, &kind, &c.AuthorID, &c.Body, &createdAt); err != nil {
			return nil, err
		}
		c.Kind = domain.CommentKind(kind)
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("comment %s created_at: %w", c.ID, err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
