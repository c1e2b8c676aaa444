package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"consentline/internal/domain"
	"consentline/internal/engine/auth"
	"consentline/internal/events"
	"consentline/internal/repo"
	"consentline/internal/stage"
)

type CommentOptions struct {
	DecisionID string
	Kind       domain.CommentKind
	Body       string
	ActorID    string
	// InviteeEmail identifies invitees added by email, as in BallotInput.
	InviteeEmail string
}

// PostComment adds a comment to an OPEN decision. On CONSENT decisions
// clarification questions and opinions are limited to their stages.
func (e Engine) PostComment(ctx context.Context, opts CommentOptions) (domain.Comment, error) {
	if opts.ActorID == "" {
		return domain.Comment{}, auth.ForbiddenError{Reason: "actor required"}
	}
	if opts.Kind == "" {
		opts.Kind = domain.CommentGeneral
	}
	if !opts.Kind.Valid() {
		return domain.Comment{}, invalidField("kind", "must be CLARIFICATION, OPINION or GENERAL")
	}
	body := strings.TrimSpace(opts.Body)
	if body == "" {
		return domain.Comment{}, invalidField("body", "is required")
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDecision(ctx, tx, opts.DecisionID)
	if err != nil {
		return domain.Comment{}, err
	}
	if d.Status != domain.StatusOpen {
		return domain.Comment{}, invalidState("comments are only open while the decision is OPEN")
	}
	if d.Mode == domain.ModeInvited && !d.IsCreator(opts.ActorID) {
		if _, err := e.Repo.FindParticipant(ctx, tx, d.ID, opts.ActorID, strings.ToLower(strings.TrimSpace(opts.InviteeEmail))); errors.Is(err, repo.ErrNotFound) {
			return domain.Comment{}, auth.ForbiddenError{Reason: "you are not a participant of this decision"}
		} else if err != nil {
			return domain.Comment{}, err
		}
	}
	if d.Algorithm == domain.AlgorithmConsent && opts.Kind != domain.CommentGeneral {
		t, err := stage.TimelineOf(d)
		if err != nil {
			return domain.Comment{}, err
		}
		current, err := stage.Current(t, now)
		if err != nil {
			return domain.Comment{}, err
		}
		switch opts.Kind {
		case domain.CommentClarification:
			if !stage.CanAskClarification(current) {
				return domain.Comment{}, auth.ForbiddenError{Reason: fmt.Sprintf(
					"clarification questions are closed (current stage: %s)", current)}
			}
		case domain.CommentOpinion:
			if !stage.CanGiveOpinion(current) {
				return domain.Comment{}, auth.ForbiddenError{Reason: fmt.Sprintf(
					"opinions are only open during the AVIS or CLARIFAVIS stage (current stage: %s)", current)}
			}
		case domain.CommentGeneral:
		}
	}
	c := domain.Comment{
		ID:         uuid.NewString(),
		DecisionID: d.ID,
		Kind:       opts.Kind,
		AuthorID:   opts.ActorID,
		Body:       body,
		CreatedAt:  now,
	}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	e.events().Append(ctx, events.Entry{
		DecisionID: d.ID,
		Type:       events.CommentAdded,
		ActorID:    opts.ActorID,
		NewValue:   string(c.Kind),
		Metadata:   map[string]any{"comment_id": c.ID},
	})
	return c, nil
}

func (e Engine) ListComments(ctx context.Context, decisionID string) ([]domain.Comment, error) {
	if _, err := e.Repo.GetDecision(ctx, e.DB, decisionID); err != nil {
		return nil, err
	}
	return e.Repo.ListComments(ctx, e.DB, decisionID)
}
