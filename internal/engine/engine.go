package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"consentline/internal/config"
	"consentline/internal/db"
	"consentline/internal/domain"
	"consentline/internal/engine/auth"
	"consentline/internal/events"
	"consentline/internal/metrics"
	"consentline/internal/notify"
	"consentline/internal/repo"
	"consentline/internal/result"
	"consentline/internal/stage"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Log
	Notifier notify.Notifier
	Config   *config.Config
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) Engine {
	r := repo.Repo{DB: conn, Dialect: dialect}
	return Engine{
		DB:       conn,
		Repo:     r,
		Events:   events.Writer{Repo: r},
		Notifier: notify.Log{},
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) events() events.Log {
	if e.Events != nil {
		return e.Events
	}
	return events.Discard{}
}

func (e Engine) notifier() notify.Notifier {
	if e.Notifier != nil {
		return e.Notifier
	}
	return notify.Log{Logger: e.Logger}
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// CreateOptions are parameters for creating a decision.
type CreateOptions struct {
	Title       string
	Description string
	Algorithm   domain.Algorithm
	Mode        domain.Mode
	Layout      domain.StageLayout
	Scale       int
	WinnerCount int
	// BindingDeadline applies to ADVISORY only; nil takes the configured default.
	BindingDeadline *bool
	Proposals       []string
	ActorID         string
}

func (e Engine) CreateDecision(ctx context.Context, opts CreateOptions) (domain.Decision, error) {
	if opts.ActorID == "" {
		return domain.Decision{}, auth.ForbiddenError{Reason: "actor required"}
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Decision{}, invalidField("title", "is required")
	}
	if !opts.Algorithm.Valid() {
		return domain.Decision{}, invalidField("algorithm", "unknown algorithm %q", opts.Algorithm)
	}
	if opts.Mode == "" {
		opts.Mode = domain.ModeInvited
	}
	if !opts.Mode.Valid() {
		return domain.Decision{}, invalidField("mode", "unknown mode %q", opts.Mode)
	}
	cfg := e.config()
	now := e.now()
	d := domain.Decision{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(opts.Description),
		Algorithm:   opts.Algorithm,
		Mode:        opts.Mode,
		Status:      domain.StatusDraft,
		CreatorID:   opts.ActorID,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	switch opts.Algorithm {
	case domain.AlgorithmConsent:
		d.StageLayout = opts.Layout
		if d.StageLayout == "" {
			d.StageLayout = cfg.Decisions.DefaultLayout
		}
		if d.StageLayout == "" {
			d.StageLayout = domain.LayoutDistinct
		}
		if !d.StageLayout.Valid() {
			return domain.Decision{}, invalidField("stage_layout", "must be MERGED or DISTINCT")
		}
	case domain.AlgorithmNuanced:
		d.NuancedScale = opts.Scale
		if d.NuancedScale == 0 {
			d.NuancedScale = cfg.Decisions.DefaultScale
		}
		if !result.ValidScale(d.NuancedScale) {
			return domain.Decision{}, invalidField("nuanced_scale", "must be 3, 5 or 7")
		}
		d.WinnerCount = opts.WinnerCount
		if d.WinnerCount == 0 {
			d.WinnerCount = 1
		}
		if d.WinnerCount < 1 {
			return domain.Decision{}, invalidField("winner_count", "must be at least 1")
		}
	case domain.AlgorithmAdvisory:
		d.BindingDeadline = cfg.Decisions.AdvisoryBinding
		if opts.BindingDeadline != nil {
			d.BindingDeadline = *opts.BindingDeadline
		}
	case domain.AlgorithmConsensus, domain.AlgorithmMajority, domain.AlgorithmSupermajority:
	}
	if len(opts.Proposals) > 0 && !d.Algorithm.UsesProposals() {
		return domain.Decision{}, invalidField("proposals", "%s decisions have no proposals", d.Algorithm)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertDecision(ctx, tx, d); err != nil {
		return domain.Decision{}, fmt.Errorf("insert decision: %w", err)
	}
	for i, title := range opts.Proposals {
		title = strings.TrimSpace(title)
		if title == "" {
			return domain.Decision{}, invalidField("proposals", "proposal %d has no title", i+1)
		}
		p := domain.Proposal{ID: uuid.NewString(), DecisionID: d.ID, Title: title, Position: i, CreatedAt: now}
		if err := e.Repo.InsertProposal(ctx, tx, p); err != nil {
			return domain.Decision{}, fmt.Errorf("insert proposal: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, err
	}
	e.events().Append(ctx, events.Entry{
		DecisionID: d.ID,
		Type:       events.DecisionCreated,
		ActorID:    opts.ActorID,
		NewValue:   string(d.Status),
		Metadata:   map[string]any{"algorithm": d.Algorithm, "mode": d.Mode, "proposals": len(opts.Proposals)},
	})
	return d, nil
}

func (e Engine) GetDecision(ctx context.Context, id string) (domain.Decision, error) {
	return e.Repo.GetDecision(ctx, e.DB, id)
}

func (e Engine) ListDecisions(ctx context.Context, f repo.DecisionFilter) ([]domain.Decision, error) {
	return e.Repo.ListDecisions(ctx, e.DB, f)
}

func (e Engine) ListParticipants(ctx context.Context, decisionID string) ([]domain.Participant, error) {
	if _, err := e.Repo.GetDecision(ctx, e.DB, decisionID); err != nil {
		return nil, err
	}
	return e.Repo.ListParticipants(ctx, e.DB, decisionID)
}

func (e Engine) ListProposals(ctx context.Context, decisionID string) ([]domain.Proposal, error) {
	if _, err := e.Repo.GetDecision(ctx, e.DB, decisionID); err != nil {
		return nil, err
	}
	return e.Repo.ListProposals(ctx, e.DB, decisionID)
}

// ListBallots returns the ballots of a decision. Anonymous fingerprints are
// not exposed.
func (e Engine) ListBallots(ctx context.Context, decisionID string) ([]domain.Ballot, error) {
	if _, err := e.Repo.GetDecision(ctx, e.DB, decisionID); err != nil {
		return nil, err
	}
	ballots, err := e.Repo.ListBallots(ctx, e.DB, decisionID)
	if err != nil {
		return nil, err
	}
	for i := range ballots {
		ballots[i].Fingerprint = nil
	}
	return ballots, nil
}

func (e Engine) DecisionLog(ctx context.Context, decisionID string, limit int) ([]domain.LogEntry, error) {
	return e.Repo.ListLogEntries(ctx, e.DB, decisionID, limit)
}

// Timeline returns the stage windows of a launched CONSENT decision relative
// to the engine clock.
func (e Engine) Timeline(ctx context.Context, decisionID string) ([]stage.Window, error) {
	d, err := e.Repo.GetDecision(ctx, e.DB, decisionID)
	if err != nil {
		return nil, err
	}
	if d.Algorithm != domain.AlgorithmConsent {
		return nil, invalidState("%s decisions have no stages", d.Algorithm)
	}
	t, err := stage.TimelineOf(d)
	if err != nil {
		return nil, invalidState("decision has not been launched")
	}
	return stage.Windows(t.Start, t.End, t.Layout, e.now())
}

// UpdateOptions edits a DRAFT decision. Nil fields are left unchanged.
type UpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	ActorID     string
}

func (e Engine) UpdateDecision(ctx context.Context, opts UpdateOptions) (domain.Decision, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDecision(ctx, tx, opts.ID)
	if err != nil {
		return domain.Decision{}, err
	}
	if err := auth.RequireCreator(d, opts.ActorID); err != nil {
		return domain.Decision{}, err
	}
	if d.Status != domain.StatusDraft {
		return domain.Decision{}, invalidState("only DRAFT decisions can be edited")
	}
	before := d
	if opts.Title != nil {
		d.Title = strings.TrimSpace(*opts.Title)
		if d.Title == "" {
			return domain.Decision{}, invalidField("title", "is required")
		}
	}
	if opts.Description != nil {
		d.Description = strings.TrimSpace(*opts.Description)
	}
	now := e.now()
	if err := e.Repo.UpdateDraft(ctx, tx, d.ID, d.Version, d.Title, d.Description, now); err != nil {
		return domain.Decision{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, err
	}
	d.Version++
	d.UpdatedAt = now
	if before.Title != d.Title {
		e.logField(ctx, d.ID, opts.ActorID, "title", before.Title, d.Title)
	}
	if before.Description != d.Description {
		e.logField(ctx, d.ID, opts.ActorID, "description", before.Description, d.Description)
	}
	return d, nil
}

func (e Engine) logField(ctx context.Context, decisionID, actorID, field, oldValue, newValue string) {
	e.events().Append(ctx, events.Entry{
		DecisionID: decisionID,
		Type:       events.DecisionFieldUpdated,
		ActorID:    actorID,
		OldValue:   oldValue,
		NewValue:   newValue,
		Metadata:   map[string]any{"field": field},
	})
}

// DeleteDraft removes a DRAFT decision and everything attached to it except
// its log entries.
func (e Engine) DeleteDraft(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDecision(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := auth.RequireCreator(d, actorID); err != nil {
		return err
	}
	if d.Status != domain.StatusDraft {
		return invalidState("only DRAFT decisions can be deleted")
	}
	if err := e.Repo.DeleteDraft(ctx, tx, id, d.Version); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.events().Append(ctx, events.Entry{
		DecisionID: id,
		Type:       events.DecisionStatusChanged,
		ActorID:    actorID,
		OldValue:   string(domain.StatusDraft),
		NewValue:   "DELETED",
	})
	return nil
}

// ParticipantOptions identify a participant by member user id or invitee
// email, never both.
type ParticipantOptions struct {
	DecisionID   string
	UserID       string
	InviteeEmail string
	ActorID      string
}

func (e Engine) AddParticipant(ctx context.Context, opts ParticipantOptions) (domain.Participant, error) {
	userID := strings.TrimSpace(opts.UserID)
	email := strings.ToLower(strings.TrimSpace(opts.InviteeEmail))
	switch {
	case userID == "" && email == "":
		return domain.Participant{}, invalidField("user_id", "a user id or an invitee email is required")
	case userID != "" && email != "":
		return domain.Participant{}, invalidField("invitee_email", "set either a user id or an invitee email")
	case email != "":
		if _, err := mail.ParseAddress(email); err != nil {
			return domain.Participant{}, invalidField("invitee_email", "not an email address")
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Participant{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDecision(ctx, tx, opts.DecisionID)
	if err != nil {
		return domain.Participant{}, err
	}
	if err := auth.RequireCreator(d, opts.ActorID); err != nil {
		return domain.Participant{}, err
	}
	if d.Status != domain.StatusDraft && d.Status != domain.StatusOpen {
		return domain.Participant{}, invalidState("participants can only be added to DRAFT or OPEN decisions")
	}
	if _, err := e.Repo.FindParticipant(ctx, tx, d.ID, userID, email); err == nil {
		return domain.Participant{}, invalidState("participant already added")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Participant{}, err
	}
	p := domain.Participant{
		ID:         uuid.NewString(),
		DecisionID: d.ID,
		CreatedAt:  e.now(),
	}
	if userID != "" {
		p.UserID = &userID
	} else {
		p.InviteeEmail = &email
	}
	if err := e.Repo.InsertParticipant(ctx, tx, p); err != nil {
		return domain.Participant{}, fmt.Errorf("insert participant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Participant{}, err
	}
	e.events().Append(ctx, events.Entry{
		DecisionID: d.ID,
		Type:       events.ParticipantAdded,
		ActorID:    opts.ActorID,
		NewValue:   p.Recipient(),
		Metadata:   map[string]any{"participant_id": p.ID},
	})
	return p, nil
}

func (e Engine) RemoveParticipant(ctx context.Context, decisionID, participantID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDecision(ctx, tx, decisionID)
	if err != nil {
		return err
	}
	if err := auth.RequireCreator(d, actorID); err != nil {
		return err
	}
	if d.Status != domain.StatusDraft {
		return invalidState("participants can only be removed from DRAFT decisions")
	}
	p, err := e.Repo.GetParticipant(ctx, tx, decisionID, participantID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteParticipant(ctx, tx, decisionID, participantID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.events().Append(ctx, events.Entry{
		DecisionID: decisionID,
		Type:       events.ParticipantRemoved,
		ActorID:    actorID,
		OldValue:   p.Recipient(),
		Metadata:   map[string]any{"participant_id": p.ID},
	})
	return nil
}

func (e Engine) AddProposal(ctx context.Context, decisionID, title, actorID string) (domain.Proposal, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Proposal{}, invalidField("title", "is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDecision(ctx, tx, decisionID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := auth.RequireCreator(d, actorID); err != nil {
		return domain.Proposal{}, err
	}
	if !d.Algorithm.UsesProposals() {
		return domain.Proposal{}, invalidField("algorithm", "%s decisions have no proposals", d.Algorithm)
	}
	if d.Status != domain.StatusDraft {
		return domain.Proposal{}, invalidState("proposals can only be added to DRAFT decisions")
	}
	existing, err := e.Repo.ListProposals(ctx, tx, decisionID)
	if err != nil {
		return domain.Proposal{}, err
	}
	p := domain.Proposal{ID: uuid.NewString(), DecisionID: decisionID, Title: title, Position: len(existing), CreatedAt: e.now()}
	if err := e.Repo.InsertProposal(ctx, tx, p); err != nil {
		return domain.Proposal{}, fmt.Errorf("insert proposal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	e.events().Append(ctx, events.Entry{
		DecisionID: decisionID,
		Type:       events.DecisionFieldUpdated,
		ActorID:    actorID,
		NewValue:   title,
		Metadata:   map[string]any{"field": "proposals", "proposal_id": p.ID},
	})
	return p, nil
}

// LaunchDecision opens a DRAFT decision for voting from now until end.
func (e Engine) LaunchDecision(ctx context.Context, id string, end time.Time, actorID string) (domain.Decision, error) {
	now := e.now()
	end = end.UTC()
	if !end.After(now) {
		return domain.Decision{}, invalidField("end_time", "must be in the future")
	}
	if minimum := e.config().Decisions.MinDuration.Std(); minimum > 0 && end.Sub(now) < minimum {
		return domain.Decision{}, invalidField("end_time", "voting must last at least %s", minimum)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDecision(ctx, tx, id)
	if err != nil {
		return domain.Decision{}, err
	}
	if err := auth.RequireCreator(d, actorID); err != nil {
		return domain.Decision{}, err
	}
	if d.Status != domain.StatusDraft {
		return domain.Decision{}, invalidState("only DRAFT decisions can be launched")
	}
	participants, err := e.Repo.ListParticipants(ctx, tx, id)
	if err != nil {
		return domain.Decision{}, err
	}
	if d.Mode == domain.ModeInvited && len(participants) == 0 {
		return domain.Decision{}, invalidState("invite at least one participant before launching")
	}
	if d.Algorithm.UsesProposals() {
		proposals, err := e.Repo.ListProposals(ctx, tx, id)
		if err != nil {
			return domain.Decision{}, err
		}
		if len(proposals) < 2 {
			return domain.Decision{}, invalidState("%s decisions need at least two proposals", d.Algorithm)
		}
	}
	var first *domain.Stage
	if d.Algorithm == domain.AlgorithmConsent {
		s, err := stage.First(d.StageLayout)
		if err != nil {
			return domain.Decision{}, err
		}
		first = &s
	}
	if err := e.Repo.Launch(ctx, tx, id, d.Version, now, end, first, now); err != nil {
		return domain.Decision{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, err
	}
	d.Status = domain.StatusOpen
	d.StartTime, d.EndTime = &now, &end
	d.Version++
	d.UpdatedAt = now

	e.events().Append(ctx, events.Entry{
		DecisionID: id,
		Type:       events.DecisionLaunched,
		ActorID:    actorID,
		OldValue:   string(domain.StatusDraft),
		NewValue:   string(domain.StatusOpen),
		Metadata:   map[string]any{"start_time": now, "end_time": end},
	})
	if first != nil {
		e.publish(ctx, effects{decision: d, participants: participants, actorID: actorID, transition: first, now: now})
	}
	d.CurrentStage = first
	return d, nil
}

// AmendmentOptions is the creator's decision at the end of AMENDEMENTS.
// Title and Description carry the amended proposal and are only accepted
// with AMENDED; nil fields are left unchanged.
type AmendmentOptions struct {
	ID          string
	Action      domain.AmendmentAction
	Title       *string
	Description *string
	ActorID     string
}

// SetAmendmentAction records what the creator did during AMENDEMENTS and
// moves a CONSENT decision on: to OBJECTIONS, or straight to closure when the
// proposal is withdrawn.
func (e Engine) SetAmendmentAction(ctx context.Context, opts AmendmentOptions) (domain.Decision, error) {
	id, action, actorID := opts.ID, opts.Action, opts.ActorID
	if !action.Valid() {
		return domain.Decision{}, invalidField("action", "must be AMENDED, KEPT or WITHDRAWN")
	}
	if action != domain.AmendmentAmended && (opts.Title != nil || opts.Description != nil) {
		return domain.Decision{}, invalidField("action", "only AMENDED accepts a new title or description")
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, err
	}
	defer tx.Rollback()

	snap, err := e.loadSnapshot(ctx, tx, id)
	if err != nil {
		return domain.Decision{}, err
	}
	d := snap.Decision
	if d.Algorithm != domain.AlgorithmConsent {
		return domain.Decision{}, invalidState("amendments only exist for CONSENT decisions")
	}
	if d.Status != domain.StatusOpen {
		return domain.Decision{}, invalidState("decision is not open")
	}
	if d.AmendmentAction != nil {
		return domain.Decision{}, invalidState("amendment action already recorded as %s", *d.AmendmentAction)
	}
	if err := auth.RequireCreator(d, actorID); err != nil {
		return domain.Decision{}, err
	}
	t, err := stage.TimelineOf(d)
	if err != nil {
		return domain.Decision{}, err
	}
	current, err := stage.Current(t, now)
	if err != nil {
		return domain.Decision{}, err
	}
	if !stage.CanAmend(current, actorID, d.CreatorID) {
		return domain.Decision{}, auth.ForbiddenError{Reason: fmt.Sprintf("amendments are only possible during the AMENDEMENTS stage (current stage: %s)", current)}
	}
	amended := d
	if opts.Title != nil {
		amended.Title = strings.TrimSpace(*opts.Title)
		if amended.Title == "" {
			return domain.Decision{}, invalidField("title", "is required")
		}
	}
	if opts.Description != nil {
		amended.Description = strings.TrimSpace(*opts.Description)
	}
	if err := e.Repo.SetAmendmentAction(ctx, tx, repo.Amendment{
		ID:              id,
		ExpectedVersion: d.Version,
		Action:          action,
		Title:           amended.Title,
		Description:     amended.Description,
		Stage:           domain.StageObjections,
		Now:             now,
	}); err != nil {
		return domain.Decision{}, err
	}
	if action == domain.AmendmentWithdrawn {
		next, err := e.loadSnapshot(ctx, tx, id)
		if err != nil {
			return domain.Decision{}, err
		}
		plan, err := planClosure(next, now, false)
		if err != nil {
			return domain.Decision{}, err
		}
		fx, err := e.applyPlan(ctx, tx, next, plan, now, actorID)
		if err != nil {
			return domain.Decision{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Decision{}, err
		}
		e.logField(ctx, id, actorID, "amendment_action", "", string(action))
		e.publish(ctx, fx)
		return e.Repo.GetDecision(ctx, e.DB, id)
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, err
	}
	e.logField(ctx, id, actorID, "amendment_action", "", string(action))
	if amended.Title != d.Title {
		e.logField(ctx, id, actorID, "title", d.Title, amended.Title)
	}
	if amended.Description != d.Description {
		e.logField(ctx, id, actorID, "description", d.Description, amended.Description)
	}
	objections := domain.StageObjections
	e.publish(ctx, effects{decision: d, participants: snap.Participants, actorID: actorID, transition: &objections, now: now})
	return e.Repo.GetDecision(ctx, e.DB, id)
}

// CloseDecision closes an OPEN decision on the creator's request, computing
// the result the same way a deadline closure does.
func (e Engine) CloseDecision(ctx context.Context, id, actorID string) (domain.Decision, error) {
	d, err := e.Repo.GetDecision(ctx, e.DB, id)
	if err != nil {
		return domain.Decision{}, err
	}
	if err := auth.RequireCreator(d, actorID); err != nil {
		return domain.Decision{}, err
	}
	if d.Status != domain.StatusOpen {
		return domain.Decision{}, invalidState("decision is not open")
	}
	ev, err := e.processDecision(ctx, id, e.now(), closeRequest{manual: true, actorID: actorID})
	if err != nil {
		if errors.Is(err, repo.ErrConflict) || errors.Is(err, errNotOpen) {
			return domain.Decision{}, invalidState("decision was closed concurrently")
		}
		return domain.Decision{}, err
	}
	if !ev.Closed {
		return domain.Decision{}, invalidState("decision could not be closed")
	}
	return e.Repo.GetDecision(ctx, e.DB, id)
}

// ReopenDecision returns a CLOSED decision to voting until end. Ballots are
// kept; the result, decided_at, stage and amendment action are cleared.
func (e Engine) ReopenDecision(ctx context.Context, id string, end time.Time, actorID string) (domain.Decision, error) {
	now := e.now()
	end = end.UTC()
	if !end.After(now) {
		return domain.Decision{}, invalidField("end_time", "must be in the future")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDecision(ctx, tx, id)
	if err != nil {
		return domain.Decision{}, err
	}
	if err := auth.RequireCreator(d, actorID); err != nil {
		return domain.Decision{}, err
	}
	if d.Status != domain.StatusClosed {
		return domain.Decision{}, invalidState("only CLOSED decisions can be reopened")
	}
	if err := e.Repo.Reopen(ctx, tx, id, d.Version, now, end, now); err != nil {
		return domain.Decision{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, err
	}
	old := ""
	if d.Result != nil {
		old = string(*d.Result)
	}
	e.events().Append(ctx, events.Entry{
		DecisionID: id,
		Type:       events.DecisionReopened,
		ActorID:    actorID,
		OldValue:   old,
		NewValue:   string(domain.StatusOpen),
		Metadata:   map[string]any{"end_time": end},
	})
	return e.Repo.GetDecision(ctx, e.DB, id)
}

// SetStatus moves a decided decision through its post-closure statuses.
func (e Engine) SetStatus(ctx context.Context, id string, to domain.Status, actorID string) (domain.Decision, error) {
	if !to.Valid() {
		return domain.Decision{}, invalidField("status", "unknown status %q", to)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDecision(ctx, tx, id)
	if err != nil {
		return domain.Decision{}, err
	}
	if err := auth.RequireCreator(d, actorID); err != nil {
		return domain.Decision{}, err
	}
	if err := ensureStatusTransition(d.Status, to); err != nil {
		return domain.Decision{}, err
	}
	now := e.now()
	if err := e.Repo.UpdateStatus(ctx, tx, id, d.Version, d.Status, to, now); err != nil {
		return domain.Decision{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, err
	}
	e.events().Append(ctx, events.Entry{
		DecisionID: id,
		Type:       events.DecisionStatusChanged,
		ActorID:    actorID,
		OldValue:   string(d.Status),
		NewValue:   string(to),
	})
	d.Status = to
	d.Version++
	d.UpdatedAt = now
	return d, nil
}

func ensureStatusTransition(from, to domain.Status) error {
	switch from {
	case domain.StatusClosed:
		if to == domain.StatusImplemented || to == domain.StatusArchived {
			return nil
		}
	case domain.StatusImplemented:
		if to == domain.StatusArchived {
			return nil
		}
	case domain.StatusDraft, domain.StatusOpen, domain.StatusArchived:
	}
	return invalidState("invalid decision status transition %s -> %s", from, to)
}
