package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"consentline/internal/domain"
	"consentline/internal/events"
	"consentline/internal/metrics"
	"consentline/internal/notify"
	"consentline/internal/repo"
	"consentline/internal/result"
	"consentline/internal/stage"
)

// Closure reasons recorded in the decision log and closure notifications.
const (
	ReasonEarly         = "early"
	ReasonParticipation = "participation"
	ReasonDeadline      = "deadline"
	ReasonWithdrawn     = "withdrawn"
	ReasonManual        = "manual"
)

const defaultDecisionTimeout = 30 * time.Second

var errNotOpen = errors.New("decision is not open")

// ScanSummary reports one pass of the closure scheduler. Notifications
// counts requests to the notifier; failed ones also appear in Failures.
type ScanSummary struct {
	Processed     int           `json:"processed"`
	Transitions   int           `json:"transitions"`
	Notifications int           `json:"notifications"`
	Closures      int           `json:"closures"`
	Skipped       int           `json:"skipped"`
	Failures      []ScanFailure `json:"failures"`
	Canceled      bool          `json:"canceled"`
}

type ScanFailure struct {
	DecisionID string `json:"decision_id"`
	Error      string `json:"error"`
}

// snapshot is everything read about a decision inside one transaction.
type snapshot struct {
	Decision     domain.Decision
	Participants []domain.Participant
	Ballots      []domain.Ballot
	Proposals    []domain.Proposal
}

func (s snapshot) input() result.Input {
	d := s.Decision
	return result.Input{
		Algorithm:       d.Algorithm,
		Participants:    len(s.Participants),
		Ballots:         s.Ballots,
		Proposals:       s.Proposals,
		AmendmentAction: d.AmendmentAction,
		Scale:           d.NuancedScale,
		WinnerCount:     d.WinnerCount,
	}
}

// currentBallots keeps ballots cast since the decision was (re)opened, so a
// reopened decision does not close again on its previous turnout.
func (s snapshot) currentBallots() []domain.Ballot {
	if s.Decision.StartTime == nil {
		return s.Ballots
	}
	start := *s.Decision.StartTime
	out := make([]domain.Ballot, 0, len(s.Ballots))
	for _, b := range s.Ballots {
		if !b.UpdatedAt.Before(start) {
			out = append(out, b)
		}
	}
	return out
}

func (s snapshot) participationComplete() bool {
	if s.Decision.Mode != domain.ModeInvited || len(s.Participants) == 0 {
		return false
	}
	voted := make(map[string]bool, len(s.Ballots))
	for _, b := range s.currentBallots() {
		if b.ParticipantID != nil {
			voted[*b.ParticipantID] = true
		}
	}
	for _, p := range s.Participants {
		if !p.HasVoted || !voted[p.ID] {
			return false
		}
	}
	return true
}

func (s snapshot) recipients(st domain.Stage) []string {
	if st == domain.StageAmendements {
		return []string{s.Decision.CreatorID}
	}
	out := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		if r := p.Recipient(); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// closurePlan is what one evaluation decided to write. At most one of
// transition and outcome is set.
type closurePlan struct {
	transition *domain.Stage
	outcome    *result.Outcome
	reason     string
	stage      *domain.Stage
}

func (p closurePlan) empty() bool {
	return p.transition == nil && p.outcome == nil
}

// planClosure decides, without side effects, whether a decision closes or
// changes stage at now.
func planClosure(s snapshot, now time.Time, manual bool) (closurePlan, error) {
	var p closurePlan
	d := s.Decision
	if d.Status != domain.StatusOpen {
		return p, nil
	}
	reason, err := closureReason(s, now, manual)
	if err != nil {
		return p, err
	}
	if reason != "" {
		out, err := result.Compute(s.input())
		if err != nil {
			return p, fmt.Errorf("compute result: %w", err)
		}
		p.outcome = &out
		p.reason = reason
		if d.Algorithm == domain.AlgorithmConsent {
			terminee := domain.StageTerminee
			p.stage = &terminee
		}
		return p, nil
	}
	if d.Algorithm != domain.AlgorithmConsent {
		return p, nil
	}
	t, err := stage.TimelineOf(d)
	if err != nil {
		return p, err
	}
	current, err := stage.Current(t, now)
	if err != nil {
		return p, err
	}
	if current != domain.StageTerminee && stage.Transitioned(d.CurrentStage, current) && stage.Forward(d.CurrentStage, current) {
		p.transition = &current
	}
	return p, nil
}

func closureReason(s snapshot, now time.Time, manual bool) (string, error) {
	d := s.Decision
	if manual {
		return ReasonManual, nil
	}
	if d.Algorithm == domain.AlgorithmConsent && d.AmendmentAction != nil && *d.AmendmentAction == domain.AmendmentWithdrawn {
		return ReasonWithdrawn, nil
	}
	if d.Algorithm == domain.AlgorithmAdvisory && !d.BindingDeadline {
		return "", nil
	}
	if d.EndTime != nil && !now.Before(*d.EndTime) {
		return ReasonDeadline, nil
	}
	in := s.input()
	in.Ballots = s.currentBallots()
	_, early, err := result.EarlyClosure(in)
	if err != nil {
		return "", err
	}
	if early {
		return ReasonEarly, nil
	}
	if s.participationComplete() {
		return ReasonParticipation, nil
	}
	return "", nil
}

func (e Engine) loadSnapshot(ctx context.Context, q repo.Querier, id string) (snapshot, error) {
	var (
		s   snapshot
		err error
	)
	if s.Decision, err = e.Repo.GetDecision(ctx, q, id); err != nil {
		return s, err
	}
	if s.Participants, err = e.Repo.ListParticipants(ctx, q, id); err != nil {
		return s, fmt.Errorf("list participants: %w", err)
	}
	if s.Ballots, err = e.Repo.ListBallots(ctx, q, id); err != nil {
		return s, fmt.Errorf("list ballots: %w", err)
	}
	if s.Proposals, err = e.Repo.ListProposals(ctx, q, id); err != nil {
		return s, fmt.Errorf("list proposals: %w", err)
	}
	return s, nil
}

// effects are the post-commit consequences of one committed write.
type effects struct {
	decision     domain.Decision
	participants []domain.Participant
	actorID      string
	transition   *domain.Stage
	outcome      *result.Outcome
	reason       string
	now          time.Time
}

// applyPlan writes a plan with CAS updates inside tx.
func (e Engine) applyPlan(ctx context.Context, tx repo.Querier, s snapshot, p closurePlan, now time.Time, actorID string) (effects, error) {
	d := s.Decision
	fx := effects{decision: d, participants: s.Participants, actorID: actorID, now: now}
	switch {
	case p.outcome != nil:
		details, err := json.Marshal(p.outcome.Details)
		if err != nil {
			return fx, fmt.Errorf("marshal result details: %w", err)
		}
		err = e.Repo.CloseDecision(ctx, tx, repo.Closure{
			ID:              d.ID,
			ExpectedVersion: d.Version,
			Result:          p.outcome.Result,
			Details:         details,
			Stage:           p.stage,
			DecidedAt:       now,
		})
		if err != nil {
			return fx, err
		}
		fx.outcome = p.outcome
		fx.reason = p.reason
	case p.transition != nil:
		if err := e.Repo.UpdateStage(ctx, tx, d.ID, d.Version, d.CurrentStage, *p.transition, now); err != nil {
			return fx, err
		}
		fx.transition = p.transition
	}
	return fx, nil
}

// publish appends log entries and requests notifications for committed
// effects. It returns the number of notifications requested, failed
// deliveries included; the error reports the failure.
func (e Engine) publish(ctx context.Context, fx effects) (int, error) {
	d := fx.decision
	log := e.logger().With("module", "engine", "decision_id", d.ID)
	switch {
	case fx.outcome != nil:
		e.events().Append(ctx, events.Entry{
			DecisionID: d.ID,
			Type:       events.DecisionClosed,
			ActorID:    fx.actorID,
			OldValue:   string(domain.StatusOpen),
			NewValue:   string(fx.outcome.Result),
			Metadata:   map[string]any{"reason": fx.reason, "details": fx.outcome.Details},
		})
		log.Info("decision closed", "event", "closure.closed", "result", fx.outcome.Result, "reason", fx.reason)
		err := e.notifier().NotifyClosure(ctx, notify.Closure{
			DecisionID: d.ID,
			Result:     fx.outcome.Result,
			Reason:     fx.reason,
			DecidedAt:  fx.now,
		})
		if err != nil {
			log.Warn("closure notification failed", "event", "closure.notify_failed", "error", err)
			return 1, fmt.Errorf("notify closure: %w", err)
		}
		return 1, nil
	case fx.transition != nil:
		old := ""
		if d.CurrentStage != nil {
			old = string(*d.CurrentStage)
		}
		e.logField(ctx, d.ID, fx.actorID, "current_stage", old, string(*fx.transition))
		end := *d.EndTime
		if t, err := stage.TimelineOf(d); err == nil {
			if windows, err := stage.Windows(t.Start, t.End, t.Layout, fx.now); err == nil {
				if stageEnd, ok := stage.EndOf(windows, *fx.transition); ok {
					end = stageEnd
				}
			}
		}
		snap := snapshot{Decision: d, Participants: fx.participants}
		log.Info("stage changed", "event", "closure.stage_changed", "from", old, "to", *fx.transition)
		err := e.notifier().NotifyStageTransition(ctx, notify.StageTransition{
			DecisionID:   d.ID,
			Stage:        *fx.transition,
			Recipients:   snap.recipients(*fx.transition),
			StageEndTime: end,
		})
		if err != nil {
			log.Warn("stage notification failed", "event", "closure.notify_failed", "error", err)
			return 1, fmt.Errorf("notify stage transition: %w", err)
		}
		return 1, nil
	}
	return 0, nil
}

type closeRequest struct {
	manual  bool
	actorID string
}

// evaluation is the outcome of processing one decision.
type evaluation struct {
	Transitioned bool
	Closed       bool
	Result       domain.Result
	Reason       string
	Notified     int
	NotifyErr    error
}

// processDecision re-reads one decision in its own transaction, applies the
// closure plan with CAS writes, commits, then publishes. A decision that is
// no longer OPEN yields errNotOpen; a lost race yields repo.ErrConflict.
func (e Engine) processDecision(ctx context.Context, id string, now time.Time, req closeRequest) (evaluation, error) {
	var ev evaluation
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ev, err
	}
	defer tx.Rollback()

	snap, err := e.loadSnapshot(ctx, tx, id)
	if err != nil {
		return ev, err
	}
	if snap.Decision.Status != domain.StatusOpen {
		return ev, errNotOpen
	}
	plan, err := planClosure(snap, now, req.manual)
	if err != nil {
		return ev, err
	}
	if plan.empty() {
		return ev, nil
	}
	fx, err := e.applyPlan(ctx, tx, snap, plan, now, req.actorID)
	if err != nil {
		return ev, err
	}
	if err := tx.Commit(); err != nil {
		return ev, err
	}
	ev.Transitioned = fx.transition != nil
	if fx.outcome != nil {
		ev.Closed = true
		ev.Result = fx.outcome.Result
		ev.Reason = fx.reason
	}
	ev.Notified, ev.NotifyErr = e.publish(ctx, fx)
	return ev, nil
}

// evaluateAfterBallot runs the closure evaluation for a decision that just
// received a ballot. Losing the race to the scheduler is not an error.
func (e Engine) evaluateAfterBallot(ctx context.Context, id string) {
	_, err := e.processDecision(ctx, id, e.now(), closeRequest{})
	switch {
	case err == nil, errors.Is(err, errNotOpen), errors.Is(err, repo.ErrConflict):
	default:
		e.logger().Warn("closure evaluation failed", "event", "closure.evaluate_failed", "module", "engine",
			"decision_id", id, "error", err)
	}
}

func (e Engine) decisionTimeout() time.Duration {
	if t := e.config().Scheduler.DecisionTimeout.Std(); t > 0 {
		return t
	}
	return defaultDecisionTimeout
}

// RunClosureScan evaluates every OPEN decision once against a single clock
// reading. Per-decision errors are collected in the summary; cancellation
// stops the loop between decisions.
func (e Engine) RunClosureScan(ctx context.Context) (ScanSummary, error) {
	return e.runClosureScan(ctx, "scheduler")
}

// RunClosureScanFrom is RunClosureScan with a trigger label for metrics.
func (e Engine) RunClosureScanFrom(ctx context.Context, trigger string) (ScanSummary, error) {
	return e.runClosureScan(ctx, trigger)
}

func (e Engine) runClosureScan(ctx context.Context, trigger string) (ScanSummary, error) {
	summary := ScanSummary{Failures: []ScanFailure{}}
	now := e.now()
	log := e.logger().With("module", "engine", "layer", "closure")
	ids, err := e.Repo.ListOpenDecisionIDs(ctx, e.DB)
	if err != nil {
		return summary, fmt.Errorf("list open decisions: %w", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			summary.Canceled = true
			break
		}
		summary.Processed++
		dctx, cancel := context.WithTimeout(ctx, e.decisionTimeout())
		ev, err := e.processDecision(dctx, id, now, closeRequest{})
		cancel()
		switch {
		case errors.Is(err, errNotOpen), errors.Is(err, repo.ErrConflict):
			summary.Skipped++
			continue
		case err != nil:
			log.Warn("decision scan failed", "event", "closure.decision_failed", "decision_id", id, "error", err)
			summary.Failures = append(summary.Failures, ScanFailure{DecisionID: id, Error: err.Error()})
			continue
		}
		if ev.Transitioned {
			summary.Transitions++
		}
		if ev.Closed {
			summary.Closures++
		}
		summary.Notifications += ev.Notified
		if ev.NotifyErr != nil {
			summary.Failures = append(summary.Failures, ScanFailure{DecisionID: id, Error: ev.NotifyErr.Error()})
		}
	}
	if ctx.Err() != nil && summary.Processed < len(ids) {
		summary.Canceled = true
	}
	e.Metrics.RecordScan(ctx, trigger, metrics.Scan{
		Processed:     summary.Processed,
		Transitions:   summary.Transitions,
		Notifications: summary.Notifications,
		Closures:      summary.Closures,
		Skipped:       summary.Skipped,
		Failures:      len(summary.Failures),
	})
	log.Info("closure scan finished", "event", "closure.scan_finished", "trigger", trigger,
		"processed", summary.Processed, "transitions", summary.Transitions, "closures", summary.Closures,
		"skipped", summary.Skipped, "failures", len(summary.Failures), "canceled", summary.Canceled)
	return summary, nil
}
