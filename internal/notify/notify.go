// Package notify carries notification requests out of the engine. Delivery
// (templating, transport, retries) belongs to whoever consumes the intents.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"consentline/internal/domain"
)

const (
	KindStageTransition = "stage_transition"
	KindClosure         = "closure"
)

type StageTransition struct {
	DecisionID   string       `json:"decision_id"`
	Stage        domain.Stage `json:"stage"`
	Recipients   []string     `json:"recipients"`
	StageEndTime time.Time    `json:"stage_end_time"`
}

type Closure struct {
	DecisionID string        `json:"decision_id"`
	Result     domain.Result `json:"result"`
	Reason     string        `json:"reason,omitempty"`
	DecidedAt  time.Time     `json:"decided_at"`
}

// Notifier is the engine's notification port.
type Notifier interface {
	NotifyStageTransition(ctx context.Context, n StageTransition) error
	NotifyClosure(ctx context.Context, n Closure) error
}

// Intent is the wire form shared by the queue and webhook adapters.
type Intent struct {
	Kind         string        `json:"kind"`
	DecisionID   string        `json:"decision_id"`
	Stage        domain.Stage  `json:"stage,omitempty"`
	Recipients   []string      `json:"recipients,omitempty"`
	StageEndTime *time.Time    `json:"stage_end_time,omitempty"`
	Result       domain.Result `json:"result,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	DecidedAt    *time.Time    `json:"decided_at,omitempty"`
}

func transitionIntent(n StageTransition) Intent {
	end := n.StageEndTime.UTC()
	return Intent{Kind: KindStageTransition, DecisionID: n.DecisionID, Stage: n.Stage, Recipients: n.Recipients, StageEndTime: &end}
}

func closureIntent(n Closure) Intent {
	at := n.DecidedAt.UTC()
	return Intent{Kind: KindClosure, DecisionID: n.DecisionID, Result: n.Result, Reason: n.Reason, DecidedAt: &at}
}

// Log writes intents to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l Log) NotifyStageTransition(_ context.Context, n StageTransition) error {
	l.logger().Info("stage transition", "event", "notify.stage_transition", "module", "notify",
		"decision_id", n.DecisionID, "stage", n.Stage, "recipients", len(n.Recipients), "stage_end_time", n.StageEndTime)
	return nil
}

func (l Log) NotifyClosure(_ context.Context, n Closure) error {
	l.logger().Info("decision closed", "event", "notify.closure", "module", "notify",
		"decision_id", n.DecisionID, "result", n.Result, "reason", n.Reason)
	return nil
}

// Fanout forwards every request to all notifiers and joins their errors.
type Fanout []Notifier

func (f Fanout) NotifyStageTransition(ctx context.Context, n StageTransition) error {
	var errs []error
	for _, target := range f {
		if err := target.NotifyStageTransition(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) NotifyClosure(ctx context.Context, n Closure) error {
	var errs []error
	for _, target := range f {
		if err := target.NotifyClosure(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
