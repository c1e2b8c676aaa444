package stage

import (
	"errors"
	"fmt"
	"time"

	"consentline/internal/domain"
)

// ErrNotScheduled is returned for decisions without start and end times.
var ErrNotScheduled = errors.New("decision has no start/end time")

// Timeline is the subset of a decision the state machine reads.
type Timeline struct {
	Start           time.Time
	End             time.Time
	Layout          domain.StageLayout
	AmendmentAction *domain.AmendmentAction
}

// TimelineOf extracts the timeline of a launched decision.
func TimelineOf(d domain.Decision) (Timeline, error) {
	if d.StartTime == nil || d.EndTime == nil {
		return Timeline{}, ErrNotScheduled
	}
	layout := d.StageLayout
	if layout == "" {
		layout = domain.LayoutDistinct
	}
	return Timeline{
		Start:           *d.StartTime,
		End:             *d.EndTime,
		Layout:          layout,
		AmendmentAction: d.AmendmentAction,
	}, nil
}

// Current returns the stage that should be active at now.
func Current(t Timeline, now time.Time) (domain.Stage, error) {
	if !now.Before(t.End) {
		return domain.StageTerminee, nil
	}
	if t.AmendmentAction != nil {
		return domain.StageObjections, nil
	}
	windows, err := Windows(t.Start, t.End, t.Layout, now)
	if err != nil {
		return "", err
	}
	if now.Before(t.Start) {
		return windows[0].Stage, nil
	}
	for _, w := range windows {
		if w.IsActive {
			return w.Stage, nil
		}
	}
	return "", fmt.Errorf("no stage window contains %s", now.Format(time.RFC3339))
}

// Transitioned reports whether the computed stage differs from the persisted
// one. A missing persisted stage always counts as a transition.
func Transitioned(persisted *domain.Stage, computed domain.Stage) bool {
	if persisted == nil {
		return true
	}
	return *persisted != computed
}

// Order returns the position of a stage in the forward order of stages.
func Order(s domain.Stage) int {
	switch s {
	case domain.StageClarifications, domain.StageClarifavis:
		return 0
	case domain.StageAvis:
		return 1
	case domain.StageAmendements:
		return 2
	case domain.StageObjections:
		return 3
	case domain.StageTerminee:
		return 4
	default:
		return -1
	}
}

// Forward reports whether moving from persisted to next never goes back past
// a stage already exited.
func Forward(persisted *domain.Stage, next domain.Stage) bool {
	if persisted == nil {
		return true
	}
	return Order(next) >= Order(*persisted)
}
