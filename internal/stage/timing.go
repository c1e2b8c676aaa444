// Package stage partitions a CONSENT decision's voting window into named
// sub-stages and derives the active stage from a caller-supplied clock value.
package stage

import (
	"errors"
	"fmt"
	"time"

	"consentline/internal/domain"
)

// ErrInvalidInterval is returned when start is not strictly before end.
var ErrInvalidInterval = errors.New("stage window start must be before end")

// Window is one stage of a decision timeline. Flags are relative to the now
// passed to Windows and are never persisted.
type Window struct {
	Stage    domain.Stage `json:"stage"`
	Start    time.Time    `json:"start"`
	End      time.Time    `json:"end"`
	IsActive bool         `json:"is_active"`
	IsPast   bool         `json:"is_past"`
	IsFuture bool         `json:"is_future"`
}

type share struct {
	stage domain.Stage
	// cumulative end boundary in ninths of the total duration
	until int64
}

const ninths = 9

var (
	distinctShares = []share{
		{domain.StageClarifications, 3},
		{domain.StageAvis, 6},
		{domain.StageAmendements, 7},
		{domain.StageObjections, 9},
	}
	mergedShares = []share{
		{domain.StageClarifavis, 6},
		{domain.StageAmendements, 7},
		{domain.StageObjections, 9},
	}
)

func sharesFor(layout domain.StageLayout) ([]share, error) {
	switch layout {
	case domain.LayoutDistinct:
		return distinctShares, nil
	case domain.LayoutMerged:
		return mergedShares, nil
	default:
		return nil, fmt.Errorf("unknown stage layout %q", layout)
	}
}

// First returns the initial stage of a layout.
func First(layout domain.StageLayout) (domain.Stage, error) {
	shares, err := sharesFor(layout)
	if err != nil {
		return "", err
	}
	return shares[0].stage, nil
}

// Stages lists the timed stages of a layout in order.
func Stages(layout domain.StageLayout) ([]domain.Stage, error) {
	shares, err := sharesFor(layout)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Stage, 0, len(shares))
	for _, s := range shares {
		out = append(out, s.stage)
	}
	return out, nil
}

// boundary returns start + total*num/9 without chaining stage durations, so
// the final boundary is end exactly.
func boundary(start time.Time, total time.Duration, num int64) time.Time {
	if num == ninths {
		return start.Add(total)
	}
	q, r := int64(total)/ninths, int64(total)%ninths
	return start.Add(time.Duration(q*num + r*num/ninths))
}

// Windows partitions [start, end) for the given layout.
func Windows(start, end time.Time, layout domain.StageLayout, now time.Time) ([]Window, error) {
	if !start.Before(end) {
		return nil, ErrInvalidInterval
	}
	shares, err := sharesFor(layout)
	if err != nil {
		return nil, err
	}
	total := end.Sub(start)
	windows := make([]Window, 0, len(shares))
	from := start
	for _, s := range shares {
		to := boundary(start, total, s.until)
		w := Window{Stage: s.stage, Start: from, End: to}
		switch {
		case now.Before(from):
			w.IsFuture = true
		case now.Before(to):
			w.IsActive = true
		default:
			w.IsPast = true
		}
		windows = append(windows, w)
		from = to
	}
	return windows, nil
}

// EndOf returns the end of the named stage. TERMINEE ends with the last window.
func EndOf(windows []Window, s domain.Stage) (time.Time, bool) {
	if len(windows) == 0 {
		return time.Time{}, false
	}
	if s == domain.StageTerminee {
		return windows[len(windows)-1].End, true
	}
	for _, w := range windows {
		if w.Stage == s {
			return w.End, true
		}
	}
	return time.Time{}, false
}
