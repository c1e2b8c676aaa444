//go:build property
// +build property

package stage_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"consentline/internal/domain"
	"consentline/internal/stage"
)

var layouts = []interface{}{domain.LayoutDistinct, domain.LayoutMerged}

// Windows are contiguous and cover [start, end) exactly.
func TestWindowsPartitionInterval(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("windows partition [start, end)", prop.ForAll(
		func(offset, length int64, layout domain.StageLayout) bool {
			start := t0.Add(time.Duration(offset) * time.Second)
			end := start.Add(time.Duration(length))
			windows, err := stage.Windows(start, end, layout, start)
			if err != nil || len(windows) == 0 {
				return false
			}
			if !windows[0].Start.Equal(start) || !windows[len(windows)-1].End.Equal(end) {
				return false
			}
			for i, w := range windows {
				if w.End.Before(w.Start) {
					return false
				}
				if i > 0 && !windows[i-1].End.Equal(w.Start) {
					return false
				}
			}
			return true
		},
		gen.Int64Range(-1_000_000, 1_000_000),
		gen.Int64Range(1, int64(365*24*time.Hour)),
		gen.OneConstOf(layouts...),
	))

	properties.TestingRun(t)
}

// Before the deadline exactly one window is active and it contains now.
func TestCurrentStageContainsNow(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("active window contains now", prop.ForAll(
		func(length int64, permille int64, layout domain.StageLayout) bool {
			end := t0.Add(time.Duration(length))
			now := t0.Add(time.Duration(length / 1000 * permille))
			if !now.Before(end) {
				return true
			}
			windows, err := stage.Windows(t0, end, layout, now)
			if err != nil {
				return false
			}
			current, err := stage.Current(stage.Timeline{Start: t0, End: end, Layout: layout}, now)
			if err != nil {
				return false
			}
			active := 0
			for _, w := range windows {
				if w.IsActive {
					active++
					if w.Stage != current || now.Before(w.Start) || !now.Before(w.End) {
						return false
					}
				}
			}
			return active == 1
		},
		gen.Int64Range(int64(time.Hour), int64(90*24*time.Hour)),
		gen.Int64Range(0, 999),
		gen.OneConstOf(layouts...),
	))

	properties.Property("deadline yields TERMINEE", prop.ForAll(
		func(length int64, after int64, layout domain.StageLayout, amended bool) bool {
			end := t0.Add(time.Duration(length))
			tl := stage.Timeline{Start: t0, End: end, Layout: layout}
			if amended {
				action := domain.AmendmentAmended
				tl.AmendmentAction = &action
			}
			got, err := stage.Current(tl, end.Add(time.Duration(after)))
			return err == nil && got == domain.StageTerminee
		},
		gen.Int64Range(1, int64(90*24*time.Hour)),
		gen.Int64Range(0, int64(30*24*time.Hour)),
		gen.OneConstOf(layouts...),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
