package stage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentline/internal/domain"
	"consentline/internal/stage"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func TestDistinctWindowsFourteenDays(t *testing.T) {
	end := t0.Add(14 * 24 * time.Hour)
	now := t0.Add(10 * 24 * time.Hour)
	windows, err := stage.Windows(t0, end, domain.LayoutDistinct, now)
	require.NoError(t, err)
	require.Len(t, windows, 4)

	assert.Equal(t, domain.StageClarifications, windows[0].Stage)
	assert.Equal(t, t0, windows[0].Start)
	assert.Equal(t, t0.Add(14*24*time.Hour/3), windows[0].End)
	assert.Equal(t, domain.StageAvis, windows[1].Stage)
	assert.Equal(t, t0.Add(28*24*time.Hour/3), windows[1].End)
	assert.Equal(t, domain.StageAmendements, windows[2].Stage)
	assert.True(t, windows[2].IsActive)
	assert.True(t, windows[1].IsPast)
	assert.True(t, windows[3].IsFuture)
	assert.Equal(t, end, windows[3].End)

	got, err := stage.Current(stage.Timeline{Start: t0, End: end, Layout: domain.LayoutDistinct}, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StageAmendements, got)
}

func TestMergedWindows(t *testing.T) {
	end := t0.Add(9 * time.Hour)
	windows, err := stage.Windows(t0, end, domain.LayoutMerged, t0)
	require.NoError(t, err)
	require.Len(t, windows, 3)
	assert.Equal(t, domain.StageClarifavis, windows[0].Stage)
	assert.Equal(t, t0.Add(6*time.Hour), windows[0].End)
	assert.Equal(t, t0.Add(7*time.Hour), windows[1].End)
	assert.Equal(t, end, windows[2].End)
	assert.True(t, windows[0].IsActive)
}

func TestLastBoundaryIsEndForOddDurations(t *testing.T) {
	end := t0.Add(1000000007 * time.Nanosecond)
	windows, err := stage.Windows(t0, end, domain.LayoutDistinct, t0)
	require.NoError(t, err)
	assert.Equal(t, end, windows[len(windows)-1].End)
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1].End, windows[i].Start)
	}
}

func TestWindowsRejectsEmptyInterval(t *testing.T) {
	_, err := stage.Windows(t0, t0, domain.LayoutDistinct, t0)
	assert.ErrorIs(t, err, stage.ErrInvalidInterval)
	_, err = stage.Windows(t0, t0.Add(time.Hour), domain.StageLayout("SPIRAL"), t0)
	assert.Error(t, err)
}

func TestCurrentDeadlineWins(t *testing.T) {
	withdrawn := domain.AmendmentWithdrawn
	tl := stage.Timeline{Start: t0, End: t0.Add(time.Hour), Layout: domain.LayoutMerged, AmendmentAction: &withdrawn}
	got, err := stage.Current(tl, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.StageTerminee, got)
}

func TestCurrentAmendmentShortCircuit(t *testing.T) {
	kept := domain.AmendmentKept
	tl := stage.Timeline{Start: t0, End: t0.Add(9 * time.Hour), Layout: domain.LayoutDistinct, AmendmentAction: &kept}
	got, err := stage.Current(tl, t0.Add(6*time.Hour+30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StageObjections, got)
}

func TestCurrentBeforeStartIsFirstStage(t *testing.T) {
	tl := stage.Timeline{Start: t0, End: t0.Add(time.Hour), Layout: domain.LayoutMerged}
	got, err := stage.Current(tl, t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StageClarifavis, got)
}

func TestTimelineOfRequiresSchedule(t *testing.T) {
	_, err := stage.TimelineOf(domain.Decision{})
	assert.ErrorIs(t, err, stage.ErrNotScheduled)
}

func TestTransitioned(t *testing.T) {
	avis := domain.StageAvis
	assert.True(t, stage.Transitioned(nil, domain.StageClarifications))
	assert.False(t, stage.Transitioned(&avis, domain.StageAvis))
	assert.True(t, stage.Transitioned(&avis, domain.StageAmendements))
	assert.True(t, stage.Forward(&avis, domain.StageObjections))
	assert.False(t, stage.Forward(&avis, domain.StageClarifications))
}

func TestPermissionPredicates(t *testing.T) {
	cases := []struct {
		stage                 domain.Stage
		clarify, opinion, obj bool
	}{
		{domain.StageClarifications, true, false, false},
		{domain.StageAvis, true, true, false},
		{domain.StageClarifavis, true, true, false},
		{domain.StageAmendements, false, false, false},
		{domain.StageObjections, false, false, true},
		{domain.StageTerminee, false, false, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.clarify, stage.CanAskClarification(tc.stage), tc.stage)
		assert.Equal(t, tc.opinion, stage.CanGiveOpinion(tc.stage), tc.stage)
		assert.Equal(t, tc.obj, stage.CanObject(tc.stage), tc.stage)
	}
	assert.True(t, stage.CanAmend(domain.StageAmendements, "alice", "alice"))
	assert.False(t, stage.CanAmend(domain.StageAmendements, "bob", "alice"))
	assert.False(t, stage.CanAmend(domain.StageObjections, "alice", "alice"))
}

func TestEndOf(t *testing.T) {
	end := t0.Add(9 * time.Hour)
	windows, err := stage.Windows(t0, end, domain.LayoutMerged, t0)
	require.NoError(t, err)
	got, ok := stage.EndOf(windows, domain.StageAmendements)
	require.True(t, ok)
	assert.Equal(t, t0.Add(7*time.Hour), got)
	got, ok = stage.EndOf(windows, domain.StageTerminee)
	require.True(t, ok)
	assert.Equal(t, end, got)
	_, ok = stage.EndOf(windows, domain.StageAvis)
	assert.False(t, ok)
}
