package repo_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentline/internal/db"
	"consentline/internal/domain"
	"consentline/internal/migrate"
	"consentline/internal/repo"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newSQLiteRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	return repo.Repo{DB: conn, Dialect: dialect}
}

func seedDecision(t *testing.T, r repo.Repo, id string, alg domain.Algorithm) domain.Decision {
	t.Helper()
	d := domain.Decision{
		ID: id, Title: "Adopt four-day week", Algorithm: alg, Mode: domain.ModeInvited,
		Status: domain.StatusDraft, CreatorID: "alice", StageLayout: domain.LayoutDistinct,
		WinnerCount: 1, BindingDeadline: true, Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, r.InsertDecision(context.Background(), r.DB, d))
	return d
}

func TestUpdateStageConflictMapsToErrConflict(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	r := repo.Repo{DB: conn, Dialect: db.Postgres}

	from := domain.StageAvis
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE decisions SET current_stage=$1, version=version+1, updated_at=$2`)).
		WithArgs("AMENDEMENTS", sqlmock.AnyArg(), "d-1", int64(3), "OPEN", "AVIS").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = r.UpdateStage(context.Background(), conn, "d-1", 3, &from, domain.StageAmendements, now)
	assert.ErrorIs(t, err, repo.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseDecisionWritesStageWhenForced(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	r := repo.Repo{DB: conn, Dialect: db.SQLite}

	stage := domain.StageTerminee
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE decisions SET status=?, result=?, result_details=?, decided_at=?, version=version+1, updated_at=?, current_stage=? WHERE id=? AND version=? AND status=?`)).
		WithArgs("CLOSED", "APPROVED", `{"a":1}`, sqlmock.AnyArg(), sqlmock.AnyArg(), "TERMINEE", "d-1", int64(7), "OPEN").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = r.CloseDecision(context.Background(), conn, repo.Closure{
		ID: "d-1", ExpectedVersion: 7, Result: domain.ResultApproved,
		Details: []byte(`{"a":1}`), Stage: &stage, DecidedAt: now,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecisionRoundTripAndCAS(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	seedDecision(t, r, "d-1", domain.AlgorithmConsent)

	first := domain.StageClarifications
	require.NoError(t, r.Launch(ctx, r.DB, "d-1", 1, now, now.Add(9*time.Hour), &first, now))
	// stale version loses
	assert.ErrorIs(t, r.Launch(ctx, r.DB, "d-1", 1, now, now.Add(9*time.Hour), &first, now), repo.ErrConflict)

	d, err := r.GetDecision(ctx, r.DB, "d-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, d.Status)
	assert.Equal(t, int64(2), d.Version)
	require.NotNil(t, d.CurrentStage)
	assert.Equal(t, domain.StageClarifications, *d.CurrentStage)
	require.NotNil(t, d.EndTime)
	assert.True(t, d.EndTime.Equal(now.Add(9*time.Hour)))
	assert.True(t, d.BindingDeadline)

	wrong := domain.StageAvis
	assert.ErrorIs(t, r.UpdateStage(ctx, r.DB, "d-1", 2, &wrong, domain.StageAmendements, now), repo.ErrConflict)
	require.NoError(t, r.UpdateStage(ctx, r.DB, "d-1", 2, &first, domain.StageAvis, now))

	require.NoError(t, r.CloseDecision(ctx, r.DB, repo.Closure{ID: "d-1", ExpectedVersion: 3, Result: domain.ResultBlocked, DecidedAt: now}))
	assert.ErrorIs(t, r.CloseDecision(ctx, r.DB, repo.Closure{ID: "d-1", ExpectedVersion: 4, Result: domain.ResultApproved, DecidedAt: now}), repo.ErrConflict)

	ids, err := r.ListOpenDecisionIDs(ctx, r.DB)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = r.GetDecision(ctx, r.DB, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestBallotUpsertKeepsOneRow(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	seedDecision(t, r, "d-1", domain.AlgorithmConsensus)
	user := "bob"
	require.NoError(t, r.InsertParticipant(ctx, r.DB, domain.Participant{ID: "p-1", DecisionID: "d-1", UserID: &user, CreatedAt: now}))

	pid := "p-1"
	b := domain.Ballot{ID: "b-1", DecisionID: "d-1", VoterKey: "p:p-1", ParticipantID: &pid, Kind: domain.AlgorithmConsensus,
		Payload: domain.BallotPayload{Value: domain.Agree}, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, r.UpsertBallot(ctx, r.DB, b))
	b.ID = "b-2"
	b.Payload.Value = domain.Disagree
	b.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, r.UpsertBallot(ctx, r.DB, b))

	ballots, err := r.ListBallots(ctx, r.DB, "d-1")
	require.NoError(t, err)
	require.Len(t, ballots, 1)
	assert.Equal(t, "b-1", ballots[0].ID)
	assert.Equal(t, domain.Disagree, ballots[0].Payload.Value)
	assert.True(t, ballots[0].UpdatedAt.Equal(now.Add(time.Minute)))

	require.NoError(t, r.MarkVoted(ctx, r.DB, "p-1"))
	p, err := r.FindParticipant(ctx, r.DB, "d-1", "bob", "")
	require.NoError(t, err)
	assert.True(t, p.HasVoted)
}

func TestLogEntriesOrdered(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	actor := "alice"
	for i, typ := range []string{"decision.created", "decision.launched", "decision.closed"} {
		require.NoError(t, r.InsertLogEntry(ctx, r.DB, domain.LogEntry{
			DecisionID: "d-1", EventType: typ, ActorID: &actor,
			Metadata: map[string]any{"step": i}, CreatedAt: now,
		}))
	}
	entries, err := r.ListLogEntries(ctx, r.DB, "d-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "decision.created", entries[0].EventType)
	assert.Equal(t, "decision.closed", entries[2].EventType)
	assert.EqualValues(t, 2, entries[2].Metadata["step"])

	latest, err := r.LatestLogEntries(ctx, r.DB, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "decision.closed", latest[0].EventType)
}

func TestDeleteDraftCascadesButKeepsLog(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	seedDecision(t, r, "d-1", domain.AlgorithmMajority)
	require.NoError(t, r.InsertProposal(ctx, r.DB, domain.Proposal{ID: "pr-1", DecisionID: "d-1", Title: "A", CreatedAt: now}))
	require.NoError(t, r.InsertLogEntry(ctx, r.DB, domain.LogEntry{DecisionID: "d-1", EventType: "decision.created", CreatedAt: now}))

	require.NoError(t, r.DeleteDraft(ctx, r.DB, "d-1", 1))
	proposals, err := r.ListProposals(ctx, r.DB, "d-1")
	require.NoError(t, err)
	assert.Empty(t, proposals)
	entries, err := r.ListLogEntries(ctx, r.DB, "d-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestListDecisionsEndRangeWithinOneSecond(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	seedDecision(t, r, "d-1", domain.AlgorithmConsensus)
	end := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, r.Launch(ctx, r.DB, "d-1", 1, now, end, nil, now))

	bound := end.Add(300 * time.Millisecond)
	after, err := r.ListDecisions(ctx, r.DB, repo.DecisionFilter{EndAfter: &bound})
	require.NoError(t, err)
	assert.Empty(t, after)

	before, err := r.ListDecisions(ctx, r.DB, repo.DecisionFilter{EndBefore: &bound})
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, "d-1", before[0].ID)

	exact, err := r.ListDecisions(ctx, r.DB, repo.DecisionFilter{EndAfter: &end})
	require.NoError(t, err)
	assert.Len(t, exact, 1)

	d, err := r.GetDecision(ctx, r.DB, "d-1")
	require.NoError(t, err)
	assert.True(t, d.EndTime.Equal(end))
}
