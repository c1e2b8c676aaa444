package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"consentline/internal/domain"
)

const decisionColumns = `id,title,COALESCE(description,''),algorithm,mode,status,result,result_details,creator_id,
start_time,end_time,decided_at,COALESCE(stage_layout,''),current_stage,amendment_action,
nuanced_scale,winner_count,binding_deadline,version,created_at,updated_at`

func scanDecision(row scanner) (domain.Decision, error) {
	var (
		d                       domain.Decision
		algorithm, mode, status string
		layout                  string
		res, details            sql.NullString
		start, end, decided     sql.NullString
		stage, amendment        sql.NullString
		createdAt, updatedAt    string
		binding                 bool
	)
	err := row.Scan(&d.ID, &d.Title, &d.Description, &algorithm, &mode, &status, &res, &details, &d.CreatorID,
		&start, &end, &decided, &layout, &stage, &amendment,
		&d.NuancedScale, &d.WinnerCount, &binding, &d.Version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Algorithm = domain.Algorithm(algorithm)
	d.Mode = domain.Mode(mode)
	d.Status = domain.Status(status)
	d.StageLayout = domain.StageLayout(layout)
	d.BindingDeadline = binding
	if res.Valid {
		r := domain.Result(res.String)
		d.Result = &r
	}
	if details.Valid && details.String != "" {
		d.ResultDetails = json.RawMessage(details.String)
	}
	if stage.Valid {
		s := domain.Stage(stage.String)
		d.CurrentStage = &s
	}
	if amendment.Valid {
		a := domain.AmendmentAction(amendment.String)
		d.AmendmentAction = &a
	}
	if d.StartTime, err = parseNullTime(start); err != nil {
		return d, fmt.Errorf("decision %s start_time: %w", d.ID, err)
	}
	if d.EndTime, err = parseNullTime(end); err != nil {
		return d, fmt.Errorf("decision %s end_time: %w", d.ID, err)
	}
	if d.DecidedAt, err = parseNullTime(decided); err != nil {
		return d, fmt.Errorf("decision %s decided_at: %w", d.ID, err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return d, fmt.Errorf("decision %s created_at: %w", d.ID, err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return d, fmt.Errorf("decision %s updated_at: %w", d.ID, err)
	}
	return d, nil
}

func (r Repo) InsertDecision(ctx context.Context, q Querier, d domain.Decision) error {
	_, err := r.exec(ctx, q, `INSERT INTO decisions(id,title,description,algorithm,mode,status,creator_id,stage_layout,
nuanced_scale,winner_count,binding_deadline,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Title, nullable(d.Description), string(d.Algorithm), string(d.Mode), string(d.Status), d.CreatorID,
		nullable(string(d.StageLayout)), d.NuancedScale, d.WinnerCount, boolInt(d.BindingDeadline), d.Version,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	return err
}

func (r Repo) GetDecision(ctx context.Context, q Querier, id string) (domain.Decision, error) {
	return scanDecision(r.queryRow(ctx, q, `SELECT `+decisionColumns+` FROM decisions WHERE id=?`, id))
}

// DecisionFilter narrows ListDecisions. Zero values do not filter.
type DecisionFilter struct {
	Status    domain.Status
	Algorithm domain.Algorithm
	CreatorID string
	EndAfter  *time.Time
	EndBefore *time.Time
	Limit     int
}

func (r Repo) ListDecisions(ctx context.Context, q Querier, f DecisionFilter) ([]domain.Decision, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, string(f.Status))
	}
	if f.Algorithm != "" {
		where = append(where, "algorithm=?")
		args = append(args, string(f.Algorithm))
	}
	if f.CreatorID != "" {
		where = append(where, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.EndAfter != nil {
		where = append(where, "end_time>=?")
		args = append(args, formatTime(*f.EndAfter))
	}
	if f.EndBefore != nil {
		where = append(where, "end_time<?")
		args = append(args, formatTime(*f.EndBefore))
	}
	query := `SELECT ` + decisionColumns + ` FROM decisions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ListOpenDecisionIDs returns ids only, so one unreadable row cannot hide the rest.
func (r Repo) ListOpenDecisionIDs(ctx context.Context, q Querier) ([]string, error) {
	rows, err := r.query(ctx, q, `SELECT id FROM decisions WHERE status=? ORDER BY end_time, id`, string(domain.StatusOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) UpdateDraft(ctx context.Context, q Querier, id string, expectedVersion int64, title, description string, now time.Time) error {
	return r.execCAS(ctx, q, `UPDATE decisions SET title=?, description=?, version=version+1, updated_at=?
WHERE id=? AND version=? AND status=?`,
		title, nullable(description), formatTime(now), id, expectedVersion, string(domain.StatusDraft))
}

// Launch moves a DRAFT decision to OPEN with its schedule.
func (r Repo) Launch(ctx context.Context, q Querier, id string, expectedVersion int64, start, end time.Time, stage *domain.Stage, now time.Time) error {
	return r.execCAS(ctx, q, `UPDATE decisions SET status=?, start_time=?, end_time=?, current_stage=?, version=version+1, updated_at=?
WHERE id=? AND version=? AND status=?`,
		string(domain.StatusOpen), formatTime(start), formatTime(end), stageValue(stage), formatTime(now),
		id, expectedVersion, string(domain.StatusDraft))
}

// UpdateStage persists a stage transition of an OPEN decision still in the
// expected prior stage.
func (r Repo) UpdateStage(ctx context.Context, q Querier, id string, expectedVersion int64, from *domain.Stage, to domain.Stage, now time.Time) error {
	query := `UPDATE decisions SET current_stage=?, version=version+1, updated_at=?
WHERE id=? AND version=? AND status=? AND `
	args := []any{string(to), formatTime(now), id, expectedVersion, string(domain.StatusOpen)}
	if from == nil {
		query += `current_stage IS NULL`
	} else {
		query += `current_stage=?`
		args = append(args, string(*from))
	}
	return r.execCAS(ctx, q, query, args...)
}

// Amendment is the creator's AMENDEMENTS outcome. Title and Description are
// the proposal text after the action, unchanged unless AMENDED.
type Amendment struct {
	ID              string
	ExpectedVersion int64
	Action          domain.AmendmentAction
	Title           string
	Description     string
	Stage           domain.Stage
	Now             time.Time
}

// SetAmendmentAction records the creator's action once, with the amended
// text, and moves the stage.
func (r Repo) SetAmendmentAction(ctx context.Context, q Querier, a Amendment) error {
	return r.execCAS(ctx, q, `UPDATE decisions SET amendment_action=?, title=?, description=?, current_stage=?, version=version+1, updated_at=?
WHERE id=? AND version=? AND status=? AND amendment_action IS NULL`,
		string(a.Action), a.Title, nullable(a.Description), string(a.Stage), formatTime(a.Now),
		a.ID, a.ExpectedVersion, string(domain.StatusOpen))
}

// Closure is the state written when an OPEN decision closes.
type Closure struct {
	ID              string
	ExpectedVersion int64
	Result          domain.Result
	Details         json.RawMessage
	Stage           *domain.Stage
	DecidedAt       time.Time
}

func (r Repo) CloseDecision(ctx context.Context, q Querier, c Closure) error {
	query := `UPDATE decisions SET status=?, result=?, result_details=?, decided_at=?, version=version+1, updated_at=?`
	args := []any{string(domain.StatusClosed), string(c.Result), nullable(string(c.Details)), formatTime(c.DecidedAt), formatTime(c.DecidedAt)}
	if c.Stage != nil {
		query += `, current_stage=?`
		args = append(args, string(*c.Stage))
	}
	query += ` WHERE id=? AND version=? AND status=?`
	args = append(args, c.ID, c.ExpectedVersion, string(domain.StatusOpen))
	return r.execCAS(ctx, q, query, args...)
}

// Reopen returns a CLOSED decision to OPEN with a new deadline.
func (r Repo) Reopen(ctx context.Context, q Querier, id string, expectedVersion int64, start, end time.Time, now time.Time) error {
	return r.execCAS(ctx, q, `UPDATE decisions SET status=?, result=NULL, result_details=NULL, decided_at=NULL,
current_stage=NULL, amendment_action=NULL, start_time=?, end_time=?, version=version+1, updated_at=?
WHERE id=? AND version=? AND status=?`,
		string(domain.StatusOpen), formatTime(start), formatTime(end), formatTime(now), id, expectedVersion, string(domain.StatusClosed))
}

func (r Repo) UpdateStatus(ctx context.Context, q Querier, id string, expectedVersion int64, from, to domain.Status, now time.Time) error {
	return r.execCAS(ctx, q, `UPDATE decisions SET status=?, version=version+1, updated_at=? WHERE id=? AND version=? AND status=?`,
		string(to), formatTime(now), id, expectedVersion, string(from))
}

// DeleteDraft removes a DRAFT decision; participants, proposals, ballots and
// comments cascade. Log entries are kept.
func (r Repo) DeleteDraft(ctx context.Context, q Querier, id string, expectedVersion int64) error {
	return r.execCAS(ctx, q, `DELETE FROM decisions WHERE id=? AND version=? AND status=?`, id, expectedVersion, string(domain.StatusDraft))
}

func stageValue(s *domain.Stage) any {
	if s == nil {
		return nil
	}
	return string(*s)
}
