package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bountyline/internal/config"
	"bountyline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const engagementCols = `id,kind,repo,issue_url,issue_number,pr_url,title,payout,status,plan,draft,plan_approved_at,plan_approved_by,submitted_at,abort_reason,abort_note,created_at,updated_at`

func scanEngagement(scan func(dest ...any) error) (domain.Engagement, error) {
	var e domain.Engagement
	var prURL, plan, draft, planApprovedAt, planApprovedBy, submittedAt, abortReason, abortNote sql.NullString
	err := scan(&e.ID, &e.Kind, &e.Repo, &e.IssueURL, &e.IssueNumber, &prURL, &e.Title, &e.Payout, &e.Status,
		&plan, &draft, &planApprovedAt, &planApprovedBy, &submittedAt, &abortReason, &abortNote, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.PRURL = fromNull(prURL)
	e.Plan = fromNull(plan)
	e.Draft = fromNull(draft)
	e.PlanApprovedAt = fromNull(planApprovedAt)
	e.PlanApprovedBy = fromNull(planApprovedBy)
	e.SubmittedAt = fromNull(submittedAt)
	e.AbortReason = fromNull(abortReason)
	e.AbortNote = fromNull(abortNote)
	return e, nil
}

func (r Repo) InsertEngagement(ctx context.Context, tx *sql.Tx, e domain.Engagement) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO engagements(`+engagementCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Kind, e.Repo, e.IssueURL, e.IssueNumber, nullableStringPtr(e.PRURL), e.Title, e.Payout, e.Status,
		nullableStringPtr(e.Plan), nullableStringPtr(e.Draft), nullableStringPtr(e.PlanApprovedAt), nullableStringPtr(e.PlanApprovedBy),
		nullableStringPtr(e.SubmittedAt), nullableStringPtr(e.AbortReason), nullableStringPtr(e.AbortNote), e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) UpdateEngagement(ctx context.Context, tx *sql.Tx, e domain.Engagement) error {
	res, err := tx.ExecContext(ctx, `UPDATE engagements SET kind=?, repo=?, issue_url=?, issue_number=?, pr_url=?, title=?, payout=?, status=?, plan=?, draft=?, plan_approved_at=?, plan_approved_by=?, submitted_at=?, abort_reason=?, abort_note=?, updated_at=? WHERE id=?`,
		e.Kind, e.Repo, e.IssueURL, e.IssueNumber, nullableStringPtr(e.PRURL), e.Title, e.Payout, e.Status,
		nullableStringPtr(e.Plan), nullableStringPtr(e.Draft), nullableStringPtr(e.PlanApprovedAt), nullableStringPtr(e.PlanApprovedBy),
		nullableStringPtr(e.SubmittedAt), nullableStringPtr(e.AbortReason), nullableStringPtr(e.AbortNote), e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetEngagement(ctx context.Context, id string) (domain.Engagement, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+engagementCols+` FROM engagements WHERE id=?`, id)
	return scanEngagement(row.Scan)
}

type EngagementFilters struct {
	Repo   string
	Status string
	Kind   string
	Limit  int
}

func (r Repo) ListEngagements(ctx context.Context, f EngagementFilters) ([]domain.Engagement, error) {
	var clauses []string
	var args []any
	if f.Repo != "" {
		clauses = append(clauses, "repo=?")
		args = append(args, f.Repo)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + engagementCols + ` FROM engagements ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Engagement
	for rows.Next() {
		e, err := scanEngagement(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

func (r Repo) CountEngagementsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM engagements GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, nil
}

// --- rules profiles ---

func (r Repo) UpsertRulesProfile(ctx context.Context, p domain.RulesProfile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO rules_profiles(repo,source_path,content,content_hash,acknowledged_hash,acknowledged_at,fetched_at,version,changed,rules_json)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(repo) DO UPDATE SET source_path=excluded.source_path, content=excluded.content, content_hash=excluded.content_hash,
acknowledged_hash=excluded.acknowledged_hash, acknowledged_at=excluded.acknowledged_at, fetched_at=excluded.fetched_at,
version=excluded.version, changed=excluded.changed, rules_json=excluded.rules_json`,
		p.Repo, nullable(p.SourcePath), nullable(p.Content), p.ContentHash, nullableStringPtr(p.AcknowledgedHash),
		nullableStringPtr(p.AcknowledgedAt), p.FetchedAt, p.Version, boolInt(p.Changed), p.RulesJSON)
	return err
}

func (r Repo) GetRulesProfile(ctx context.Context, repo string) (domain.RulesProfile, error) {
	var p domain.RulesProfile
	var sourcePath, content, ackHash, ackAt sql.NullString
	var changed int
	err := r.DB.QueryRowContext(ctx, `SELECT repo,source_path,content,content_hash,acknowledged_hash,acknowledged_at,fetched_at,version,changed,rules_json FROM rules_profiles WHERE repo=?`, repo).
		Scan(&p.Repo, &sourcePath, &content, &p.ContentHash, &ackHash, &ackAt, &p.FetchedAt, &p.Version, &changed, &p.RulesJSON)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if sourcePath.Valid {
		p.SourcePath = sourcePath.String
	}
	if content.Valid {
		p.Content = content.String
	}
	p.AcknowledgedHash = fromNull(ackHash)
	p.AcknowledgedAt = fromNull(ackAt)
	p.Changed = changed != 0
	return p, nil
}

// --- style guides ---

func (r Repo) UpsertStyleGuide(ctx context.Context, g domain.StyleGuideRecord) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO style_guides(repo,guide_json,sample_count,fetched_at) VALUES (?,?,?,?)
ON CONFLICT(repo) DO UPDATE SET guide_json=excluded.guide_json, sample_count=excluded.sample_count, fetched_at=excluded.fetched_at`,
		g.Repo, g.GuideJSON, g.SampleCount, g.FetchedAt)
	return err
}

func (r Repo) GetStyleGuide(ctx context.Context, repo string) (domain.StyleGuideRecord, error) {
	var g domain.StyleGuideRecord
	err := r.DB.QueryRowContext(ctx, `SELECT repo,guide_json,sample_count,fetched_at FROM style_guides WHERE repo=?`, repo).
		Scan(&g.Repo, &g.GuideJSON, &g.SampleCount, &g.FetchedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	return g, err
}

// --- CLA status ---

func (r Repo) UpsertCLAStatus(ctx context.Context, s domain.CLAStatus) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO cla_status(repo,required,completed,dco_required,dco_enabled,provider,evidence_url,updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(repo) DO UPDATE SET required=excluded.required, completed=excluded.completed, dco_required=excluded.dco_required,
dco_enabled=excluded.dco_enabled, provider=excluded.provider, evidence_url=excluded.evidence_url, updated_at=excluded.updated_at`,
		s.Repo, boolInt(s.Required), boolInt(s.Completed), boolInt(s.DCORequired), boolInt(s.DCOEnabled),
		nullable(s.Provider), nullableStringPtr(s.EvidenceURL), s.UpdatedAt)
	return err
}

func (r Repo) GetCLAStatus(ctx context.Context, repo string) (domain.CLAStatus, error) {
	var s domain.CLAStatus
	var required, completed, dcoRequired, dcoEnabled int
	var provider, evidence sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT repo,required,completed,dco_required,dco_enabled,provider,evidence_url,updated_at FROM cla_status WHERE repo=?`, repo).
		Scan(&s.Repo, &required, &completed, &dcoRequired, &dcoEnabled, &provider, &evidence, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Required = required != 0
	s.Completed = completed != 0
	s.DCORequired = dcoRequired != 0
	s.DCOEnabled = dcoEnabled != 0
	if provider.Valid {
		s.Provider = provider.String
	}
	s.EvidenceURL = fromNull(evidence)
	return s, nil
}

// --- eligibility assessments (append-only) ---

func (r Repo) InsertEligibility(ctx context.Context, tx *sql.Tx, rec domain.EligibilityRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO eligibility_assessments(engagement_id,verdict,confidence,reasons_json,prework_json,created_at) VALUES (?,?,?,?,?,?)`,
		rec.EngagementID, rec.Verdict, rec.Confidence, rec.ReasonsJSON, rec.PreworkJSON, rec.CreatedAt)
	return err
}

func (r Repo) LatestEligibility(ctx context.Context, engagementID string) (domain.EligibilityRecord, error) {
	var rec domain.EligibilityRecord
	err := r.DB.QueryRowContext(ctx, `SELECT id,engagement_id,verdict,confidence,reasons_json,prework_json,created_at FROM eligibility_assessments WHERE engagement_id=? ORDER BY id DESC LIMIT 1`, engagementID).
		Scan(&rec.ID, &rec.EngagementID, &rec.Verdict, &rec.Confidence, &rec.ReasonsJSON, &rec.PreworkJSON, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	return rec, err
}

// --- metrics (upsert-by-key) ---

func (r Repo) UpsertMetrics(ctx context.Context, tx *sql.Tx, m domain.Metrics) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO metrics(engagement_id,win_probability,breakdown_json,ev,ev_per_hour,opportunity_cost,time_lo_minutes,time_best_minutes,time_hi_minutes,buy_box_passed,buy_box_reasons_json,buy_box_warnings_json,complexity,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(engagement_id) DO UPDATE SET win_probability=excluded.win_probability, breakdown_json=excluded.breakdown_json,
ev=excluded.ev, ev_per_hour=excluded.ev_per_hour, opportunity_cost=excluded.opportunity_cost,
time_lo_minutes=excluded.time_lo_minutes, time_best_minutes=excluded.time_best_minutes, time_hi_minutes=excluded.time_hi_minutes,
buy_box_passed=excluded.buy_box_passed, buy_box_reasons_json=excluded.buy_box_reasons_json,
buy_box_warnings_json=excluded.buy_box_warnings_json, complexity=excluded.complexity, updated_at=excluded.updated_at`,
		m.EngagementID, m.WinProbability, m.BreakdownJSON, m.EV, m.EVPerHour, m.OpportunityCost,
		m.TimeLoMinutes, m.TimeBestMinutes, m.TimeHiMinutes, boolInt(m.BuyBoxPassed), m.BuyBoxReasonsJSON, m.BuyBoxWarningsJSON, m.Complexity, m.UpdatedAt)
	return err
}

func (r Repo) GetMetrics(ctx context.Context, engagementID string) (domain.Metrics, error) {
	var m domain.Metrics
	var passed int
	err := r.DB.QueryRowContext(ctx, `SELECT engagement_id,win_probability,breakdown_json,ev,ev_per_hour,opportunity_cost,time_lo_minutes,time_best_minutes,time_hi_minutes,buy_box_passed,buy_box_reasons_json,buy_box_warnings_json,complexity,updated_at FROM metrics WHERE engagement_id=?`, engagementID).
		Scan(&m.EngagementID, &m.WinProbability, &m.BreakdownJSON, &m.EV, &m.EVPerHour, &m.OpportunityCost,
			&m.TimeLoMinutes, &m.TimeBestMinutes, &m.TimeHiMinutes, &passed, &m.BuyBoxReasonsJSON, &m.BuyBoxWarningsJSON, &m.Complexity, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.BuyBoxPassed = passed != 0
	return m, nil
}

// --- competition snapshots (append-only) ---

func (r Repo) InsertCompetitionSnapshot(ctx context.Context, tx *sql.Tx, s domain.CompetitionSnapshot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO competition_snapshots(engagement_id,risk_score,action,drivers_json,prs_json,claims_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.EngagementID, s.RiskScore, s.Action, s.DriversJSON, s.PRsJSON, s.ClaimsJSON, s.CreatedAt)
	return err
}

// LatestCompetitionSnapshots returns up to n most recent snapshots, newest first.
func (r Repo) LatestCompetitionSnapshots(ctx context.Context, engagementID string, n int) ([]domain.CompetitionSnapshot, error) {
	if n <= 0 {
		n = 2
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,engagement_id,risk_score,action,drivers_json,prs_json,claims_json,created_at FROM competition_snapshots WHERE engagement_id=? ORDER BY id DESC LIMIT ?`, engagementID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CompetitionSnapshot
	for rows.Next() {
		var s domain.CompetitionSnapshot
		if err := rows.Scan(&s.ID, &s.EngagementID, &s.RiskScore, &s.Action, &s.DriversJSON, &s.PRsJSON, &s.ClaimsJSON, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

// --- judge runs (append-only) ---

func (r Repo) InsertJudgeRun(ctx context.Context, tx *sql.Tx, j domain.JudgeRun) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO judge_runs(engagement_id,passed,checks_json,fixes_json,for_submit,created_at) VALUES (?,?,?,?,?,?)`,
		j.EngagementID, boolInt(j.Passed), j.ChecksJSON, j.FixesJSON, boolInt(j.ForSubmit), j.CreatedAt)
	return err
}

func (r Repo) LatestJudgeRun(ctx context.Context, engagementID string) (domain.JudgeRun, error) {
	var j domain.JudgeRun
	var passed, forSubmit int
	err := r.DB.QueryRowContext(ctx, `SELECT id,engagement_id,passed,checks_json,fixes_json,for_submit,created_at FROM judge_runs WHERE engagement_id=? ORDER BY id DESC LIMIT 1`, engagementID).
		Scan(&j.ID, &j.EngagementID, &passed, &j.ChecksJSON, &j.FixesJSON, &forSubmit, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	j.Passed = passed != 0
	j.ForSubmit = forSubmit != 0
	return j, nil
}

// --- test runs (append-only) ---

func (r Repo) InsertTestRun(ctx context.Context, tx *sql.Tx, t domain.TestRun) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO test_runs(engagement_id,command,exit_code,duration_ms,output,created_at) VALUES (?,?,?,?,?,?)`,
		t.EngagementID, t.Command, t.ExitCode, t.DurationMS, nullable(t.Output), t.CreatedAt)
	return err
}

func (r Repo) LatestTestRun(ctx context.Context, engagementID string) (domain.TestRun, error) {
	var t domain.TestRun
	var output sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,engagement_id,command,exit_code,duration_ms,output,created_at FROM test_runs WHERE engagement_id=? ORDER BY id DESC LIMIT 1`, engagementID).
		Scan(&t.ID, &t.EngagementID, &t.Command, &t.ExitCode, &t.DurationMS, &output, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if output.Valid {
		t.Output = output.String
	}
	return t, nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, engagementID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if engagementID != "" {
		clauses = append(clauses, "engagement_id=?")
		args = append(args, engagementID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,engagement_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var engID, entID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &engID, &e.EntityKind, &entID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if engID.Valid {
			e.EngagementID = engID.String
		}
		if entID.Valid {
			e.EntityID = entID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}

// --- workspace config ---

const configKey = "workspace"

func (r Repo) UpsertWorkspaceConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO workspace_configs(key,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(key) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, configKey, string(payload), now, now)
	return err
}

func (r Repo) GetWorkspaceConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM workspace_configs WHERE key=?`, configKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
