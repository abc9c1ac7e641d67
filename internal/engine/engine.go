// Package engine orchestrates the engagement lifecycle: qualify, plan,
// draft, submit. Every state change happens in one transaction with its
// event appended before commit.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bountyline/internal/cla"
	"bountyline/internal/competition"
	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/eligibility"
	"bountyline/internal/events"
	"bountyline/internal/execrun"
	"bountyline/internal/forge"
	"bountyline/internal/judge"
	"bountyline/internal/notify"
	"bountyline/internal/repo"
	"bountyline/internal/rules"
	"bountyline/internal/score"
	"bountyline/internal/signals"
	"bountyline/internal/style"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Source   forge.Source
	Rules    *rules.Service
	Style    *style.Service
	CLA      cla.Service
	Notifier notify.Notifier
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, src forge.Source, notifier notify.Notifier) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Source:   src,
		Rules:    rules.NewService(r, src, cfg.RulesTTL),
		Style:    style.NewService(r, src, cfg.StyleTTL),
		CLA:      cla.Service{Repo: r},
		Notifier: notifier,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Judge builds the compliance gate over this engine's collaborators.
func (e Engine) Judge() judge.Judge {
	return judge.Judge{
		Repo:        e.Repo,
		Rules:       e.Rules,
		Style:       e.Style,
		EvidenceDir: e.Config.Evidence.Dir,
		Now:         e.Now,
	}
}

// CreateEngagement registers an issue for pursuit. The issue is fetched
// once to verify it exists and pick up its title.
func (e Engine) CreateEngagement(ctx context.Context, issueURL, kind string, payout float64, actorID string) (domain.Engagement, error) {
	if kind != "paid" && kind != "reputation" {
		return domain.Engagement{}, fmt.Errorf("unknown engagement kind %q", kind)
	}
	if kind == "paid" && payout <= 0 {
		return domain.Engagement{}, errors.New("paid engagements need a positive payout")
	}
	repoID, number, err := forge.ParseIssueURL(issueURL)
	if err != nil {
		return domain.Engagement{}, err
	}
	issue, err := e.Source.Issue(ctx, repoID, number)
	if err != nil {
		return domain.Engagement{}, fmt.Errorf("fetch issue: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Engagement{}, err
	}
	defer tx.Rollback()

	now := e.ts()
	eng := domain.Engagement{
		ID:          uuid.NewString(),
		Kind:        kind,
		Repo:        repoID.String(),
		IssueURL:    issueURL,
		IssueNumber: number,
		Title:       issue.Title,
		Payout:      payout,
		Status:      "qualify",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertEngagement(ctx, tx, eng); err != nil {
		return domain.Engagement{}, fmt.Errorf("insert engagement: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "engagement.create", eng.ID, "engagement", eng.ID, actorID, events.EventPayload{
		"repo": eng.Repo, "issue": number, "kind": kind,
	}); err != nil {
		return domain.Engagement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Engagement{}, err
	}
	return eng, nil
}

// QualifyOptions carry operator-supplied facts the forge cannot provide.
type QualifyOptions struct {
	// EnvRequired marks issues that need a special environment; approval
	// is an operator decision, not a detectable fact.
	EnvRequired bool
	EnvApproved bool
	// Estimate overrides the complexity-derived time estimate when set.
	Estimate *score.TimeEstimate
	// MaintainerScore is an optional 0-10 judgment of maintainer quality.
	MaintainerScore *float64
	// CIFlakeRate is an optional observed flake rate in [0,1].
	CIFlakeRate *float64
	ForceRules  bool
}

// QualifyResult bundles everything one qualification pass produced.
type QualifyResult struct {
	Engagement  domain.Engagement      `json:"engagement"`
	Assessment  eligibility.Assessment `json:"assessment"`
	WinProb     score.WinProbability   `json:"win_probability"`
	EV          score.EV               `json:"ev"`
	BuyBox      score.BuyBoxResult     `json:"buy_box"`
	Competition competition.Result     `json:"competition"`
	Complexity  int                    `json:"complexity"`
	Warnings    []string               `json:"warnings,omitempty"`
}

// Qualify runs the full assessment pipeline and materializes the result.
// Collaborator failures downstream of the issue fetch degrade to partial
// data instead of aborting the pass.
func (e Engine) Qualify(ctx context.Context, engagementID, actorID string, opts QualifyOptions) (QualifyResult, error) {
	eng, err := e.Repo.GetEngagement(ctx, engagementID)
	if err != nil {
		return QualifyResult{}, err
	}
	if eng.Terminal() {
		return QualifyResult{}, fmt.Errorf("engagement %s is %s; nothing to qualify", eng.ID, eng.Status)
	}
	repoID, err := forge.ParseRepoID(eng.Repo)
	if err != nil {
		return QualifyResult{}, err
	}

	issue, err := e.Source.Issue(ctx, repoID, eng.IssueNumber)
	if err != nil {
		return QualifyResult{}, fmt.Errorf("fetch issue: %w", err)
	}
	var warnings []string
	comments, err := e.Source.Comments(ctx, repoID, eng.IssueNumber)
	if err != nil {
		warnings = append(warnings, "comments unavailable: "+err.Error())
	}
	prs, err := e.Source.LinkedPullRequests(ctx, repoID, eng.IssueNumber)
	if err != nil {
		warnings = append(warnings, "linked pull requests unavailable: "+err.Error())
	}
	sig := signals.Capture(issue, comments, prs)

	profile, err := e.Rules.Ensure(ctx, eng.Repo, opts.ForceRules)
	if err != nil {
		warnings = append(warnings, "rules profile unavailable: "+err.Error())
	} else if profile == nil {
		warnings = append(warnings, "repository publishes no rules document; proceeding without one")
	}
	claStatus, err := e.CLA.Sync(ctx, eng.Repo, profile)
	if err != nil {
		warnings = append(warnings, "agreement status unavailable: "+err.Error())
	}
	if _, _, err := e.Style.Ensure(ctx, eng.Repo, false); err != nil {
		warnings = append(warnings, "style guide unavailable: "+err.Error())
	}

	assessment := eligibility.Assess(sig, signals.ContextSignals{
		Rules:        profile,
		CLARequired:  claStatus.Required,
		CLACompleted: claStatus.Completed,
		EnvRequired:  opts.EnvRequired,
		EnvApproved:  opts.EnvApproved,
	})

	claims := competition.DetectClaims(comments)
	risk, drivers := competition.Score(prs, claims)
	comp := competition.Result{
		RiskScore: risk,
		Action:    competition.ActionFor(risk),
		Drivers:   drivers,
		PRs:       prs,
		Claims:    claims,
	}

	complexity := score.Complexity(issue.Title, issue.Body, issue.Labels)
	est := estimateFromComplexity(complexity)
	if opts.Estimate != nil {
		est = opts.Estimate.Normalize()
	}

	clarity := score.ClarityFactor(assessment.Confidence)
	compFactor := score.CompetitionFactor(sig.OpenPRCount)
	factors := score.Factors{
		Competition: &compFactor,
		Clarity:     &clarity,
	}
	if hours, ok := firstMaintainerResponseHours(issue, comments); ok {
		f := score.ResponsivenessFactor(hours)
		factors.Responsiveness = &f
	}
	if opts.CIFlakeRate != nil {
		f := score.CIHealthFactor(*opts.CIFlakeRate)
		factors.CIHealth = &f
	}
	if opts.MaintainerScore != nil {
		f := score.MaintainerFactor(*opts.MaintainerScore)
		factors.Maintainer = &f
	}
	wp := score.CalcWinProbability(factors)
	ev := score.CalcEV(eng.Payout, wp.Overall, est, e.Config.Economics.HourlyTarget)

	openPRs := sig.OpenPRCount
	bbIn := score.BuyBoxInput{
		EV:             &ev.Value,
		WinProbability: &wp.Overall,
		CompetingPRs:   &openPRs,
	}
	if opts.MaintainerScore != nil {
		bbIn.MaintainerScore = opts.MaintainerScore
	}
	bb := score.CheckBuyBox(bbIn, score.BuyBox(e.Config.BuyBox))
	if comp.Action == "fold" {
		bb.Warnings = append(bb.Warnings, fmt.Sprintf("competition check recommends fold (risk %d)", comp.RiskScore))
	}

	if err := e.persistQualification(ctx, eng, actorID, assessment, wp, ev, bb, comp, complexity); err != nil {
		return QualifyResult{}, err
	}
	return QualifyResult{
		Engagement:  eng,
		Assessment:  assessment,
		WinProb:     wp,
		EV:          ev,
		BuyBox:      bb,
		Competition: comp,
		Complexity:  complexity,
		Warnings:    warnings,
	}, nil
}

func (e Engine) persistQualification(ctx context.Context, eng domain.Engagement, actorID string,
	a eligibility.Assessment, wp score.WinProbability, ev score.EV, bb score.BuyBoxResult,
	comp competition.Result, complexity int) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := e.ts()
	reasons, _ := json.Marshal(a.Reasons)
	prework, _ := json.Marshal(a.Prework)
	if err := e.Repo.InsertEligibility(ctx, tx, domain.EligibilityRecord{
		EngagementID: eng.ID,
		Verdict:      string(a.Verdict),
		Confidence:   a.Confidence,
		ReasonsJSON:  string(reasons),
		PreworkJSON:  string(prework),
		CreatedAt:    now,
	}); err != nil {
		return fmt.Errorf("insert eligibility: %w", err)
	}

	breakdown, _ := json.Marshal(wp)
	bbReasons, _ := json.Marshal(bb.Reasons)
	bbWarnings, _ := json.Marshal(bb.Warnings)
	if err := e.Repo.UpsertMetrics(ctx, tx, domain.Metrics{
		EngagementID:       eng.ID,
		WinProbability:     wp.Overall,
		BreakdownJSON:      string(breakdown),
		EV:                 ev.Value,
		EVPerHour:          ev.PerHour,
		OpportunityCost:    ev.OpportunityCost,
		TimeLoMinutes:      ev.Estimate.LoMinutes,
		TimeBestMinutes:    ev.Estimate.BestMinutes,
		TimeHiMinutes:      ev.Estimate.HiMinutes,
		BuyBoxPassed:       bb.Passed,
		BuyBoxReasonsJSON:  string(bbReasons),
		BuyBoxWarningsJSON: string(bbWarnings),
		Complexity:         complexity,
		UpdatedAt:          now,
	}); err != nil {
		return fmt.Errorf("upsert metrics: %w", err)
	}

	if err := e.insertSnapshot(ctx, tx, eng.ID, comp, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "engagement.qualify", eng.ID, "engagement", eng.ID, actorID, events.EventPayload{
		"verdict": string(a.Verdict), "win_probability": wp.Overall, "ev": ev.Value,
		"buy_box_passed": bb.Passed, "risk": comp.RiskScore,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) insertSnapshot(ctx context.Context, tx *sql.Tx, engagementID string, comp competition.Result, now string) error {
	drivers, _ := json.Marshal(comp.Drivers)
	prsJSON, _ := json.Marshal(comp.PRs)
	claims, _ := json.Marshal(comp.Claims)
	if err := e.Repo.InsertCompetitionSnapshot(ctx, tx, domain.CompetitionSnapshot{
		EngagementID: engagementID,
		RiskScore:    comp.RiskScore,
		Action:       comp.Action,
		DriversJSON:  string(drivers),
		PRsJSON:      string(prsJSON),
		ClaimsJSON:   string(claims),
		CreatedAt:    now,
	}); err != nil {
		return fmt.Errorf("insert competition snapshot: %w", err)
	}
	return nil
}

// estimateFromComplexity converts a 0-100 complexity into a rough
// three-point estimate.
func estimateFromComplexity(complexity int) score.TimeEstimate {
	best := 30 + complexity*3
	return score.TimeEstimate{
		LoMinutes:   best / 2,
		BestMinutes: best,
		HiMinutes:   best * 2,
	}.Normalize()
}

// firstMaintainerResponseHours measures issue creation to the first
// maintainer comment.
func firstMaintainerResponseHours(issue forge.Issue, comments []forge.Comment) (float64, bool) {
	created, err := time.Parse(time.RFC3339, issue.CreatedAt)
	if err != nil {
		return 0, false
	}
	for _, c := range comments {
		if !c.Maintainer() {
			continue
		}
		at, err := time.Parse(time.RFC3339, c.CreatedAt)
		if err != nil {
			continue
		}
		return at.Sub(created).Hours(), true
	}
	return 0, false
}

// ensureTransition is the forward state machine. Abort handles the jump
// to abandoned separately.
func ensureTransition(oldStatus, newStatus string, force bool) error {
	if force {
		return nil
	}
	switch oldStatus {
	case "qualify":
		if newStatus == "plan" {
			return nil
		}
	case "plan":
		if newStatus == "draft" {
			return nil
		}
	case "draft":
		if newStatus == "submitted" {
			return nil
		}
	case "submitted":
		if newStatus == "merged" {
			return nil
		}
	case "merged":
		if newStatus == "completed" {
			return nil
		}
	}
	return fmt.Errorf("invalid engagement status transition %s -> %s", oldStatus, newStatus)
}

// Plan moves a qualified engagement into planning. The qualification gate
// requires a workable verdict and a passing buy box unless forced.
func (e Engine) Plan(ctx context.Context, engagementID, planText, actorID string, force bool) (domain.Engagement, error) {
	eng, err := e.Repo.GetEngagement(ctx, engagementID)
	if err != nil {
		return domain.Engagement{}, err
	}
	if err := ensureTransition(eng.Status, "plan", force); err != nil {
		return domain.Engagement{}, err
	}
	if planText == "" {
		return domain.Engagement{}, errors.New("plan text is required")
	}
	if !force {
		rec, err := e.Repo.LatestEligibility(ctx, engagementID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Engagement{}, errors.New("no qualification on record; run qualify first")
		}
		if err != nil {
			return domain.Engagement{}, err
		}
		if rec.Verdict != string(eligibility.Workable) {
			return domain.Engagement{}, fmt.Errorf("latest verdict is %s; qualification gate not met", rec.Verdict)
		}
		m, err := e.Repo.GetMetrics(ctx, engagementID)
		if err != nil {
			return domain.Engagement{}, err
		}
		if !m.BuyBoxPassed {
			return domain.Engagement{}, errors.New("buy box not met; re-qualify or use force")
		}
	}

	eng.Status = "plan"
	eng.Plan = &planText
	eng.PlanApprovedAt = nil
	eng.PlanApprovedBy = nil
	return e.saveTransition(ctx, eng, "engagement.plan", actorID, events.EventPayload{"forced": force})
}

// ApprovePlan records operator sign-off on the current plan.
func (e Engine) ApprovePlan(ctx context.Context, engagementID, actorID string) (domain.Engagement, error) {
	eng, err := e.Repo.GetEngagement(ctx, engagementID)
	if err != nil {
		return domain.Engagement{}, err
	}
	if eng.Status != "plan" {
		return domain.Engagement{}, fmt.Errorf("engagement is %s; only planned engagements can be approved", eng.Status)
	}
	if eng.Plan == nil || *eng.Plan == "" {
		return domain.Engagement{}, errors.New("no plan recorded")
	}
	now := e.ts()
	eng.PlanApprovedAt = &now
	eng.PlanApprovedBy = &actorID
	return e.saveTransition(ctx, eng, "engagement.plan_approve", actorID, nil)
}

// Draft stores the submission draft and advances to the draft stage.
// Requires an approved plan.
func (e Engine) Draft(ctx context.Context, engagementID, draftText, actorID string, force bool) (domain.Engagement, error) {
	eng, err := e.Repo.GetEngagement(ctx, engagementID)
	if err != nil {
		return domain.Engagement{}, err
	}
	if err := ensureTransition(eng.Status, "draft", force); err != nil {
		return domain.Engagement{}, err
	}
	if draftText == "" {
		return domain.Engagement{}, errors.New("draft text is required")
	}
	if !force && eng.PlanApprovedAt == nil {
		return domain.Engagement{}, errors.New("plan not approved; approve it or use force")
	}
	eng.Status = "draft"
	eng.Draft = &draftText
	return e.saveTransition(ctx, eng, "engagement.draft", actorID, events.EventPayload{"forced": force})
}

// Submit runs the compliance gate and, on pass, marks the engagement
// submitted with its PR URL.
func (e Engine) Submit(ctx context.Context, engagementID, prURL, actorID string, force bool) (domain.Engagement, judge.Verdict, error) {
	eng, err := e.Repo.GetEngagement(ctx, engagementID)
	if err != nil {
		return domain.Engagement{}, judge.Verdict{}, err
	}
	if err := ensureTransition(eng.Status, "submitted", force); err != nil {
		return domain.Engagement{}, judge.Verdict{}, err
	}
	if prURL == "" {
		return domain.Engagement{}, judge.Verdict{}, errors.New("pull request URL is required")
	}

	verdict, err := e.Judge().Run(ctx, eng, true)
	if err != nil {
		return domain.Engagement{}, judge.Verdict{}, err
	}
	if err := e.recordJudgeRun(ctx, eng.ID, actorID, verdict, true); err != nil {
		return domain.Engagement{}, judge.Verdict{}, err
	}
	if !verdict.Passed && !force {
		return eng, verdict, errors.New("compliance gate failed; fix the reported checks or use force")
	}

	now := e.ts()
	eng.Status = "submitted"
	eng.PRURL = &prURL
	eng.SubmittedAt = &now
	eng, err = e.saveTransition(ctx, eng, "engagement.submit", actorID, events.EventPayload{
		"pr_url": prURL, "gate_passed": verdict.Passed, "forced": force,
	})
	if err != nil {
		return domain.Engagement{}, judge.Verdict{}, err
	}
	e.notifyBestEffort(ctx, notify.Message{Kind: "submitted", Text: "submitted " + eng.Title + " (" + prURL + ")"})
	return eng, verdict, nil
}

// RunJudge executes the gate without advancing state.
func (e Engine) RunJudge(ctx context.Context, engagementID, actorID string, forSubmit bool) (judge.Verdict, error) {
	eng, err := e.Repo.GetEngagement(ctx, engagementID)
	if err != nil {
		return judge.Verdict{}, err
	}
	verdict, err := e.Judge().Run(ctx, eng, forSubmit)
	if err != nil {
		return judge.Verdict{}, err
	}
	if err := e.recordJudgeRun(ctx, eng.ID, actorID, verdict, forSubmit); err != nil {
		return judge.Verdict{}, err
	}
	return verdict, nil
}

func (e Engine) recordJudgeRun(ctx context.Context, engagementID, actorID string, v judge.Verdict, forSubmit bool) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	checks, _ := json.Marshal(v.Checks)
	fixes, _ := json.Marshal(v.Fixes)
	if err := e.Repo.InsertJudgeRun(ctx, tx, domain.JudgeRun{
		EngagementID: engagementID,
		Passed:       v.Passed,
		ChecksJSON:   string(checks),
		FixesJSON:    string(fixes),
		ForSubmit:    forSubmit,
		CreatedAt:    e.ts(),
	}); err != nil {
		return fmt.Errorf("insert judge run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "engagement.judge", engagementID, "judge_run", "", actorID, events.EventPayload{
		"passed": v.Passed, "for_submit": forSubmit,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// AbortReasons is the closed set of accepted abort classifications.
var AbortReasons = []string{
	"outcompeted", "maintainer_decision", "scope_blowup", "env_blocked",
	"rules_blocked", "low_ev", "stalled", "duplicate", "wontfix", "other",
}

// Abort abandons a non-terminal engagement with a classified reason.
// "other" requires a note so the postmortem data stays usable.
func (e Engine) Abort(ctx context.Context, engagementID, reason, note, actorID string) (domain.Engagement, error) {
	valid := false
	for _, r := range AbortReasons {
		if r == reason {
			valid = true
			break
		}
	}
	if !valid {
		return domain.Engagement{}, fmt.Errorf("unknown abort reason %q", reason)
	}
	if reason == "other" && note == "" {
		return domain.Engagement{}, errors.New(`abort reason "other" requires a note`)
	}
	eng, err := e.Repo.GetEngagement(ctx, engagementID)
	if err != nil {
		return domain.Engagement{}, err
	}
	if eng.Terminal() {
		return domain.Engagement{}, fmt.Errorf("engagement is already %s", eng.Status)
	}
	eng.Status = "abandoned"
	eng.AbortReason = &reason
	if note != "" {
		eng.AbortNote = &note
	}
	return e.saveTransition(ctx, eng, "engagement.abort", actorID, events.EventPayload{"reason": reason})
}

// MarkMerged records that the submitted PR landed.
func (e Engine) MarkMerged(ctx context.Context, engagementID, actorID string, force bool) (domain.Engagement, error) {
	eng, err := e.Repo.GetEngagement(ctx, engagementID)
	if err != nil {
		return domain.Engagement{}, err
	}
	if err := ensureTransition(eng.Status, "merged", force); err != nil {
		return domain.Engagement{}, err
	}
	eng.Status = "merged"
	eng, err = e.saveTransition(ctx, eng, "engagement.merge", actorID, nil)
	if err != nil {
		return domain.Engagement{}, err
	}
	e.notifyBestEffort(ctx, notify.Message{Kind: "merged", Text: "merged: " + eng.Title})
	return eng, nil
}

// MarkCompleted closes out a merged engagement, payout collected.
func (e Engine) MarkCompleted(ctx context.Context, engagementID, actorID string, force bool) (domain.Engagement, error) {
	eng, err := e.Repo.GetEngagement(ctx, engagementID)
	if err != nil {
		return domain.Engagement{}, err
	}
	if err := ensureTransition(eng.Status, "completed", force); err != nil {
		return domain.Engagement{}, err
	}
	eng.Status = "completed"
	return e.saveTransition(ctx, eng, "engagement.complete", actorID, nil)
}

func (e Engine) saveTransition(ctx context.Context, eng domain.Engagement, evtType, actorID string, payload events.EventPayload) (domain.Engagement, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Engagement{}, err
	}
	defer tx.Rollback()
	eng.UpdatedAt = e.ts()
	if err := e.Repo.UpdateEngagement(ctx, tx, eng); err != nil {
		return domain.Engagement{}, fmt.Errorf("update engagement: %w", err)
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["status"] = eng.Status
	if err := e.Events.Append(ctx, tx, evtType, eng.ID, "engagement", eng.ID, actorID, payload); err != nil {
		return domain.Engagement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Engagement{}, err
	}
	return eng, nil
}

// RecordTestRun stores one local suite invocation for the gate.
func (e Engine) RecordTestRun(ctx context.Context, engagementID, actorID string, res execrun.Result) (domain.TestRun, error) {
	if _, err := e.Repo.GetEngagement(ctx, engagementID); err != nil {
		return domain.TestRun{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TestRun{}, err
	}
	defer tx.Rollback()
	run := domain.TestRun{
		EngagementID: engagementID,
		Command:      res.Command,
		ExitCode:     res.ExitCode,
		DurationMS:   res.DurationMS,
		Output:       res.Output,
		CreatedAt:    e.ts(),
	}
	if err := e.Repo.InsertTestRun(ctx, tx, run); err != nil {
		return domain.TestRun{}, fmt.Errorf("insert test run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "engagement.test_run", engagementID, "test_run", "", actorID, events.EventPayload{
		"command": res.Command, "exit_code": res.ExitCode,
	}); err != nil {
		return domain.TestRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TestRun{}, err
	}
	return run, nil
}

// CheckCompetition takes a fresh snapshot and alerts on spikes or a
// high-risk action change.
func (e Engine) CheckCompetition(ctx context.Context, engagementID, actorID string) (competition.Result, error) {
	eng, err := e.Repo.GetEngagement(ctx, engagementID)
	if err != nil {
		return competition.Result{}, err
	}
	repoID, err := forge.ParseRepoID(eng.Repo)
	if err != nil {
		return competition.Result{}, err
	}
	comp := competition.Collect(ctx, e.Source, repoID, eng.IssueNumber)

	prev, err := e.Repo.LatestCompetitionSnapshots(ctx, engagementID, 1)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return competition.Result{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return competition.Result{}, err
	}
	defer tx.Rollback()
	now := e.ts()
	if err := e.insertSnapshot(ctx, tx, engagementID, comp, now); err != nil {
		return competition.Result{}, err
	}
	if err := e.Events.Append(ctx, tx, "engagement.competition", engagementID, "competition_snapshot", "", actorID, events.EventPayload{
		"risk": comp.RiskScore, "action": comp.Action, "degraded": comp.Degraded,
	}); err != nil {
		return competition.Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return competition.Result{}, err
	}

	// The spike alert and the absolute-level alert are independent; a run
	// can send both.
	if len(prev) > 0 && competition.Spike(prev[0].RiskScore, comp.RiskScore) {
		if err := e.notifyOrFail(ctx, notify.Message{
			Kind: "competition_spike",
			Text: fmt.Sprintf("risk jumped %d -> %d on %s", prev[0].RiskScore, comp.RiskScore, eng.Title),
		}); err != nil {
			return comp, err
		}
	}
	if comp.Action == "fold" || comp.Action == "narrow" {
		if err := e.notifyOrFail(ctx, notify.Message{
			Kind: "competition_level",
			Text: fmt.Sprintf("risk %d (%s) on %s", comp.RiskScore, comp.Action, eng.Title),
		}); err != nil {
			return comp, err
		}
	}
	return comp, nil
}

// notifyOrFail surfaces delivery errors only in strict mode.
func (e Engine) notifyOrFail(ctx context.Context, msg notify.Message) error {
	if e.Notifier == nil {
		return nil
	}
	err := e.Notifier.Notify(ctx, msg)
	if err != nil && e.Config.Notify.Strict {
		return fmt.Errorf("strict notification failed: %w", err)
	}
	return nil
}

func (e Engine) notifyBestEffort(ctx context.Context, msg notify.Message) {
	if e.Notifier == nil {
		return
	}
	_ = e.Notifier.Notify(ctx, msg)
}
