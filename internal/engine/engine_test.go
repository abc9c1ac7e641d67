package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/engine"
	"bountyline/internal/execrun"
	"bountyline/internal/forge"
	"bountyline/internal/migrate"
	"bountyline/internal/notify"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const issueURL = "https://github.com/acme/widgets/issues/42"

// fakeSource is a scriptable issue tracker.
type fakeSource struct {
	issue    forge.Issue
	comments []forge.Comment
	prs      []forge.PullRequest
	merged   []forge.PullRequest
	files    map[string]string
	err      error
}

func (f *fakeSource) Issue(ctx context.Context, repo forge.RepoID, number int) (forge.Issue, error) {
	return f.issue, f.err
}

func (f *fakeSource) Comments(ctx context.Context, repo forge.RepoID, number int) ([]forge.Comment, error) {
	return f.comments, f.err
}

func (f *fakeSource) LinkedPullRequests(ctx context.Context, repo forge.RepoID, number int) ([]forge.PullRequest, error) {
	return f.prs, f.err
}

func (f *fakeSource) File(ctx context.Context, repo forge.RepoID, paths []string) (string, []byte, error) {
	for _, p := range paths {
		if content, ok := f.files[p]; ok {
			return p, []byte(content), nil
		}
	}
	return "", nil, forge.ErrNotFound
}

func (f *fakeSource) SearchIssues(ctx context.Context, query string, limit int) ([]forge.Issue, error) {
	return nil, nil
}

func (f *fakeSource) RecentMergedPulls(ctx context.Context, repo forge.RepoID, limit int) ([]forge.PullRequest, error) {
	return f.merged, nil
}

func workableIssue() forge.Issue {
	return forge.Issue{
		Number: 42,
		Title:  "retry loop never stops",
		Body: "The retry loop keeps firing after shutdown.\n\n" +
			"Steps to reproduce:\n1. start the worker\n2. send SIGTERM\n3. watch the log\n\n" +
			"Acceptance criteria: the loop exits within one tick and the test suite covers the shutdown path. " +
			"This affects every deployment running v2 or later and has been confirmed on linux and darwin hosts.",
		State:     "open",
		Labels:    []string{"bug", "help wanted"},
		Author:    "reporter",
		URL:       issueURL,
		CreatedAt: testNow.Add(-48 * time.Hour).Format(time.RFC3339),
	}
}

type testEnv struct {
	Engine   engine.Engine
	Source   *fakeSource
	Notifier *notify.Recorder
	Ctx      context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	src := &fakeSource{
		issue: workableIssue(),
		comments: []forge.Comment{{
			ID: 1, Author: "owner", AuthorAssociation: "OWNER",
			Body:      "Confirmed, PRs welcome.",
			CreatedAt: testNow.Add(-46 * time.Hour).Format(time.RFC3339),
		}},
		files: map[string]string{
			"CONTRIBUTING.md": "Please add tests for every change. We use go test.",
		},
		merged: []forge.PullRequest{
			{Number: 1, Title: "fix: bound the retry budget", Body: "Fixes #12.\n\nAdds a test for the budget."},
			{Number: 2, Title: "fix: close the listener on stop", Body: "Fixes #15.\n\nCovered by the shutdown test."},
		},
	}
	cfg := config.Default()
	cfg.Evidence.Dir = t.TempDir()
	rec := &notify.Recorder{}
	eng := engine.New(conn, cfg, src, rec)
	eng.Now = func() time.Time { return testNow }
	eng.Rules.Now = eng.Now
	eng.Style.Now = eng.Now
	eng.CLA.Now = eng.Now
	return &testEnv{Engine: eng, Source: src, Notifier: rec, Ctx: context.Background()}
}

func TestCreateEngagementValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateEngagement(env.Ctx, issueURL, "speculative", 100, "tester"); err == nil {
		t.Fatal("expected unknown kind to be rejected")
	}
	if _, err := env.Engine.CreateEngagement(env.Ctx, issueURL, "paid", 0, "tester"); err == nil {
		t.Fatal("expected zero payout to be rejected")
	}
	if _, err := env.Engine.CreateEngagement(env.Ctx, "not-a-url", "paid", 100, "tester"); err == nil {
		t.Fatal("expected malformed URL to be rejected")
	}
}

func TestQualifyWorkableIssue(t *testing.T) {
	env := newTestEnv(t)
	eng, err := env.Engine.CreateEngagement(env.Ctx, issueURL, "paid", 300, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := env.Engine.Qualify(env.Ctx, eng.ID, "tester", engine.QualifyOptions{})
	if err != nil {
		t.Fatalf("qualify: %v", err)
	}
	if got := string(res.Assessment.Verdict); got != "workable" {
		t.Fatalf("verdict = %s, reasons %v", got, res.Assessment.Reasons)
	}
	if !res.BuyBox.Passed {
		t.Fatalf("buy box failed: %v", res.BuyBox.Reasons)
	}
	if len(res.BuyBox.Warnings) == 0 {
		t.Fatal("unknown telemetry should surface as warnings")
	}
	if res.WinProb.Overall <= 0.5 {
		t.Fatalf("win probability = %v", res.WinProb.Overall)
	}
	rec, err := env.Engine.Repo.LatestEligibility(env.Ctx, eng.ID)
	if err != nil || rec.Verdict != "workable" {
		t.Fatalf("persisted eligibility: %v %+v", err, rec)
	}
	if _, err := env.Engine.Repo.GetMetrics(env.Ctx, eng.ID); err != nil {
		t.Fatalf("persisted metrics: %v", err)
	}
}

func TestPlanRequiresQualification(t *testing.T) {
	env := newTestEnv(t)
	eng, err := env.Engine.CreateEngagement(env.Ctx, issueURL, "paid", 300, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.Plan(env.Ctx, eng.ID, "the plan", "tester", false); err == nil {
		t.Fatal("plan without qualification must fail")
	}
	if _, err := env.Engine.Plan(env.Ctx, eng.ID, "the plan", "tester", true); err != nil {
		t.Fatalf("forced plan: %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	eng, err := env.Engine.CreateEngagement(env.Ctx, issueURL, "paid", 300, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.Qualify(env.Ctx, eng.ID, "tester", engine.QualifyOptions{}); err != nil {
		t.Fatalf("qualify: %v", err)
	}
	eng2, err := env.Engine.Plan(env.Ctx, eng.ID, "1. reproduce 2. fix 3. test", "tester", false)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if eng2.Status != "plan" {
		t.Fatalf("status = %s", eng2.Status)
	}

	// draft before approval is rejected
	if _, err := env.Engine.Draft(env.Ctx, eng.ID, "Fixes #42.", "tester", false); err == nil {
		t.Fatal("draft before plan approval must fail")
	}
	if _, err := env.Engine.ApprovePlan(env.Ctx, eng.ID, "tester"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	draft := "Fixes #42.\n\nBounds the retry loop and adds a shutdown test."
	if _, err := env.Engine.Draft(env.Ctx, eng.ID, draft, "tester", false); err != nil {
		t.Fatalf("draft: %v", err)
	}

	// submit with nothing materialized fails the gate
	_, verdict, err := env.Engine.Submit(env.Ctx, eng.ID, "https://github.com/acme/widgets/pull/99", "tester", false)
	if err == nil {
		t.Fatal("submit must fail the compliance gate without evidence")
	}
	if verdict.Passed {
		t.Fatal("gate should not have passed")
	}

	// materialize everything the gate wants
	if _, err := env.Engine.Rules.Acknowledge(env.Ctx, "acme/widgets"); err != nil {
		t.Fatalf("ack rules: %v", err)
	}
	dir := filepath.Join(env.Engine.Config.Evidence.Dir, eng.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"summary.md", "test-output.txt", "diff.patch"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("content\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.Engine.RecordTestRun(env.Ctx, eng.ID, "tester", execrun.Result{
		Command: "go test ./...", ExitCode: 0, DurationMS: 1500,
	}); err != nil {
		t.Fatalf("record test run: %v", err)
	}

	eng3, verdict, err := env.Engine.Submit(env.Ctx, eng.ID, "https://github.com/acme/widgets/pull/99", "tester", false)
	if err != nil {
		t.Fatalf("submit: %v (checks %+v)", err, verdict.Checks)
	}
	if eng3.Status != "submitted" || eng3.PRURL == nil {
		t.Fatalf("submitted engagement: %+v", eng3)
	}

	eng4, err := env.Engine.MarkMerged(env.Ctx, eng.ID, "tester", false)
	if err != nil || eng4.Status != "merged" {
		t.Fatalf("merge: %v", err)
	}
	eng5, err := env.Engine.MarkCompleted(env.Ctx, eng.ID, "tester", false)
	if err != nil || eng5.Status != "completed" {
		t.Fatalf("complete: %v", err)
	}
}

func TestTransitionGuard(t *testing.T) {
	env := newTestEnv(t)
	eng, err := env.Engine.CreateEngagement(env.Ctx, issueURL, "paid", 300, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.Draft(env.Ctx, eng.ID, "text", "tester", false); err == nil {
		t.Fatal("qualify -> draft must be rejected")
	}
	if _, err := env.Engine.MarkMerged(env.Ctx, eng.ID, "tester", false); err == nil {
		t.Fatal("qualify -> merged must be rejected")
	}
}

func TestAbort(t *testing.T) {
	env := newTestEnv(t)
	eng, err := env.Engine.CreateEngagement(env.Ctx, issueURL, "paid", 300, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.Abort(env.Ctx, eng.ID, "bored", "", "tester"); err == nil {
		t.Fatal("unknown reason must be rejected")
	}
	if _, err := env.Engine.Abort(env.Ctx, eng.ID, "other", "", "tester"); err == nil {
		t.Fatal(`reason "other" without a note must be rejected`)
	}
	aborted, err := env.Engine.Abort(env.Ctx, eng.ID, "outcompeted", "", "tester")
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if aborted.Status != "abandoned" || aborted.AbortReason == nil || *aborted.AbortReason != "outcompeted" {
		t.Fatalf("aborted engagement: %+v", aborted)
	}
	if _, err := env.Engine.Abort(env.Ctx, eng.ID, "stalled", "", "tester"); err == nil {
		t.Fatal("double abort must be rejected")
	}
	if _, err := env.Engine.Qualify(env.Ctx, eng.ID, "tester", engine.QualifyOptions{}); err == nil {
		t.Fatal("qualify after abort must be rejected")
	}
}

func TestCheckCompetitionSpikeNotifies(t *testing.T) {
	env := newTestEnv(t)
	eng, err := env.Engine.CreateEngagement(env.Ctx, issueURL, "paid", 300, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.CheckCompetition(env.Ctx, eng.ID, "tester"); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if len(env.Notifier.Messages) != 0 {
		t.Fatalf("no alert expected at zero risk, got %v", env.Notifier.Messages)
	}

	env.Source.prs = []forge.PullRequest{
		{Number: 90, State: "open", Author: "rival", ChecksPassing: true, ReviewCount: 1},
		{Number: 91, State: "open", Author: "rival2", ChecksPassing: true, ReviewCount: 1},
	}
	res, err := env.Engine.CheckCompetition(env.Ctx, eng.ID, "tester")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	// 2x30 + 2x20 + 2x15 = 130, capped.
	if res.RiskScore != 100 {
		t.Fatalf("risk = %d, want 100", res.RiskScore)
	}
	// The jump triggers the spike alert; the fold band independently
	// triggers the level alert.
	if len(env.Notifier.Messages) != 2 {
		t.Fatalf("expected spike and level alerts, got %v", env.Notifier.Messages)
	}
	if env.Notifier.Messages[0].Kind != "competition_spike" {
		t.Fatalf("first alert kind = %s", env.Notifier.Messages[0].Kind)
	}
	if env.Notifier.Messages[1].Kind != "competition_level" {
		t.Fatalf("second alert kind = %s", env.Notifier.Messages[1].Kind)
	}
	snaps, err := env.Engine.Repo.LatestCompetitionSnapshots(env.Ctx, eng.ID, 2)
	if err != nil || len(snaps) != 2 {
		t.Fatalf("snapshots: %v %d", err, len(snaps))
	}
}

func TestCheckCompetitionDegradesOnSourceFailure(t *testing.T) {
	env := newTestEnv(t)
	eng, err := env.Engine.CreateEngagement(env.Ctx, issueURL, "paid", 300, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.Source.err = errors.New("api timeout")
	res, err := env.Engine.CheckCompetition(env.Ctx, eng.ID, "tester")
	if err != nil {
		t.Fatalf("check should not propagate collection failures, got %v", err)
	}
	if !res.Degraded {
		t.Fatal("result should be marked degraded")
	}
	if res.RiskScore != 0 || res.Action != "proceed" || len(res.Drivers) != 0 {
		t.Fatalf("degraded result = %+v", res)
	}
	snaps, err := env.Engine.Repo.LatestCompetitionSnapshots(env.Ctx, eng.ID, 1)
	if err != nil || len(snaps) != 1 {
		t.Fatalf("degraded snapshot should still be recorded: %v %d", err, len(snaps))
	}
	if len(env.Notifier.Messages) != 0 {
		t.Fatalf("no alert expected, got %v", env.Notifier.Messages)
	}
}

func TestQualifyFoldSurfacesBuyBoxWarning(t *testing.T) {
	env := newTestEnv(t)
	env.Source.prs = []forge.PullRequest{
		{Number: 90, State: "open", Author: "rival", ChecksPassing: true, ReviewCount: 1},
		{Number: 91, State: "open", Author: "rival2", ChecksPassing: true, ReviewCount: 1},
	}
	eng, err := env.Engine.CreateEngagement(env.Ctx, issueURL, "paid", 300, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := env.Engine.Qualify(env.Ctx, eng.ID, "tester", engine.QualifyOptions{})
	if err != nil {
		t.Fatalf("qualify: %v", err)
	}
	if res.Competition.Action != "fold" {
		t.Fatalf("action = %s, want fold", res.Competition.Action)
	}
	found := false
	for _, w := range res.BuyBox.Warnings {
		if strings.Contains(w, "recommends fold") {
			found = true
		}
	}
	if !found {
		t.Fatalf("fold recommendation missing from buy box warnings: %v", res.BuyBox.Warnings)
	}
}

func TestQualifyWithoutRulesDocumentWarns(t *testing.T) {
	env := newTestEnv(t)
	env.Source.files = map[string]string{}
	eng, err := env.Engine.CreateEngagement(env.Ctx, issueURL, "paid", 300, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := env.Engine.Qualify(env.Ctx, eng.ID, "tester", engine.QualifyOptions{})
	if err != nil {
		t.Fatalf("qualify: %v", err)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "no rules document") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing rules document should warn, got %v", res.Warnings)
	}
}

func TestStrictNotifyFailureSurfaces(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Notify.Strict = true
	env.Engine.Config.Notify.WebhookURL = "https://example.invalid/hook"
	env.Notifier.Err = errors.New("hook down")

	eng, err := env.Engine.CreateEngagement(env.Ctx, issueURL, "paid", 300, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.CheckCompetition(env.Ctx, eng.ID, "tester"); err != nil {
		t.Fatalf("first check: %v", err)
	}
	env.Source.prs = []forge.PullRequest{
		{Number: 90, State: "open", Author: "rival", ChecksPassing: true, ReviewCount: 1},
		{Number: 91, State: "open", Author: "rival2"},
	}
	_, err = env.Engine.CheckCompetition(env.Ctx, eng.ID, "tester")
	if err == nil || !strings.Contains(err.Error(), "strict notification failed") {
		t.Fatalf("expected strict delivery failure, got %v", err)
	}
}
