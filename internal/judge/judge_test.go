package judge

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bountyline/internal/db"
	"bountyline/internal/domain"
	"bountyline/internal/migrate"
	"bountyline/internal/repo"
	"bountyline/internal/rules"
	"bountyline/internal/style"
)

var testNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	t     *testing.T
	db    *sql.DB
	repo  repo.Repo
	judge Judge
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
	r := repo.Repo{DB: conn}
	fixedTTL := func(string) time.Duration { return 7 * 24 * time.Hour }
	rs := rules.NewService(r, nil, fixedTTL)
	rs.Now = func() time.Time { return testNow }
	ss := style.NewService(r, nil, fixedTTL)
	ss.Now = func() time.Time { return testNow }
	return &testEnv{
		t:    t,
		db:   conn,
		repo: r,
		judge: Judge{
			Repo:        r,
			Rules:       rs,
			Style:       ss,
			EvidenceDir: t.TempDir(),
			Now:         func() time.Time { return testNow },
		},
	}
}

func (env *testEnv) exec(fn func(tx *sql.Tx) error) {
	env.t.Helper()
	tx, err := env.db.Begin()
	if err != nil {
		env.t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		env.t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		env.t.Fatalf("commit: %v", err)
	}
}

// seedReady materializes everything the gate wants in a passing state.
func (env *testEnv) seedReady() domain.Engagement {
	env.t.Helper()
	ctx := context.Background()
	draft := "Fixes #42.\n\nAdds a regression test and a bounded retry."
	e := domain.Engagement{
		ID: "eng-1", Kind: "paid", Repo: "acme/widgets",
		IssueURL: "https://github.com/acme/widgets/issues/42", IssueNumber: 42,
		Title: "retry loop never stops", Payout: 300, Status: "draft", Draft: &draft,
		CreatedAt: testNow.Format(time.RFC3339), UpdatedAt: testNow.Format(time.RFC3339),
	}
	env.exec(func(tx *sql.Tx) error { return env.repo.InsertEngagement(ctx, tx, e) })

	hash := "abc123"
	acked := testNow.Add(-time.Hour).Format(time.RFC3339)
	if err := env.repo.UpsertRulesProfile(ctx, domain.RulesProfile{
		Repo: e.Repo, SourcePath: "CONTRIBUTING.md", Content: "please add tests",
		ContentHash: hash, AcknowledgedHash: &hash, AcknowledgedAt: &acked,
		FetchedAt: testNow.Add(-time.Hour).Format(time.RFC3339), Version: 1,
		RulesJSON: `{"tests_required":true}`,
	}); err != nil {
		env.t.Fatalf("seed rules: %v", err)
	}

	guideJSON, _ := json.Marshal(style.Guide{
		LengthTarget: "medium", Headings: "minimal", BulletDensity: "medium",
		Tone: "conversational", IssueReference: "fixes",
	})
	if err := env.repo.UpsertStyleGuide(ctx, domain.StyleGuideRecord{
		Repo: e.Repo, GuideJSON: string(guideJSON), SampleCount: 10,
		FetchedAt: testNow.Add(-time.Hour).Format(time.RFC3339),
	}); err != nil {
		env.t.Fatalf("seed style: %v", err)
	}

	env.exec(func(tx *sql.Tx) error {
		return env.repo.InsertEligibility(ctx, tx, domain.EligibilityRecord{
			EngagementID: e.ID, Verdict: "workable", Confidence: 0.8,
			ReasonsJSON: "[]", PreworkJSON: "[]",
			CreatedAt: testNow.Format(time.RFC3339),
		})
	})
	env.exec(func(tx *sql.Tx) error {
		return env.repo.InsertTestRun(ctx, tx, domain.TestRun{
			EngagementID: e.ID, Command: "go test ./...", ExitCode: 0,
			DurationMS: 1200, CreatedAt: testNow.Add(-10 * time.Minute).Format(time.RFC3339),
		})
	})

	dir := filepath.Join(env.judge.EvidenceDir, e.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		env.t.Fatalf("evidence dir: %v", err)
	}
	for _, name := range evidenceArtifacts {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("content\n"), 0o644); err != nil {
			env.t.Fatalf("evidence file: %v", err)
		}
	}
	return e
}

func checkByName(t *testing.T, v Verdict, name string) Check {
	t.Helper()
	for _, c := range v.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no %q check in %+v", name, v.Checks)
	return Check{}
}

func TestRunAllGreen(t *testing.T) {
	env := newTestEnv(t)
	e := env.seedReady()
	v, err := env.judge.Run(context.Background(), e, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !v.Passed {
		t.Fatalf("expected pass, checks: %+v", v.Checks)
	}
	if len(v.Checks) != 7 {
		t.Fatalf("expected 7 checks, got %d", len(v.Checks))
	}
}

func TestRunFailsOnAnyFail(t *testing.T) {
	env := newTestEnv(t)
	e := env.seedReady()
	env.exec(func(tx *sql.Tx) error {
		return env.repo.InsertTestRun(context.Background(), tx, domain.TestRun{
			EngagementID: e.ID, Command: "go test ./...", ExitCode: 2,
			DurationMS: 800, CreatedAt: testNow.Format(time.RFC3339),
		})
	})
	v, err := env.judge.Run(context.Background(), e, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.Passed {
		t.Fatal("one failing check must fail the verdict")
	}
	if c := checkByName(t, v, "tests"); c.Status != StatusFail {
		t.Fatalf("tests status = %s", c.Status)
	}
	if len(v.Fixes) == 0 {
		t.Fatal("expected a suggested fix")
	}
}

func TestStaleTestRunWarnsOnly(t *testing.T) {
	env := newTestEnv(t)
	e := env.seedReady()
	env.exec(func(tx *sql.Tx) error {
		return env.repo.InsertTestRun(context.Background(), tx, domain.TestRun{
			EngagementID: e.ID, Command: "go test ./...", ExitCode: 0,
			DurationMS: 900, CreatedAt: testNow.Add(-2 * time.Hour).Format(time.RFC3339),
		})
	})
	v, err := env.judge.Run(context.Background(), e, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !v.Passed {
		t.Fatalf("warn must not fail the verdict: %+v", v.Checks)
	}
	if c := checkByName(t, v, "tests"); c.Status != StatusWarn {
		t.Fatalf("tests status = %s, want warn", c.Status)
	}
}

func TestToneSkippedWithoutDraft(t *testing.T) {
	env := newTestEnv(t)
	e := env.seedReady()
	e.Draft = nil
	v, err := env.judge.Run(context.Background(), e, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c := checkByName(t, v, "tone"); c.Status != StatusSkip {
		t.Fatalf("tone status = %s, want skip", c.Status)
	}
}

func TestMissingEvidenceFails(t *testing.T) {
	env := newTestEnv(t)
	e := env.seedReady()
	if err := os.Remove(filepath.Join(env.judge.EvidenceDir, e.ID, "diff.patch")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	v, err := env.judge.Run(context.Background(), e, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.Passed {
		t.Fatal("missing artifact must fail")
	}
	if c := checkByName(t, v, "evidence"); c.Status != StatusFail {
		t.Fatalf("evidence status = %s", c.Status)
	}
}

func TestUnacknowledgedRulesFailSubmitOnly(t *testing.T) {
	env := newTestEnv(t)
	e := env.seedReady()
	ctx := context.Background()
	p, err := env.repo.GetRulesProfile(ctx, e.Repo)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	p.ContentHash = "changed-hash"
	p.Changed = true
	if err := env.repo.UpsertRulesProfile(ctx, p); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}

	v, err := env.judge.Run(ctx, e, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c := checkByName(t, v, "rules"); c.Status != StatusWarn {
		t.Fatalf("pre-submit rules status = %s, want warn", c.Status)
	}

	v, err = env.judge.Run(ctx, e, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c := checkByName(t, v, "rules"); c.Status != StatusFail {
		t.Fatalf("submit rules status = %s, want fail", c.Status)
	}
	if v.Passed {
		t.Fatal("submit run must fail on unacknowledged rules")
	}
}

func TestNonWorkableEligibilityFails(t *testing.T) {
	env := newTestEnv(t)
	e := env.seedReady()
	env.exec(func(tx *sql.Tx) error {
		return env.repo.InsertEligibility(context.Background(), tx, domain.EligibilityRecord{
			EngagementID: e.ID, Verdict: "blocked_by_cla", Confidence: 0.9,
			ReasonsJSON: "[]", PreworkJSON: "[]",
			CreatedAt: testNow.Format(time.RFC3339),
		})
	})
	v, err := env.judge.Run(context.Background(), e, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c := checkByName(t, v, "eligibility"); c.Status != StatusFail {
		t.Fatalf("eligibility status = %s", c.Status)
	}
}

func TestCLARequiredNotCompletedFails(t *testing.T) {
	env := newTestEnv(t)
	e := env.seedReady()
	if err := env.repo.UpsertCLAStatus(context.Background(), domain.CLAStatus{
		Repo: e.Repo, Required: true, Completed: false,
		UpdatedAt: testNow.Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("upsert cla: %v", err)
	}
	v, err := env.judge.Run(context.Background(), e, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c := checkByName(t, v, "cla"); c.Status != StatusFail {
		t.Fatalf("cla status = %s", c.Status)
	}
}
