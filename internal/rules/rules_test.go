package rules

import (
	"context"
	"testing"
	"time"

	"bountyline/internal/db"
	"bountyline/internal/domain"
	"bountyline/internal/forge"
	"bountyline/internal/migrate"
	"bountyline/internal/repo"
)

var testNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

const contributing = `# Contributing

All contributors must sign our CLA via cla-assistant before we can merge.
Please add tests for any behavior change; we run go test in CI.
Commits follow Conventional Commits. Two approving reviews are required.
Run golangci-lint before pushing.
`

type stubSource struct {
	forge.Source
	content string
	err     error
}

func (s stubSource) File(ctx context.Context, id forge.RepoID, paths []string) (string, []byte, error) {
	if s.err != nil {
		return "", nil, s.err
	}
	return paths[0], []byte(s.content), nil
}

func newTestService(t *testing.T, src forge.Source) *Service {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	s := NewService(repo.Repo{DB: conn}, src, nil)
	s.Now = func() time.Time { return testNow }
	return s
}

func TestParse(t *testing.T) {
	rs := Parse(contributing)
	if !rs.CLARequired || rs.CLAProvider != "cla-assistant" {
		t.Fatalf("CLA not detected: %+v", rs)
	}
	if !rs.TestsRequired || rs.TestFramework != "go test" {
		t.Fatalf("tests requirement not detected: %+v", rs)
	}
	if !rs.ConventionalCommits {
		t.Fatal("conventional commits not detected")
	}
	if rs.RequiredReviews != 2 {
		t.Fatalf("RequiredReviews = %d, want 2", rs.RequiredReviews)
	}
	if rs.LintTool != "golangci-lint" {
		t.Fatalf("LintTool = %q", rs.LintTool)
	}
	if rs.DCORequired {
		t.Fatal("DCO detected without any signal")
	}
}

func TestParseDCO(t *testing.T) {
	rs := Parse("All commits must carry a Signed-off-by line (DCO).")
	if !rs.DCORequired {
		t.Fatal("DCO not detected")
	}
	if rs.CLARequired {
		t.Fatal("CLA detected without any signal")
	}
}

func TestStale(t *testing.T) {
	fresh := domain.RulesProfile{FetchedAt: testNow.Add(-6 * 24 * time.Hour).Format(time.RFC3339)}
	if Stale(fresh, testNow, DefaultTTL) {
		t.Fatal("6-day-old profile reported stale under a 7-day bound")
	}
	old := domain.RulesProfile{FetchedAt: testNow.Add(-8 * 24 * time.Hour).Format(time.RFC3339)}
	if !Stale(old, testNow, DefaultTTL) {
		t.Fatal("8-day-old profile reported fresh")
	}
	if !Stale(domain.RulesProfile{}, testNow, DefaultTTL) {
		t.Fatal("profile without a fetch timestamp must count as stale")
	}
}

func TestEnsureAndAcknowledge(t *testing.T) {
	s := newTestService(t, stubSource{content: contributing})
	ctx := context.Background()

	p, err := s.Ensure(ctx, "acme/widgets", false)
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.Version != 1 {
		t.Fatalf("first ensure: %+v", p)
	}
	if !NeedsAcknowledgement(*p) {
		t.Fatal("fresh profile should need acknowledgment")
	}

	acked, err := s.Acknowledge(ctx, "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	if NeedsAcknowledgement(acked) {
		t.Fatal("acknowledged profile still flagged")
	}

	// Same content on refresh: version bumps, acknowledgment survives.
	p2, err := s.Ensure(ctx, "acme/widgets", true)
	if err != nil {
		t.Fatal(err)
	}
	if p2.Version != 2 || p2.Changed {
		t.Fatalf("unchanged refresh: version=%d changed=%v", p2.Version, p2.Changed)
	}
	if NeedsAcknowledgement(*p2) {
		t.Fatal("unchanged content must not require re-acknowledgment")
	}
}

func TestContentChangeRequiresReack(t *testing.T) {
	src := &mutableSource{content: contributing}
	s := newTestService(t, src)
	ctx := context.Background()

	if _, err := s.Ensure(ctx, "acme/widgets", false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Acknowledge(ctx, "acme/widgets"); err != nil {
		t.Fatal(err)
	}

	src.content = contributing + "\nNew: all PRs need a changelog entry.\n"
	p, err := s.Ensure(ctx, "acme/widgets", true)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Changed {
		t.Fatal("content change not detected")
	}
	if !NeedsAcknowledgement(*p) {
		t.Fatal("changed content must require re-acknowledgment")
	}

	gate, err := s.CheckGate(ctx, "acme/widgets", true)
	if err != nil {
		t.Fatal(err)
	}
	if gate.Passed {
		t.Fatal("submit gate passed on unacknowledged change")
	}
	gate, err = s.CheckGate(ctx, "acme/widgets", false)
	if err != nil {
		t.Fatal(err)
	}
	if !gate.Passed || len(gate.Warnings) == 0 {
		t.Fatalf("non-submit gate should warn, not fail: %+v", gate)
	}
}

type mutableSource struct {
	forge.Source
	content string
}

func (s *mutableSource) File(ctx context.Context, id forge.RepoID, paths []string) (string, []byte, error) {
	return paths[0], []byte(s.content), nil
}

func TestMissingDocumentIsNotAnError(t *testing.T) {
	s := newTestService(t, stubSource{err: forge.ErrNotFound})
	p, err := s.Ensure(context.Background(), "acme/widgets", false)
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("expected nil profile for a repo without rules, got %+v", p)
	}
}

func TestGateWithoutProfileFails(t *testing.T) {
	s := newTestService(t, stubSource{})
	gate, err := s.CheckGate(context.Background(), "acme/widgets", false)
	if err != nil {
		t.Fatal(err)
	}
	if gate.Passed {
		t.Fatal("gate passed with no profile loaded")
	}
}
