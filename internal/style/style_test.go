package style

import (
	"context"
	"strings"
	"testing"
	"time"

	"bountyline/internal/db"
	"bountyline/internal/forge"
	"bountyline/internal/migrate"
	"bountyline/internal/repo"
)

func TestDeriveEmptyInput(t *testing.T) {
	g := Derive(nil)
	if g.SampleCount != 0 {
		t.Fatalf("SampleCount = %d", g.SampleCount)
	}
	if g.LengthTarget != "medium" || g.Tone != "conversational" {
		t.Fatalf("neutral guide expected, got %+v", g)
	}
	if len(g.RedFlags) == 0 {
		t.Fatal("red-flag list missing from empty-input guide")
	}
}

func TestDeriveTerseRepo(t *testing.T) {
	samples := []Sample{
		{Title: "fix: handle nil receiver", Body: "Fixes #12. One-line nil check."},
		{Title: "fix: retry off-by-one", Body: "Fixes #15."},
		{Title: "chore: bump deps", Body: "Routine update."},
	}
	g := Derive(samples)
	if g.LengthTarget != "short" || g.Tone != "terse" {
		t.Fatalf("length=%s tone=%s, want short/terse", g.LengthTarget, g.Tone)
	}
	if !g.ConventionalCommits {
		t.Fatal("conventional commit titles not detected")
	}
	if g.Headings != "none" {
		t.Fatalf("Headings = %s, want none", g.Headings)
	}
	if g.IssueReference != "Fixes" {
		t.Fatalf("IssueReference = %s, want Fixes", g.IssueReference)
	}
}

func TestDeriveStructuredRepo(t *testing.T) {
	body := "## Summary\n" + strings.Repeat("This change reworks the scheduler internals in detail. ", 35) +
		"\n## Testing\n- unit suite\n- manual soak\n\nCloses #40\n"
	samples := []Sample{
		{Title: "Rework scheduler", Body: body},
		{Title: "Extend scheduler metrics", Body: body},
	}
	g := Derive(samples)
	if g.LengthTarget != "long" {
		t.Fatalf("LengthTarget = %s, want long", g.LengthTarget)
	}
	if g.Headings != "standard" {
		t.Fatalf("Headings = %s, want standard", g.Headings)
	}
	if g.IssueReference != "Closes" {
		t.Fatalf("IssueReference = %s, want Closes", g.IssueReference)
	}
	if g.ConventionalCommits {
		t.Fatal("conventional commits detected from plain titles")
	}
}

type threadSource struct {
	forge.Source
	merged   []forge.PullRequest
	comments map[int][]forge.Comment
}

func (s threadSource) RecentMergedPulls(ctx context.Context, id forge.RepoID, limit int) ([]forge.PullRequest, error) {
	return s.merged, nil
}

func (s threadSource) Comments(ctx context.Context, id forge.RepoID, number int) ([]forge.Comment, error) {
	return s.comments[number], nil
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
	s.Now = func() time.Time { return time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestRefreshSamplesMaintainerComments(t *testing.T) {
	src := threadSource{
		merged: []forge.PullRequest{
			{Number: 7, Title: "fix: plug the listener leak", Body: "Fixes #3."},
		},
		comments: map[int][]forge.Comment{
			7: {
				{ID: 1, Author: "owner", AuthorAssociation: "OWNER", Body: "Please squash before merge."},
				{ID: 2, Author: "driveby", AuthorAssociation: "NONE", Body: "any update on this?"},
				{ID: 3, Author: "member", AuthorAssociation: "MEMBER", Body: ""},
			},
		},
	}
	svc := newTestService(t, src)
	rec, _, err := svc.Ensure(context.Background(), "acme/widgets", true)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// One PR body plus the owner comment; outsider and empty comments
	// stay out of the sample.
	if rec.SampleCount != 2 {
		t.Fatalf("SampleCount = %d, want 2", rec.SampleCount)
	}
}

func TestLintCleanDraft(t *testing.T) {
	g := Derive(nil)
	draft := "Fix the retry backoff overflow.\n\nTesting: go test ./... plus a manual soak run.\n"
	if issues := Lint(draft, g); len(issues) != 0 {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}

func TestLintFindings(t *testing.T) {
	g := Guide{
		LengthTarget:  "short",
		Headings:      "none",
		BulletDensity: "low",
		RedFlags:      RedFlagPhrases,
	}
	draft := "# Overview\n" + strings.Repeat("word ", 200) +
		"\nI hope this helps!\n- a\n- b\n- c\n- d\n- e\n- f\n"
	issues := Lint(draft, g)
	kinds := map[string]bool{}
	for _, is := range issues {
		kinds[is.Kind] = true
	}
	for _, want := range []string{"length", "testing", "bullets", "headings", "red-flag"} {
		if !kinds[want] {
			t.Errorf("missing %s finding in %+v", want, issues)
		}
	}
}
