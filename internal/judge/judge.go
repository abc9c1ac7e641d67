// Package judge runs the pre-submission compliance gate. Every check
// reads previously materialized state; the judge itself never calls the
// forge or mutates anything.
package judge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bountyline/internal/cla"
	"bountyline/internal/domain"
	"bountyline/internal/repo"
	"bountyline/internal/rules"
	"bountyline/internal/style"
)

// Check statuses.
const (
	StatusPass = "pass"
	StatusFail = "fail"
	StatusWarn = "warn"
	StatusSkip = "skip"
)

// Evidence artifact names expected under the engagement's evidence dir.
var evidenceArtifacts = []string{"summary.md", "test-output.txt", "diff.patch"}

// testRunMaxAge is how old a passing test run may be before it only warns.
const testRunMaxAge = time.Hour

// Check is one named gate check outcome.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status" enum:"pass,fail,warn,skip"`
	Detail string `json:"detail,omitempty"`
}

// Fix is a suggested remediation for a failing or warning check.
type Fix struct {
	Check  string `json:"check"`
	Action string `json:"action"`
}

// Verdict is one full gate run.
type Verdict struct {
	Passed bool    `json:"passed"`
	Checks []Check `json:"checks"`
	Fixes  []Fix   `json:"fixes,omitempty"`
}

// Judge aggregates the individual compliance checks.
type Judge struct {
	Repo        repo.Repo
	Rules       *rules.Service
	Style       *style.Service
	EvidenceDir string
	Now         func() time.Time
}

func (j Judge) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now().UTC()
}

// Run evaluates all checks for the engagement. The verdict passes iff no
// check failed; forSubmit tightens the rules acknowledgment check.
func (j Judge) Run(ctx context.Context, e domain.Engagement, forSubmit bool) (Verdict, error) {
	var v Verdict
	checks := []func(context.Context, domain.Engagement, bool) (Check, *Fix, error){
		j.checkRules,
		j.checkStyle,
		j.checkTone,
		j.checkEvidence,
		j.checkTests,
		j.checkEligibility,
		j.checkCLA,
	}
	for _, fn := range checks {
		c, fix, err := fn(ctx, e, forSubmit)
		if err != nil {
			return Verdict{}, err
		}
		v.Checks = append(v.Checks, c)
		if fix != nil {
			v.Fixes = append(v.Fixes, *fix)
		}
	}
	v.Passed = true
	for _, c := range v.Checks {
		if c.Status == StatusFail {
			v.Passed = false
			break
		}
	}
	return v, nil
}

func (j Judge) checkRules(ctx context.Context, e domain.Engagement, forSubmit bool) (Check, *Fix, error) {
	res, err := j.Rules.CheckGate(ctx, e.Repo, forSubmit)
	if err != nil {
		return Check{}, nil, err
	}
	if !res.Passed {
		return Check{Name: "rules", Status: StatusFail, Detail: joinReasons(res.Reasons)},
			&Fix{Check: "rules", Action: "bl rules refresh " + e.Repo + " and bl rules ack " + e.Repo}, nil
	}
	if len(res.Warnings) > 0 {
		return Check{Name: "rules", Status: StatusWarn, Detail: joinReasons(res.Warnings)}, nil, nil
	}
	return Check{Name: "rules", Status: StatusPass}, nil, nil
}

func (j Judge) checkStyle(ctx context.Context, e domain.Engagement, _ bool) (Check, *Fix, error) {
	res, err := j.Style.CheckGate(ctx, e.Repo)
	if err != nil {
		return Check{}, nil, err
	}
	if !res.Passed {
		return Check{Name: "style", Status: StatusFail, Detail: joinReasons(res.Reasons)},
			&Fix{Check: "style", Action: "bl style refresh " + e.Repo}, nil
	}
	return Check{Name: "style", Status: StatusPass}, nil, nil
}

// checkTone lints the draft against the derived guide. No draft means
// there is nothing to lint yet.
func (j Judge) checkTone(ctx context.Context, e domain.Engagement, _ bool) (Check, *Fix, error) {
	if e.Draft == nil || *e.Draft == "" {
		return Check{Name: "tone", Status: StatusSkip, Detail: "no draft recorded"}, nil, nil
	}
	guide, err := j.Style.GuideFor(ctx, e.Repo)
	if errors.Is(err, repo.ErrNotFound) {
		return Check{Name: "tone", Status: StatusSkip, Detail: "no style guide to lint against"}, nil, nil
	}
	if err != nil {
		return Check{}, nil, err
	}
	issues := style.Lint(*e.Draft, guide)
	if len(issues) == 0 {
		return Check{Name: "tone", Status: StatusPass}, nil, nil
	}
	detail := fmt.Sprintf("%d lint issue(s): %s", len(issues), issues[0].Message)
	return Check{Name: "tone", Status: StatusWarn, Detail: detail},
		&Fix{Check: "tone", Action: "bl style lint to review draft issues"}, nil
}

func (j Judge) checkEvidence(_ context.Context, e domain.Engagement, _ bool) (Check, *Fix, error) {
	dir := filepath.Join(j.EvidenceDir, e.ID)
	var missing []string
	for _, name := range evidenceArtifacts {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() || info.Size() == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Check{Name: "evidence", Status: StatusFail, Detail: "missing artifacts: " + joinReasons(missing)},
			&Fix{Check: "evidence", Action: "write " + joinReasons(missing) + " under " + dir}, nil
	}
	return Check{Name: "evidence", Status: StatusPass}, nil, nil
}

func (j Judge) checkTests(ctx context.Context, e domain.Engagement, _ bool) (Check, *Fix, error) {
	run, err := j.Repo.LatestTestRun(ctx, e.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return Check{Name: "tests", Status: StatusFail, Detail: "no test run recorded"},
			&Fix{Check: "tests", Action: "bl test run to record a suite run"}, nil
	}
	if err != nil {
		return Check{}, nil, err
	}
	if run.ExitCode != 0 {
		return Check{Name: "tests", Status: StatusFail, Detail: fmt.Sprintf("latest test run exited %d", run.ExitCode)},
			&Fix{Check: "tests", Action: "fix the suite and rerun bl test run"}, nil
	}
	at, perr := time.Parse(time.RFC3339, run.CreatedAt)
	if perr == nil && j.now().Sub(at) > testRunMaxAge {
		return Check{Name: "tests", Status: StatusWarn, Detail: "latest passing run is over an hour old"}, nil, nil
	}
	return Check{Name: "tests", Status: StatusPass}, nil, nil
}

func (j Judge) checkEligibility(ctx context.Context, e domain.Engagement, _ bool) (Check, *Fix, error) {
	rec, err := j.Repo.LatestEligibility(ctx, e.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return Check{Name: "eligibility", Status: StatusFail, Detail: "no eligibility assessment on record"},
			&Fix{Check: "eligibility", Action: "bl qualify " + e.ID}, nil
	}
	if err != nil {
		return Check{}, nil, err
	}
	if rec.Verdict != "workable" {
		return Check{Name: "eligibility", Status: StatusFail, Detail: "latest verdict is " + rec.Verdict}, nil, nil
	}
	return Check{Name: "eligibility", Status: StatusPass}, nil, nil
}

func (j Judge) checkCLA(ctx context.Context, e domain.Engagement, _ bool) (Check, *Fix, error) {
	status, err := j.Repo.GetCLAStatus(ctx, e.Repo)
	if errors.Is(err, repo.ErrNotFound) {
		return Check{Name: "cla", Status: StatusPass, Detail: "no agreement requirements on record"}, nil, nil
	}
	if err != nil {
		return Check{}, nil, err
	}
	if cla.Blocked(status) {
		return Check{Name: "cla", Status: StatusFail, Detail: "required agreement not completed"},
			&Fix{Check: "cla", Action: "complete the CLA and bl cla complete " + e.Repo}, nil
	}
	if status.DCORequired && !status.DCOEnabled {
		return Check{Name: "cla", Status: StatusWarn, Detail: "DCO sign-off required but not enabled"},
			&Fix{Check: "cla", Action: "bl cla dco " + e.Repo}, nil
	}
	return Check{Name: "cla", Status: StatusPass}, nil, nil
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
