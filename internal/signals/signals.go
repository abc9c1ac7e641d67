// Package signals holds the plain facts extracted from an issue thread and
// its repository context. Signals are captured fresh per assessment pass
// and never persisted as-is.
package signals

import (
	"regexp"
	"strings"

	"bountyline/internal/domain"
	"bountyline/internal/forge"
)

// IssueSignals are the extracted facts about one issue and its thread.
// Immutable once captured for an assessment pass.
type IssueSignals struct {
	Title                    string   `json:"title"`
	Body                     string   `json:"body"`
	Labels                   []string `json:"labels"`
	CommentCount             int      `json:"comment_count"`
	MaintainerResponded      bool     `json:"maintainer_responded"`
	MaintainerInvited        bool     `json:"maintainer_invited"`
	MaintainerAskedDirection bool     `json:"maintainer_asked_direction"`
	OpenPRCount              int      `json:"open_pr_count"`
	ClaimantCount            int      `json:"claimant_count"`
}

// ContextSignals are the repo-level facts needed for eligibility.
// Supplied per call, not cached.
type ContextSignals struct {
	Rules        *domain.RulesProfile
	CLARequired  bool
	CLACompleted bool
	EnvRequired  bool
	EnvApproved  bool
}

var (
	invitePattern    = regexp.MustCompile(`(?i)\b(pr(s)? welcome|contributions? welcome|happy to (accept|review)|feel free to (open|submit|pick)|up for grabs|would (accept|welcome) a (pr|patch|fix))\b`)
	directionPattern = regexp.MustCompile(`(?i)\b(which approach|thoughts on the approach|need to decide|should we|open question|before (we|anyone) implement)\b`)
	claimPattern     = regexp.MustCompile(`(?i)\b(i('|a)?m working on (this|it)|i('|l)?ll take (this|it)|can i (take|work on|claim)|claiming this|assign (this )?to me|started working|i have a (fix|patch|draft))\b`)
)

// MaintainerInvite reports whether text explicitly invites a contribution.
func MaintainerInvite(text string) bool { return invitePattern.MatchString(text) }

// MaintainerAsksDirection reports whether text asks for an approach decision.
func MaintainerAsksDirection(text string) bool { return directionPattern.MatchString(text) }

// ClaimLanguage reports whether text claims the work.
func ClaimLanguage(text string) bool { return claimPattern.MatchString(text) }

// Capture builds IssueSignals from fetched issue data. Open and merged PRs
// both count as competition; closed-unmerged ones do not.
func Capture(issue forge.Issue, comments []forge.Comment, prs []forge.PullRequest) IssueSignals {
	s := IssueSignals{
		Title:        issue.Title,
		Body:         issue.Body,
		Labels:       issue.Labels,
		CommentCount: len(comments),
	}
	claimants := map[string]bool{}
	for _, c := range comments {
		if c.Maintainer() {
			s.MaintainerResponded = true
			if MaintainerInvite(c.Body) {
				s.MaintainerInvited = true
			}
			if MaintainerAsksDirection(c.Body) {
				s.MaintainerAskedDirection = true
			}
		} else if ClaimLanguage(c.Body) {
			claimants[strings.ToLower(c.Author)] = true
		}
	}
	if MaintainerInvite(issue.Body) {
		s.MaintainerInvited = true
	}
	for _, pr := range prs {
		if pr.State == "open" || pr.Merged {
			s.OpenPRCount++
		}
	}
	s.ClaimantCount = len(claimants)
	return s
}

// HasLabel reports whether the signals carry a label, case-insensitively.
func (s IssueSignals) HasLabel(names ...string) bool {
	for _, l := range s.Labels {
		for _, n := range names {
			if strings.EqualFold(l, n) {
				return true
			}
		}
	}
	return false
}
