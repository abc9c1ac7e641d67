// Package eligibility classifies an issue as workable or blocked. The
// classification is an ordered list of guard clauses; the ordering is part
// of the contract, not an implementation detail.
package eligibility

import (
	"regexp"
	"strings"

	"bountyline/internal/signals"
)

type Verdict string

const (
	NotATask                Verdict = "not_a_task"
	NeedsMaintainerDecision Verdict = "needs_maintainer_decision"
	BlockedByCLA            Verdict = "blocked_by_cla"
	BlockedByEnv            Verdict = "blocked_by_env"
	UnclearRequirements     Verdict = "unclear_requirements"
	Workable                Verdict = "workable"
)

// Assessment is the verdict on workability. Total over well-formed input;
// never returns an error.
type Assessment struct {
	Verdict    Verdict  `json:"verdict"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
	Prework    []string `json:"prework,omitempty"`
}

var (
	questionPattern   = regexp.MustCompile(`(?i)^(how (do|can|to|should) |is it possible|is there a way|why (does|is|do) |what('s| is) the (best|right) way)`)
	supportPattern    = regexp.MustCompile(`(?i)\b(please help|any help appreciated|support request|usage question)\b`)
	decisionPattern   = regexp.MustCompile(`(?i)\b(rfc|proposal|design (doc|discussion)|api design|feature discussion)\b`)
	reproPattern      = regexp.MustCompile(`(?i)(steps to reproduce|repro(duction)? steps|to reproduce:)`)
	acceptancePattern = regexp.MustCompile(`(?i)(acceptance criteria|definition of done|expected (behavior|behaviour|outcome):|- \[ \])`)
)

var (
	questionLabels = []string{"question", "support", "discussion", "invalid"}
	decisionLabels = []string{"rfc", "proposal", "design", "needs-decision", "blocked", "on-hold", "needs-design"}
	workableLabels = []string{"good first issue", "help wanted", "bounty", "accepting prs", "bug"}
)

const shortBodyChars = 200

// Assess runs the priority-ordered classification. First match wins.
func Assess(is signals.IssueSignals, cs signals.ContextSignals) Assessment {
	if is.HasLabel(questionLabels...) || questionPattern.MatchString(is.Title) || supportPattern.MatchString(is.Body) {
		return Assessment{
			Verdict:    NotATask,
			Confidence: 0.9,
			Reasons:    []string{"issue reads as a question or support request, not a work item"},
		}
	}
	if is.HasLabel(decisionLabels...) || decisionPattern.MatchString(is.Title) || is.MaintainerAskedDirection {
		return Assessment{
			Verdict:    NeedsMaintainerDecision,
			Confidence: 0.8,
			Reasons:    []string{"maintainers have not settled on an approach yet"},
			Prework:    []string{"wait for or request a maintainer decision before starting"},
		}
	}
	if cs.CLARequired && !cs.CLACompleted {
		return Assessment{
			Verdict:    BlockedByCLA,
			Confidence: 1.0,
			Reasons:    []string{"repository requires a CLA that has not been completed"},
			Prework:    []string{"complete the repository CLA"},
		}
	}
	if cs.EnvRequired && !cs.EnvApproved {
		return Assessment{
			Verdict:    BlockedByEnv,
			Confidence: 1.0,
			Reasons:    []string{"required environment has not been approved"},
			Prework:    []string{"obtain environment approval"},
		}
	}
	return scoreFallback(is)
}

// scoreFallback is the additive confidence path. The point values are
// load-bearing: rebalancing them changes which issues get surfaced.
func scoreFallback(is signals.IssueSignals) Assessment {
	a := Assessment{Confidence: 0.5}
	hasAcceptance := acceptancePattern.MatchString(is.Body)
	hasRepro := reproPattern.MatchString(is.Body)

	if len(strings.TrimSpace(is.Body)) < shortBodyChars && !hasAcceptance {
		a.Confidence -= 0.15
		a.Reasons = append(a.Reasons, "description is short and has no acceptance criteria")
		a.Prework = append(a.Prework, "ask the maintainer to clarify scope and expected outcome")
	}
	if is.OpenPRCount >= 3 {
		a.Confidence -= 0.2
		a.Reasons = append(a.Reasons, "three or more competing pull requests already open")
	}
	if is.HasLabel(workableLabels...) {
		a.Confidence += 0.15
		a.Reasons = append(a.Reasons, "carries a workable label")
	}
	if is.MaintainerInvited {
		a.Confidence += 0.20
		a.Reasons = append(a.Reasons, "maintainer explicitly invited a contribution")
	}
	if hasRepro {
		a.Confidence += 0.10
		a.Reasons = append(a.Reasons, "reproduction steps present")
	}
	if hasAcceptance {
		a.Confidence += 0.10
		a.Reasons = append(a.Reasons, "acceptance criteria present")
	}
	if is.OpenPRCount == 0 && is.ClaimantCount == 0 {
		a.Confidence += 0.10
		a.Reasons = append(a.Reasons, "no competing work detected")
	}
	a.Confidence = clamp01(a.Confidence)

	switch {
	case a.Confidence < 0.6 && len(a.Prework) > 0:
		a.Verdict = UnclearRequirements
	case a.Confidence >= 0.5:
		a.Verdict = Workable
	default:
		a.Verdict = UnclearRequirements
		a.Prework = append(a.Prework, "ask the maintainer whether this issue is still wanted and how")
	}
	return a
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
