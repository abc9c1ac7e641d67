// Package score holds the expected-value model: the five-factor win
// probability, EV arithmetic, the buy-box threshold gate, and the
// auxiliary complexity estimate. Everything here is pure and
// deterministic; unknown inputs degrade to policy defaults, they never
// error.
package score

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Weights of the five win-probability factors. Fixed; they sum to 1.0.
const (
	WeightResponsiveness = 0.20
	WeightCompetition    = 0.25
	WeightCIHealth       = 0.15
	WeightClarity        = 0.20
	WeightMaintainer     = 0.20
)

// UnknownFactor is the default for any factor with no data.
const UnknownFactor = 0.5

// Factors are the raw factor scores. A nil entry means unknown.
type Factors struct {
	Responsiveness *float64
	Competition    *float64
	CIHealth       *float64
	Clarity        *float64
	Maintainer     *float64
}

// WinProbability is the weighted five-factor model output.
type WinProbability struct {
	Factors map[string]float64 `json:"factors"`
	Weights map[string]float64 `json:"weights"`
	Overall float64            `json:"overall"`
}

// CalcWinProbability combines the factors. Overall is always within [0,1].
func CalcWinProbability(f Factors) WinProbability {
	factors := map[string]float64{
		"responsiveness": orUnknown(f.Responsiveness),
		"competition":    orUnknown(f.Competition),
		"ci_health":      orUnknown(f.CIHealth),
		"clarity":        orUnknown(f.Clarity),
		"maintainer":     orUnknown(f.Maintainer),
	}
	weights := map[string]float64{
		"responsiveness": WeightResponsiveness,
		"competition":    WeightCompetition,
		"ci_health":      WeightCIHealth,
		"clarity":        WeightClarity,
		"maintainer":     WeightMaintainer,
	}
	overall := 0.0
	for name, w := range weights {
		overall += factors[name] * w
	}
	return WinProbability{Factors: factors, Weights: weights, Overall: clamp01(overall)}
}

func orUnknown(v *float64) float64 {
	if v == nil {
		return UnknownFactor
	}
	return clamp01(*v)
}

// ResponsivenessFactor maps the median maintainer response time in hours.
func ResponsivenessFactor(medianHours float64) float64 {
	switch {
	case medianHours <= 4:
		return 0.95
	case medianHours <= 24:
		return 0.80
	case medianHours <= 72:
		return 0.60
	case medianHours <= 168:
		return 0.40
	default:
		return 0.20
	}
}

// CompetitionFactor maps the number of competing pull requests.
func CompetitionFactor(competitors int) float64 {
	switch {
	case competitors <= 0:
		return 0.95
	case competitors == 1:
		return 0.75
	case competitors == 2:
		return 0.50
	case competitors == 3:
		return 0.30
	default:
		return 0.10
	}
}

// CIHealthFactor maps the CI flake rate (0..1).
func CIHealthFactor(flakeRate float64) float64 {
	switch {
	case flakeRate <= 0.01:
		return 0.95
	case flakeRate <= 0.05:
		return 0.80
	case flakeRate <= 0.10:
		return 0.60
	case flakeRate <= 0.20:
		return 0.40
	default:
		return 0.20
	}
}

// ClarityFactor maps an eligibility confidence straight through.
func ClarityFactor(confidence float64) float64 {
	return clamp01(confidence)
}

// MaintainerFactor maps a 0-10 maintainer quality score.
func MaintainerFactor(score float64) float64 {
	return clamp01(score / 10)
}

// MaxMinutes caps any time estimate at eight hours.
const MaxMinutes = 480

// TimeEstimate is an optimistic/best/pessimistic estimate in minutes.
type TimeEstimate struct {
	LoMinutes   int `json:"lo_minutes"`
	BestMinutes int `json:"best_minutes"`
	HiMinutes   int `json:"hi_minutes"`
}

// Normalize enforces lo <= best <= hi <= MaxMinutes.
func (t TimeEstimate) Normalize() TimeEstimate {
	if t.LoMinutes < 0 {
		t.LoMinutes = 0
	}
	if t.BestMinutes < t.LoMinutes {
		t.BestMinutes = t.LoMinutes
	}
	if t.HiMinutes < t.BestMinutes {
		t.HiMinutes = t.BestMinutes
	}
	if t.HiMinutes > MaxMinutes {
		t.HiMinutes = MaxMinutes
	}
	if t.BestMinutes > MaxMinutes {
		t.BestMinutes = MaxMinutes
	}
	if t.LoMinutes > MaxMinutes {
		t.LoMinutes = MaxMinutes
	}
	return t
}

// EV is an expected-value calculation.
type EV struct {
	Payout          float64      `json:"payout"`
	WinProbability  float64      `json:"win_probability"`
	Estimate        TimeEstimate `json:"estimate"`
	HourlyTarget    float64      `json:"hourly_target"`
	OpportunityCost float64      `json:"opportunity_cost"`
	Value           float64      `json:"ev"`
	PerHour         float64      `json:"ev_per_hour"`
}

// CalcEV computes payout x winProbability minus the opportunity cost of the
// best-case estimate at the hourly target.
func CalcEV(payout, winProbability float64, est TimeEstimate, hourlyTarget float64) EV {
	est = est.Normalize()
	hours := float64(est.BestMinutes) / 60
	cost := hours * hourlyTarget
	ev := payout*winProbability - cost
	perHour := 0.0
	if hours > 0 {
		perHour = ev / hours
	}
	return EV{
		Payout:          payout,
		WinProbability:  clamp01(winProbability),
		Estimate:        est,
		HourlyTarget:    hourlyTarget,
		OpportunityCost: cost,
		Value:           ev,
		PerHour:         perHour,
	}
}

// BuyBox is the configurable go/no-go threshold set.
type BuyBox struct {
	MinEV                  float64 `json:"min_ev"`
	MinWinProbability      float64 `json:"min_win_probability"`
	MaxTimeToFirstGreenMin int     `json:"max_time_to_first_green_minutes"`
	MinMaintainerScore     float64 `json:"min_maintainer_score"`
	MaxCompetingPRs        int     `json:"max_competing_prs"`
}

// BuyBoxInput carries the observed metrics. A nil entry is unknown
// telemetry: it becomes a warning, never a failure and never an approval.
type BuyBoxInput struct {
	EV                  *float64
	WinProbability      *float64
	TimeToFirstGreenMin *int
	MaintainerScore     *float64
	CompetingPRs        *int
}

// BuyBoxResult is the gate verdict. Pure: identical inputs yield
// identical results.
type BuyBoxResult struct {
	Passed   bool     `json:"passed"`
	Reasons  []string `json:"reasons,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// CheckBuyBox evaluates every configured threshold independently. Any
// unmet known threshold is a hard fail with a specific reason.
func CheckBuyBox(in BuyBoxInput, bb BuyBox) BuyBoxResult {
	res := BuyBoxResult{Passed: true}
	if in.EV == nil {
		res.Warnings = append(res.Warnings, "no EV on record")
	} else if *in.EV < bb.MinEV {
		res.Passed = false
		res.Reasons = append(res.Reasons, fmt.Sprintf("EV %.2f below minimum %.2f", *in.EV, bb.MinEV))
	}
	if in.WinProbability == nil {
		res.Warnings = append(res.Warnings, "no win probability on record")
	} else if *in.WinProbability < bb.MinWinProbability {
		res.Passed = false
		res.Reasons = append(res.Reasons, fmt.Sprintf("win probability %.2f below minimum %.2f", *in.WinProbability, bb.MinWinProbability))
	}
	if in.TimeToFirstGreenMin == nil {
		res.Warnings = append(res.Warnings, "no time-to-first-green on record")
	} else if *in.TimeToFirstGreenMin > bb.MaxTimeToFirstGreenMin {
		res.Passed = false
		res.Reasons = append(res.Reasons, fmt.Sprintf("time to first green %dm above maximum %dm", *in.TimeToFirstGreenMin, bb.MaxTimeToFirstGreenMin))
	}
	if in.MaintainerScore == nil {
		res.Warnings = append(res.Warnings, "no maintainer score on record")
	} else if *in.MaintainerScore < bb.MinMaintainerScore {
		res.Passed = false
		res.Reasons = append(res.Reasons, fmt.Sprintf("maintainer score %.1f below minimum %.1f", *in.MaintainerScore, bb.MinMaintainerScore))
	}
	if in.CompetingPRs == nil {
		res.Warnings = append(res.Warnings, "no competing-PR count on record")
	} else if *in.CompetingPRs > bb.MaxCompetingPRs {
		res.Passed = false
		res.Reasons = append(res.Reasons, fmt.Sprintf("%d competing PRs above maximum %d", *in.CompetingPRs, bb.MaxCompetingPRs))
	}
	return res
}

var (
	easyPattern = regexp.MustCompile(`(?i)\b(typo|docs?( fix)?|readme|comment|rename|broken link)\b`)
	hardPattern = regexp.MustCompile(`(?i)\b(race|deadlock|concurren\w+|migration|protocol|security|refactor|breaking|performance|memory leak)\b`)
)

// Complexity estimates task complexity 0-100 from title/body/label keyword
// heuristics. Independent of the gate chain.
func Complexity(title, body string, labels []string) int {
	score := 20.0
	text := title + "\n" + body
	score += 15 * float64(len(hardPattern.FindAllString(text, -1)))
	score -= 10 * float64(len(easyPattern.FindAllString(text, -1)))
	for _, l := range labels {
		switch strings.ToLower(l) {
		case "epic":
			score += 25
		case "breaking change", "breaking-change":
			score += 20
		case "refactor":
			score += 15
		case "good first issue":
			score -= 15
		case "help wanted":
			score -= 5
		}
	}
	// Longer writeups tend to cover harder problems; cap the contribution.
	score += math.Min(float64(len(body))/200, 15)
	return int(math.Round(math.Max(0, math.Min(100, score))))
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
