// Package style derives a descriptive writing-style guide from a bounded
// sample of merged change descriptions and lints arbitrary text against
// it. The guide is statistical, regenerated wholesale on each refresh,
// never patched incrementally.
package style

import (
	"regexp"
	"strings"
)

// Guide is the derived writing-style profile for one repository.
type Guide struct {
	LengthTarget        string   `json:"length_target" enum:"short,medium,long"`
	Headings            string   `json:"headings" enum:"none,minimal,standard"`
	BulletDensity       string   `json:"bullet_density" enum:"low,medium,high"`
	Tone                string   `json:"tone" enum:"terse,conversational,detailed"`
	IssueReference      string   `json:"issue_reference" enum:"Fixes,Closes,Refs"`
	ConventionalCommits bool     `json:"conventional_commits"`
	RedFlags            []string `json:"red_flags"`
	AvgBodyChars        int      `json:"avg_body_chars"`
	SampleCount         int      `json:"sample_count"`
}

// Sample is one merged change description or maintainer comment.
type Sample struct {
	Title string
	Body  string
}

// RedFlagPhrases is the fixed "sounds AI-generated" list. Always included
// in a derived guide regardless of sample contents.
var RedFlagPhrases = []string{
	"i hope this helps",
	"i apologize for",
	"as an ai",
	"certainly!",
	"great question",
	"happy to help",
	"i'd be happy to",
	"it's worth noting that",
	"please don't hesitate",
	"let me know if you have any questions",
	"delve",
}

var (
	headingPattern    = regexp.MustCompile(`(?m)^#{1,6}\s`)
	bulletPattern     = regexp.MustCompile(`(?m)^\s*[-*]\s`)
	convCommitTitle   = regexp.MustCompile(`^(feat|fix|docs|chore|refactor|test|perf|build|ci|style)(\([^)]+\))?(!)?: `)
	fixesPattern      = regexp.MustCompile(`(?i)\bfixes\s+#\d+`)
	closesPattern     = regexp.MustCompile(`(?i)\bcloses\s+#\d+`)
	refsPattern       = regexp.MustCompile(`(?i)\brefs?\s+#\d+`)
	testingPattern    = regexp.MustCompile(`(?im)(^#{1,6}\s*test(ing)?\b|\btest(ed|ing)\s+(plan|notes)\b|^testing:)`)
)

// Derive builds a guide from samples. Purely statistical; empty input
// yields a neutral guide with only the red-flag list populated.
func Derive(samples []Sample) Guide {
	g := Guide{
		LengthTarget:   "medium",
		Headings:       "minimal",
		BulletDensity:  "low",
		Tone:           "conversational",
		IssueReference: "Fixes",
		RedFlags:       RedFlagPhrases,
		SampleCount:    len(samples),
	}
	if len(samples) == 0 {
		return g
	}

	totalChars := 0
	withHeadings := 0
	totalBullets := 0
	convTitles := 0
	fixes, closes, refs := 0, 0, 0
	for _, s := range samples {
		totalChars += len(s.Body)
		if headingPattern.MatchString(s.Body) {
			withHeadings++
		}
		totalBullets += len(bulletPattern.FindAllString(s.Body, -1))
		if convCommitTitle.MatchString(s.Title) {
			convTitles++
		}
		fixes += len(fixesPattern.FindAllString(s.Body, -1))
		closes += len(closesPattern.FindAllString(s.Body, -1))
		refs += len(refsPattern.FindAllString(s.Body, -1))
	}

	avg := totalChars / len(samples)
	g.AvgBodyChars = avg
	switch {
	case avg < 400:
		g.LengthTarget = "short"
		g.Tone = "terse"
	case avg < 1500:
		g.LengthTarget = "medium"
		g.Tone = "conversational"
	default:
		g.LengthTarget = "long"
		g.Tone = "detailed"
	}

	headingRatio := float64(withHeadings) / float64(len(samples))
	switch {
	case headingRatio < 0.2:
		g.Headings = "none"
	case headingRatio < 0.6:
		g.Headings = "minimal"
	default:
		g.Headings = "standard"
	}

	avgBullets := float64(totalBullets) / float64(len(samples))
	switch {
	case avgBullets < 3:
		g.BulletDensity = "low"
	case avgBullets < 8:
		g.BulletDensity = "medium"
	default:
		g.BulletDensity = "high"
	}

	// Simple majority among the three closing keywords.
	if closes > fixes && closes >= refs {
		g.IssueReference = "Closes"
	} else if refs > fixes && refs > closes {
		g.IssueReference = "Refs"
	}

	g.ConventionalCommits = convTitles*2 > len(samples)
	return g
}

// LintIssue is one style finding. Findings are advisory values, never errors.
type LintIssue struct {
	Kind    string `json:"kind" enum:"length,testing,bullets,headings,red-flag"`
	Message string `json:"message"`
}

var lengthCeilings = map[string]int{"short": 800, "medium": 3000}

var bulletCeilings = map[string]int{"low": 5, "medium": 10, "high": 20}

// Lint scores text against a guide.
func Lint(text string, g Guide) []LintIssue {
	var issues []LintIssue
	if ceil, ok := lengthCeilings[g.LengthTarget]; ok && len(text) > ceil {
		issues = append(issues, LintIssue{
			Kind:    "length",
			Message: "text runs long for this repository; merged descriptions average " + g.LengthTarget,
		})
	}
	if !testingPattern.MatchString(text) {
		issues = append(issues, LintIssue{
			Kind:    "testing",
			Message: "no testing section found; describe how the change was verified",
		})
	}
	bullets := len(bulletPattern.FindAllString(text, -1))
	if ceil, ok := bulletCeilings[g.BulletDensity]; ok && bullets > ceil {
		issues = append(issues, LintIssue{
			Kind:    "bullets",
			Message: "bullet density exceeds what this repository's descriptions use",
		})
	}
	if g.Headings == "none" && headingPattern.MatchString(text) {
		issues = append(issues, LintIssue{
			Kind:    "headings",
			Message: "headings are unusual in this repository's descriptions",
		})
	}
	lower := strings.ToLower(text)
	for _, phrase := range g.RedFlags {
		if strings.Contains(lower, phrase) {
			issues = append(issues, LintIssue{
				Kind:    "red-flag",
				Message: "phrase sounds generated: " + quote(phrase),
			})
		}
	}
	return issues
}

func quote(s string) string { return `"` + s + `"` }
