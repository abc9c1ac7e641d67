// Package rules keeps one canonical, freshness-bounded copy of a
// repository's contribution requirements. Change detection runs on two
// hashes: the current content hash and the hash the operator last
// acknowledged. A mismatch means the rules changed silently.
package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"bountyline/internal/domain"
	"bountyline/internal/forge"
	"bountyline/internal/repo"
)

// DefaultTTL is the rules freshness bound when no per-repo override applies.
const DefaultTTL = 7 * 24 * time.Hour

var candidatePaths = []string{
	"CONTRIBUTING.md",
	".github/CONTRIBUTING.md",
	"docs/CONTRIBUTING.md",
	"CONTRIBUTING.rst",
	"CONTRIBUTING",
}

type Service struct {
	Repo   repo.Repo
	Source forge.Source
	Now    func() time.Time
	// TTL resolves the freshness bound per repository.
	TTL func(repo string) time.Duration

	cache *lru.Cache[string, domain.RulesProfile]
}

func NewService(r repo.Repo, src forge.Source, ttl func(string) time.Duration) *Service {
	cache, _ := lru.New[string, domain.RulesProfile](64)
	return &Service{Repo: r, Source: src, Now: time.Now, TTL: ttl, cache: cache}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) ttl(repoID string) time.Duration {
	if s.TTL != nil {
		if d := s.TTL(repoID); d > 0 {
			return d
		}
	}
	return DefaultTTL
}

// Stale reports whether a profile's age exceeds the freshness bound.
func Stale(p domain.RulesProfile, now time.Time, ttl time.Duration) bool {
	fetched, err := time.Parse(time.RFC3339, p.FetchedAt)
	if err != nil {
		return true
	}
	return now.Sub(fetched) > ttl
}

// NeedsAcknowledgement reports whether the operator must (re-)approve the
// current rules: content exists and either nothing was ever acknowledged
// or the acknowledged hash no longer matches.
func NeedsAcknowledgement(p domain.RulesProfile) bool {
	if p.ContentHash == "" {
		return false
	}
	if p.AcknowledgedHash == nil {
		return true
	}
	return *p.AcknowledgedHash != p.ContentHash
}

// Ensure returns cached rules unless a refresh is forced, nothing is cached
// yet, or the cache age exceeds the TTL. A nil profile with nil error means
// the repository publishes no reachable rules document; callers treat that
// as a warning, not a failure.
func (s *Service) Ensure(ctx context.Context, repoID string, force bool) (*domain.RulesProfile, error) {
	if _, err := forge.ParseRepoID(repoID); err != nil {
		return nil, err
	}
	if !force {
		if p, ok := s.cache.Get(repoID); ok && !Stale(p, s.now(), s.ttl(repoID)) {
			return &p, nil
		}
		p, err := s.Repo.GetRulesProfile(ctx, repoID)
		if err == nil && !Stale(p, s.now(), s.ttl(repoID)) {
			s.cache.Add(repoID, p)
			return &p, nil
		}
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}
	return s.refresh(ctx, repoID)
}

func (s *Service) refresh(ctx context.Context, repoID string) (*domain.RulesProfile, error) {
	id, err := forge.ParseRepoID(repoID)
	if err != nil {
		return nil, err
	}
	prev, prevErr := s.Repo.GetRulesProfile(ctx, repoID)
	if prevErr != nil && !errors.Is(prevErr, repo.ErrNotFound) {
		return nil, prevErr
	}

	path, content, err := s.Source.File(ctx, id, candidatePaths)
	if err != nil {
		if errors.Is(err, forge.ErrNotFound) {
			return nil, nil
		}
		// Unreachable source degrades to the stale copy when one exists.
		if prevErr == nil {
			s.cache.Add(repoID, prev)
			return &prev, nil
		}
		return nil, fmt.Errorf("fetch rules for %s: %w", repoID, err)
	}

	hash := hashContent(content)
	parsed := Parse(string(content))
	rulesJSON, err := json.Marshal(parsed)
	if err != nil {
		return nil, err
	}
	p := domain.RulesProfile{
		Repo:        repoID,
		SourcePath:  path,
		Content:     string(content),
		ContentHash: hash,
		FetchedAt:   s.now().UTC().Format(time.RFC3339),
		Version:     1,
		RulesJSON:   string(rulesJSON),
	}
	if prevErr == nil {
		p.Version = prev.Version + 1
		p.Changed = prev.ContentHash != hash
		p.AcknowledgedHash = prev.AcknowledgedHash
		p.AcknowledgedAt = prev.AcknowledgedAt
	}
	if err := s.Repo.UpsertRulesProfile(ctx, p); err != nil {
		return nil, err
	}
	s.cache.Add(repoID, p)
	return &p, nil
}

// Acknowledge records the hash the operator approved.
func (s *Service) Acknowledge(ctx context.Context, repoID string) (domain.RulesProfile, error) {
	p, err := s.Repo.GetRulesProfile(ctx, repoID)
	if err != nil {
		return domain.RulesProfile{}, err
	}
	hash := p.ContentHash
	now := s.now().UTC().Format(time.RFC3339)
	p.AcknowledgedHash = &hash
	p.AcknowledgedAt = &now
	p.Changed = false
	if err := s.Repo.UpsertRulesProfile(ctx, p); err != nil {
		return domain.RulesProfile{}, err
	}
	s.cache.Add(repoID, p)
	return p, nil
}

// GateResult is a policy outcome, not an error.
type GateResult struct {
	Passed   bool     `json:"passed"`
	Reasons  []string `json:"reasons,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// CheckGate evaluates rules freshness and, for a submit operation,
// acknowledgment against the current hash.
func (s *Service) CheckGate(ctx context.Context, repoID string, forSubmit bool) (GateResult, error) {
	p, err := s.Repo.GetRulesProfile(ctx, repoID)
	if errors.Is(err, repo.ErrNotFound) {
		return GateResult{Passed: false, Reasons: []string{"no rules profile loaded; run bl rules refresh"}}, nil
	}
	if err != nil {
		return GateResult{}, err
	}
	res := GateResult{Passed: true}
	if Stale(p, s.now(), s.ttl(repoID)) {
		res.Passed = false
		res.Reasons = append(res.Reasons, "rules profile is stale; refresh before relying on it")
	}
	if forSubmit && NeedsAcknowledgement(p) {
		res.Passed = false
		res.Reasons = append(res.Reasons, "rules changed since last acknowledgment; review and acknowledge")
	} else if NeedsAcknowledgement(p) {
		res.Warnings = append(res.Warnings, "rules not acknowledged against current content")
	}
	return res, nil
}

// RuleSet unmarshals the structured rules out of a profile.
func RuleSet(p domain.RulesProfile) domain.RuleSet {
	var rs domain.RuleSet
	_ = json.Unmarshal([]byte(p.RulesJSON), &rs)
	return rs
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

var (
	claPattern        = regexp.MustCompile(`(?i)\b(cla|contributor license agreement)\b`)
	dcoPattern        = regexp.MustCompile(`(?i)(developer certificate of origin|\bdco\b|signed-off-by)`)
	testsPattern      = regexp.MustCompile(`(?i)((add|include|write) tests|tests? (are )?(required|mandatory)|must (include|have) tests|with tests)`)
	convCommitPattern = regexp.MustCompile(`(?i)conventional commits?`)
	codeownersPattern = regexp.MustCompile(`(?i)\bcodeowners\b`)
	reviewsPattern    = regexp.MustCompile(`(?i)(\d+|one|two)\s+(approving\s+)?(review|approval)s?`)
)

var testFrameworks = []string{"go test", "pytest", "jest", "vitest", "junit", "rspec", "cargo test", "mocha"}
var lintTools = []string{"golangci-lint", "eslint", "ruff", "clippy", "flake8", "prettier", "gofmt", "black"}
var claProviders = map[string]string{
	"cla-assistant": "cla-assistant",
	"easycla":       "easycla",
	"cla.developers.google.com": "google",
}

// Parse extracts structured rules from a rules document via keyword and
// pattern detection. Absence of a pattern means the rule is not required,
// never an error.
func Parse(text string) domain.RuleSet {
	lower := strings.ToLower(text)
	rs := domain.RuleSet{}
	if claPattern.MatchString(text) {
		rs.CLARequired = true
		for needle, provider := range claProviders {
			if strings.Contains(lower, needle) {
				rs.CLAProvider = provider
				break
			}
		}
	}
	if dcoPattern.MatchString(text) {
		rs.DCORequired = true
	}
	rs.TestsRequired = testsPattern.MatchString(text)
	for _, fw := range testFrameworks {
		if strings.Contains(lower, fw) {
			rs.TestFramework = fw
			break
		}
	}
	for _, tool := range lintTools {
		if strings.Contains(lower, tool) {
			rs.LintTool = tool
			break
		}
	}
	rs.ConventionalCommits = convCommitPattern.MatchString(text)
	rs.Codeowners = codeownersPattern.MatchString(text)
	if m := reviewsPattern.FindStringSubmatch(text); m != nil {
		switch strings.ToLower(m[1]) {
		case "one":
			rs.RequiredReviews = 1
		case "two":
			rs.RequiredReviews = 2
		default:
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 && n < 10 {
				rs.RequiredReviews = n
			}
		}
	}
	return rs
}
