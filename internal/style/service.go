package style

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"bountyline/internal/domain"
	"bountyline/internal/forge"
	"bountyline/internal/repo"
)

// DefaultTTL is the style freshness bound when no per-repo override applies.
const DefaultTTL = 30 * 24 * time.Hour

const maxSamples = 20

// Service caches derived style guides under the same TTL-staleness policy
// as rules profiles.
type Service struct {
	Repo   repo.Repo
	Source forge.Source
	Now    func() time.Time
	TTL    func(repo string) time.Duration

	cache *lru.Cache[string, domain.StyleGuideRecord]
}

func NewService(r repo.Repo, src forge.Source, ttl func(string) time.Duration) *Service {
	cache, _ := lru.New[string, domain.StyleGuideRecord](64)
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

// Stale reports whether a stored guide's age exceeds the freshness bound.
func Stale(rec domain.StyleGuideRecord, now time.Time, ttl time.Duration) bool {
	fetched, err := time.Parse(time.RFC3339, rec.FetchedAt)
	if err != nil {
		return true
	}
	return now.Sub(fetched) > ttl
}

// Ensure returns the cached guide unless a refresh is forced, nothing is
// cached yet, or the cache age exceeds the TTL.
func (s *Service) Ensure(ctx context.Context, repoID string, force bool) (domain.StyleGuideRecord, Guide, error) {
	if _, err := forge.ParseRepoID(repoID); err != nil {
		return domain.StyleGuideRecord{}, Guide{}, err
	}
	if !force {
		if rec, ok := s.cache.Get(repoID); ok && !Stale(rec, s.now(), s.ttl(repoID)) {
			return rec, decodeGuide(rec), nil
		}
		rec, err := s.Repo.GetStyleGuide(ctx, repoID)
		if err == nil && !Stale(rec, s.now(), s.ttl(repoID)) {
			s.cache.Add(repoID, rec)
			return rec, decodeGuide(rec), nil
		}
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return domain.StyleGuideRecord{}, Guide{}, err
		}
	}
	return s.refresh(ctx, repoID)
}

func (s *Service) refresh(ctx context.Context, repoID string) (domain.StyleGuideRecord, Guide, error) {
	id, err := forge.ParseRepoID(repoID)
	if err != nil {
		return domain.StyleGuideRecord{}, Guide{}, err
	}
	var samples []Sample
	pulls, err := s.Source.RecentMergedPulls(ctx, id, maxSamples)
	if err != nil {
		// Degrade to the stale copy when one exists; a guide derived from
		// zero samples otherwise.
		if rec, recErr := s.Repo.GetStyleGuide(ctx, repoID); recErr == nil {
			return rec, decodeGuide(rec), nil
		}
	} else {
		for _, pr := range pulls {
			samples = append(samples, Sample{Title: pr.Title, Body: pr.Body})
		}
		samples = append(samples, s.maintainerCommentSamples(ctx, id, pulls)...)
	}

	if len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}
	guide := Derive(samples)
	payload, err := json.Marshal(guide)
	if err != nil {
		return domain.StyleGuideRecord{}, Guide{}, err
	}
	rec := domain.StyleGuideRecord{
		Repo:        repoID,
		GuideJSON:   string(payload),
		SampleCount: len(samples),
		FetchedAt:   s.now().UTC().Format(time.RFC3339),
	}
	if err := s.Repo.UpsertStyleGuide(ctx, rec); err != nil {
		return domain.StyleGuideRecord{}, Guide{}, err
	}
	s.cache.Add(repoID, rec)
	return rec, guide, nil
}

// maintainerCommentSamples folds comments from accounts with elevated
// permissions on the sampled PR threads into the sample set. Thread
// fetches are bounded and failures just shrink the sample.
func (s *Service) maintainerCommentSamples(ctx context.Context, id forge.RepoID, pulls []forge.PullRequest) []Sample {
	const maxThreads = 5
	var samples []Sample
	for i, pr := range pulls {
		if i >= maxThreads {
			break
		}
		comments, err := s.Source.Comments(ctx, id, pr.Number)
		if err != nil {
			continue
		}
		for _, c := range comments {
			if !c.Maintainer() || c.Body == "" {
				continue
			}
			samples = append(samples, Sample{Body: c.Body})
		}
	}
	return samples
}

// CheckGate evaluates guide presence and freshness.
func (s *Service) CheckGate(ctx context.Context, repoID string) (GateResult, error) {
	rec, err := s.Repo.GetStyleGuide(ctx, repoID)
	if errors.Is(err, repo.ErrNotFound) {
		return GateResult{Passed: false, Reasons: []string{"no style guide derived; run bl style refresh"}}, nil
	}
	if err != nil {
		return GateResult{}, err
	}
	if Stale(rec, s.now(), s.ttl(repoID)) {
		return GateResult{Passed: false, Reasons: []string{"style guide is stale; refresh before drafting"}}, nil
	}
	return GateResult{Passed: true}, nil
}

// GateResult is a policy outcome, not an error.
type GateResult struct {
	Passed  bool     `json:"passed"`
	Reasons []string `json:"reasons,omitempty"`
}

// GuideFor loads and decodes the stored guide for a repository.
func (s *Service) GuideFor(ctx context.Context, repoID string) (Guide, error) {
	rec, err := s.Repo.GetStyleGuide(ctx, repoID)
	if err != nil {
		return Guide{}, fmt.Errorf("style guide for %s: %w", repoID, err)
	}
	return decodeGuide(rec), nil
}

func decodeGuide(rec domain.StyleGuideRecord) Guide {
	var g Guide
	_ = json.Unmarshal([]byte(rec.GuideJSON), &g)
	if len(g.RedFlags) == 0 {
		g.RedFlags = RedFlagPhrases
	}
	return g
}
