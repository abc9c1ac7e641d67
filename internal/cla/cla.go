// Package cla tracks the per-repository legal-agreement state. Requirement
// flags sync from the rules profile; completion is the only field a human
// advances.
package cla

import (
	"context"
	"errors"
	"time"

	"bountyline/internal/domain"
	"bountyline/internal/repo"
	"bountyline/internal/rules"
)

type Service struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sync derives requirement flags from a rules profile, preserving the
// human-advanced fields from any previous status.
func (s Service) Sync(ctx context.Context, repoID string, profile *domain.RulesProfile) (domain.CLAStatus, error) {
	prev, err := s.Repo.GetCLAStatus(ctx, repoID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.CLAStatus{}, err
	}
	status := domain.CLAStatus{
		Repo:        repoID,
		Completed:   prev.Completed,
		DCOEnabled:  prev.DCOEnabled,
		EvidenceURL: prev.EvidenceURL,
		UpdatedAt:   s.now().UTC().Format(time.RFC3339),
	}
	if profile != nil {
		rs := rules.RuleSet(*profile)
		status.Required = rs.CLARequired
		status.DCORequired = rs.DCORequired
		status.Provider = rs.CLAProvider
	}
	if err := s.Repo.UpsertCLAStatus(ctx, status); err != nil {
		return domain.CLAStatus{}, err
	}
	return status, nil
}

// Get returns the stored status; a zero status for the repo if none exists.
func (s Service) Get(ctx context.Context, repoID string) (domain.CLAStatus, error) {
	status, err := s.Repo.GetCLAStatus(ctx, repoID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.CLAStatus{Repo: repoID, UpdatedAt: s.now().UTC().Format(time.RFC3339)}, nil
	}
	return status, err
}

// MarkCompleted records CLA completion with optional evidence.
func (s Service) MarkCompleted(ctx context.Context, repoID, evidenceURL string) (domain.CLAStatus, error) {
	status, err := s.Get(ctx, repoID)
	if err != nil {
		return domain.CLAStatus{}, err
	}
	status.Completed = true
	if evidenceURL != "" {
		status.EvidenceURL = &evidenceURL
	}
	status.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	if err := s.Repo.UpsertCLAStatus(ctx, status); err != nil {
		return domain.CLAStatus{}, err
	}
	return status, nil
}

// EnableDCO records that commit sign-off is configured locally.
func (s Service) EnableDCO(ctx context.Context, repoID string) (domain.CLAStatus, error) {
	status, err := s.Get(ctx, repoID)
	if err != nil {
		return domain.CLAStatus{}, err
	}
	status.DCOEnabled = true
	status.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	if err := s.Repo.UpsertCLAStatus(ctx, status); err != nil {
		return domain.CLAStatus{}, err
	}
	return status, nil
}

// Blocked reports whether the legal state blocks starting work.
func Blocked(status domain.CLAStatus) bool {
	return status.Required && !status.Completed
}
