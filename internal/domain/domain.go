package domain

// Engagement is one pursued bounty or reputation opportunity, tracked
// end-to-end through the qualify -> plan -> draft -> submit pipeline.
type Engagement struct {
	ID             string  `json:"id"`
	Kind           string  `json:"kind" enum:"paid,reputation"`
	Repo           string  `json:"repo"`
	IssueURL       string  `json:"issue_url"`
	IssueNumber    int     `json:"issue_number"`
	PRURL          *string `json:"pr_url,omitempty"`
	Title          string  `json:"title"`
	Payout         float64 `json:"payout"`
	Status         string  `json:"status" enum:"qualify,plan,draft,submitted,merged,completed,abandoned"`
	Plan           *string `json:"plan,omitempty"`
	Draft          *string `json:"draft,omitempty"`
	PlanApprovedAt *string `json:"plan_approved_at,omitempty" format:"date-time"`
	PlanApprovedBy *string `json:"plan_approved_by,omitempty"`
	SubmittedAt    *string `json:"submitted_at,omitempty" format:"date-time"`
	AbortReason    *string `json:"abort_reason,omitempty"`
	AbortNote      *string `json:"abort_note,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

// Terminal reports whether no further forward transition is possible.
func (e Engagement) Terminal() bool {
	switch e.Status {
	case "submitted", "merged", "completed", "abandoned":
		return true
	}
	return false
}

// RulesProfile is the cached contribution-rules document for one repository.
// ContentHash and AcknowledgedHash are distinct on purpose: a difference
// between them means the rules changed after the operator last agreed.
type RulesProfile struct {
	Repo             string  `json:"repo"`
	SourcePath       string  `json:"source_path,omitempty"`
	Content          string  `json:"content,omitempty"`
	ContentHash      string  `json:"content_hash"`
	AcknowledgedHash *string `json:"acknowledged_hash,omitempty"`
	AcknowledgedAt   *string `json:"acknowledged_at,omitempty" format:"date-time"`
	FetchedAt        string  `json:"fetched_at" format:"date-time"`
	Version          int     `json:"version"`
	Changed          bool    `json:"changed"`
	RulesJSON        string  `json:"rules_json"`
}

// RuleSet is the structured form parsed out of a rules document.
type RuleSet struct {
	CLARequired         bool   `json:"cla_required"`
	CLAProvider         string `json:"cla_provider,omitempty"`
	DCORequired         bool   `json:"dco_required"`
	TestsRequired       bool   `json:"tests_required"`
	TestFramework       string `json:"test_framework,omitempty"`
	LintTool            string `json:"lint_tool,omitempty"`
	ConventionalCommits bool   `json:"conventional_commits"`
	RequiredReviews     int    `json:"required_reviews"`
	Codeowners          bool   `json:"codeowners"`
}

// StyleGuideRecord stores a derived style guide for one repository. The
// guide itself is kept as JSON and regenerated wholesale on refresh.
type StyleGuideRecord struct {
	Repo        string `json:"repo"`
	GuideJSON   string `json:"guide_json"`
	SampleCount int    `json:"sample_count"`
	FetchedAt   string `json:"fetched_at" format:"date-time"`
}

// CLAStatus is the per-repository legal-agreement state. Completed and
// DCOEnabled are the only fields a human advances; the rest is synced
// from the rules profile.
type CLAStatus struct {
	Repo        string  `json:"repo"`
	Required    bool    `json:"required"`
	Completed   bool    `json:"completed"`
	DCORequired bool    `json:"dco_required"`
	DCOEnabled  bool    `json:"dco_enabled"`
	Provider    string  `json:"provider,omitempty"`
	EvidenceURL *string `json:"evidence_url,omitempty"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// EligibilityRecord is one stored eligibility assessment. Append-only.
type EligibilityRecord struct {
	ID           int64   `json:"id"`
	EngagementID string  `json:"engagement_id"`
	Verdict      string  `json:"verdict"`
	Confidence   float64 `json:"confidence"`
	ReasonsJSON  string  `json:"reasons_json"`
	PreworkJSON  string  `json:"prework_json"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// Metrics is the latest scoring snapshot for an engagement (upserted).
type Metrics struct {
	EngagementID       string  `json:"engagement_id"`
	WinProbability     float64 `json:"win_probability"`
	BreakdownJSON      string  `json:"breakdown_json"`
	EV                 float64 `json:"ev"`
	EVPerHour          float64 `json:"ev_per_hour"`
	OpportunityCost    float64 `json:"opportunity_cost"`
	TimeLoMinutes      int     `json:"time_lo_minutes"`
	TimeBestMinutes    int     `json:"time_best_minutes"`
	TimeHiMinutes      int     `json:"time_hi_minutes"`
	BuyBoxPassed       bool    `json:"buy_box_passed"`
	BuyBoxReasonsJSON  string  `json:"buy_box_reasons_json"`
	BuyBoxWarningsJSON string  `json:"buy_box_warnings_json"`
	Complexity         int     `json:"complexity"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

// CompetitionSnapshot is one competition check result. Append-only so
// deltas between consecutive snapshots stay reconstructable.
type CompetitionSnapshot struct {
	ID           int64  `json:"id"`
	EngagementID string `json:"engagement_id"`
	RiskScore    int    `json:"risk_score"`
	Action       string `json:"action"`
	DriversJSON  string `json:"drivers_json"`
	PRsJSON      string `json:"prs_json"`
	ClaimsJSON   string `json:"claims_json"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// JudgeRun is one compliance-gate run. Append-only.
type JudgeRun struct {
	ID           int64  `json:"id"`
	EngagementID string `json:"engagement_id"`
	Passed       bool   `json:"passed"`
	ChecksJSON   string `json:"checks_json"`
	FixesJSON    string `json:"fixes_json"`
	ForSubmit    bool   `json:"for_submit"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// TestRun records one local test-suite invocation. Append-only.
type TestRun struct {
	ID           int64  `json:"id"`
	EngagementID string `json:"engagement_id"`
	Command      string `json:"command"`
	ExitCode     int    `json:"exit_code"`
	DurationMS   int64  `json:"duration_ms"`
	Output       string `json:"output,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	Type         string `json:"type"`
	EngagementID string `json:"engagement_id,omitempty"`
	EntityKind   string `json:"entity_kind"`
	EntityID     string `json:"entity_id,omitempty"`
	ActorID      string `json:"actor_id"`
	Payload      string `json:"payload_json"`
}
