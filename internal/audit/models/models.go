package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	id "sitecheck/pkg/domain"
	dErrors "sitecheck/pkg/domain-errors"
)

// Tier is the plan-derived audit depth class, fixed at run creation.
type Tier string

const (
	TierFree       Tier = "FREE"
	TierPaid       Tier = "PAID"
	TierEnterprise Tier = "ENTERPRISE"
)

// IsValid checks if the tier is one of the supported enum values.
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierPaid, TierEnterprise:
		return true
	}
	return false
}

// ParseTier constructs a Tier from external input.
func ParseTier(s string) (Tier, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "tier cannot be empty")
	}
	t := Tier(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid tier: must be FREE, PAID or ENTERPRISE")
	}
	return t, nil
}

// TierLimits bundles the knobs that vary by plan.
type TierLimits struct {
	// MaxDomains caps distinct domains per user; -1 means unbounded.
	MaxDomains int
	// DailyAudits caps audits per (user, domain, day).
	DailyAudits int
	// PageBudget caps how many URLs one run analyzes.
	PageBudget int
	// IncludeBlogSections admits long-form content paths into page selection.
	IncludeBlogSections bool
	// UnifiedAudit runs one combined category task instead of a fan-out.
	UnifiedAudit bool
	// Deadline bounds the background run end to end.
	Deadline time.Duration
}

// tierLimits is the single source of truth for plan limits.
var tierLimits = map[Tier]TierLimits{
	TierFree: {
		MaxDomains:   1,
		DailyAudits:  3,
		PageBudget:   2,
		UnifiedAudit: true,
		Deadline:     4 * time.Minute,
	},
	TierPaid: {
		MaxDomains:          5,
		DailyAudits:         10,
		PageBudget:          20,
		IncludeBlogSections: true,
		Deadline:            7 * time.Minute,
	},
	TierEnterprise: {
		MaxDomains:          -1,
		DailyAudits:         50,
		PageBudget:          20,
		IncludeBlogSections: true,
		Deadline:            7 * time.Minute,
	},
}

// Limits returns the limits for the tier, defaulting to FREE for safety.
func (t Tier) Limits() TierLimits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// RunStatus is the audit run state machine: pending -> completed | failed.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// IsValid checks if the run status is one of the supported enum values.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunPending, RunCompleted, RunFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// CanTransitionTo enforces the monotonic state machine.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	return s == RunPending && next.IsTerminal()
}

// IssueStatus tracks a finding's user-visible state. All transitions are
// user-issued except the restore back to active.
type IssueStatus string

const (
	IssueActive   IssueStatus = "active"
	IssueIgnored  IssueStatus = "ignored"
	IssueResolved IssueStatus = "resolved"
)

// IsValid checks if the issue status is one of the supported enum values.
func (s IssueStatus) IsValid() bool {
	switch s {
	case IssueActive, IssueIgnored, IssueResolved:
		return true
	}
	return false
}

// ParseIssueStatus constructs an IssueStatus from external input.
func ParseIssueStatus(raw string) (IssueStatus, error) {
	if raw == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "status cannot be empty")
	}
	s := IssueStatus(raw)
	if !s.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid status: must be active, ignored or resolved")
	}
	return s, nil
}

// IsDismissed reports whether the user has closed this issue. Dismissed
// signatures suppress rediscovered findings.
func (s IssueStatus) IsDismissed() bool {
	return s == IssueIgnored || s == IssueResolved
}

// Category scopes one analysis task.
type Category string

const (
	CategoryLanguage   Category = "Language"
	CategoryFacts      Category = "Facts & Consistency"
	CategoryFormatting Category = "Links & Formatting"
)

// AllCategories lists the category fan-out for non-unified tiers.
var AllCategories = []Category{CategoryLanguage, CategoryFacts, CategoryFormatting}

// IsValid checks if the category is one of the supported enum values.
func (c Category) IsValid() bool {
	switch c {
	case CategoryLanguage, CategoryFacts, CategoryFormatting:
		return true
	}
	return false
}

// Severity grades a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid checks if the severity is one of the supported enum values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Location points at one occurrence of a finding.
type Location struct {
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Finding is one raw result from the analysis backend, before deduplication.
type Finding struct {
	Category     Category   `json:"category"`
	Description  string     `json:"description"`
	Severity     Severity   `json:"severity"`
	SuggestedFix string     `json:"suggested_fix"`
	Locations    []Location `json:"locations"`
}

// Issue is a persisted finding in a domain's history.
type Issue struct {
	ID           id.IssueID  `json:"id"`
	RunID        id.RunID    `json:"run_id"`
	Domain       string      `json:"domain"`
	Category     Category    `json:"category"`
	Description  string      `json:"description"`
	Severity     Severity    `json:"severity"`
	SuggestedFix string      `json:"suggested_fix"`
	Locations    []Location  `json:"locations"`
	Status       IssueStatus `json:"status"`
	Signature    string      `json:"signature"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// NewIssue creates an active Issue from a deduplicated finding.
func NewIssue(runID id.RunID, domain string, f Finding) (*Issue, error) {
	if runID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "run_id cannot be nil")
	}
	if domain == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "domain cannot be empty")
	}
	if !f.Category.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid category")
	}
	if strings.TrimSpace(f.Description) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "description cannot be empty")
	}
	severity := f.Severity
	if !severity.IsValid() {
		severity = SeverityLow
	}

	now := time.Now()
	return &Issue{
		ID:           id.NewIssueID(),
		RunID:        runID,
		Domain:       domain,
		Category:     f.Category,
		Description:  f.Description,
		Severity:     severity,
		SuggestedFix: f.SuggestedFix,
		Locations:    f.Locations,
		Status:       IssueActive,
		Signature:    Signature(domain, f.Category, f.Description),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ResultPayload is the terminal payload of a run. Shape depends on status:
// completed runs carry issues and audited URLs, failed runs carry the error.
type ResultPayload struct {
	Issues      []Issue  `json:"issues,omitempty"`
	AuditedURLs []string `json:"audited_urls,omitempty"`
	Error       string   `json:"error,omitempty"`
	Blocked     bool     `json:"blocked,omitempty"`
}

// AuditRun is one audit execution.
type AuditRun struct {
	ID           id.RunID       `json:"id"`
	UserID       id.UserID      `json:"user_id,omitempty"`
	SessionToken string         `json:"session_token,omitempty"`
	Domain       string         `json:"domain"`
	Tier         Tier           `json:"tier"`
	Status       RunStatus      `json:"status"`
	PagesScanned int            `json:"pages_scanned"`
	Result       *ResultPayload `json:"result,omitempty"`
	IsPreview    bool           `json:"is_preview"`
	CreatedAt    time.Time      `json:"created_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// Owner describes exactly one of an authenticated user or an anonymous
// session. The zero value is invalid.
type Owner struct {
	UserID       id.UserID
	SessionToken string
}

// Validate enforces ownership exclusivity.
func (o Owner) Validate() error {
	authed := !o.UserID.IsNil()
	anon := o.SessionToken != ""
	if authed == anon {
		return dErrors.New(dErrors.CodeInvariantViolation, "exactly one of user_id or session_token must be set")
	}
	return nil
}

// IsAnonymous reports whether the owner is a session rather than a user.
func (o Owner) IsAnonymous() bool { return o.UserID.IsNil() }

// NewAuditRun creates a pending run with domain invariant validation. The
// preview flag is true for anonymous or free-tier runs and stays false
// otherwise; a successful claim clears it for good.
func NewAuditRun(owner Owner, domain string, tier Tier) (*AuditRun, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if domain == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "domain cannot be empty")
	}
	if !tier.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid tier")
	}

	return &AuditRun{
		ID:           id.NewRunID(),
		UserID:       owner.UserID,
		SessionToken: owner.SessionToken,
		Domain:       domain,
		Tier:         tier,
		Status:       RunPending,
		IsPreview:    owner.IsAnonymous() || tier == TierFree,
		CreatedAt:    time.Now(),
	}, nil
}

// Owner returns the run's current owner.
func (r *AuditRun) Owner() Owner {
	return Owner{UserID: r.UserID, SessionToken: r.SessionToken}
}

// NormalizeDomain canonicalizes a raw domain or URL into the partition key
// used for dedup and rate limiting: protocol and www. stripped, lowercase,
// no path, no trailing slash.
func NormalizeDomain(raw string) (string, error) {
	d := strings.TrimSpace(strings.ToLower(raw))
	if d == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "domain is required")
	}
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimSuffix(d, ".")
	if d == "" || !strings.Contains(d, ".") || strings.ContainsAny(d, " \t") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "domain is not a valid host")
	}
	return d, nil
}

// Signature computes the stable cross-run fingerprint of a finding. Two
// findings with the same signature refer to the same underlying content
// problem even when rediscovered in a later run.
func Signature(domain string, category Category, description string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(description)), " ")
	sum := sha256.Sum256([]byte(domain + "|" + string(category) + "|" + normalized))
	return hex.EncodeToString(sum[:])
}

// IsHomepageEquivalent reports whether the URL points at the domain's
// homepage, accounting for protocol, www. and trailing-slash variants.
func IsHomepageEquivalent(rawURL, domain string) bool {
	u := strings.TrimSpace(strings.ToLower(rawURL))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	u = strings.TrimSuffix(u, "/")
	return u == domain
}
