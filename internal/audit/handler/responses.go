package handler

import (
	"time"

	"sitecheck/internal/audit/models"
)

// StartAuditResponse acknowledges a dispatched run. SessionToken is echoed
// back only for anonymous runs so the client can poll and later claim.
type StartAuditResponse struct {
	AuditID      string `json:"auditId"`
	Domain       string `json:"domain"`
	Status       string `json:"status"`
	IsPreview    bool   `json:"isPreview"`
	SessionToken string `json:"session_token,omitempty"`
}

// RunResponse is the GET /audits/{runID} body.
type RunResponse struct {
	AuditID      string                `json:"auditId"`
	Domain       string                `json:"domain"`
	Tier         string                `json:"tier"`
	Status       string                `json:"status"`
	PagesScanned int                   `json:"pagesScanned"`
	IsPreview    bool                  `json:"isPreview"`
	CreatedAt    time.Time             `json:"createdAt"`
	FinishedAt   *time.Time            `json:"finishedAt,omitempty"`
	Result       *models.ResultPayload `json:"result,omitempty"`
}

// FromRun maps a run to its API shape. The session token never appears here;
// it is only returned at creation time.
func FromRun(run *models.AuditRun) RunResponse {
	return RunResponse{
		AuditID:      run.ID.String(),
		Domain:       run.Domain,
		Tier:         string(run.Tier),
		Status:       string(run.Status),
		PagesScanned: run.PagesScanned,
		IsPreview:    run.IsPreview,
		CreatedAt:    run.CreatedAt,
		FinishedAt:   run.FinishedAt,
		Result:       run.Result,
	}
}

// ClaimResponse is the POST /audits/claim success body.
type ClaimResponse struct {
	Success bool   `json:"success"`
	AuditID string `json:"auditId"`
	Domain  string `json:"domain"`
}

// DomainsResponse is the GET /domains body.
type DomainsResponse struct {
	Domains []string `json:"domains"`
}

// IssueResponse is the API shape of one issue.
type IssueResponse struct {
	ID           string            `json:"id"`
	Category     string            `json:"category"`
	Description  string            `json:"description"`
	Severity     string            `json:"severity"`
	SuggestedFix string            `json:"suggestedFix,omitempty"`
	Locations    []models.Location `json:"locations,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// FromIssue maps an issue to its API shape.
func FromIssue(issue *models.Issue) IssueResponse {
	return IssueResponse{
		ID:           issue.ID.String(),
		Category:     string(issue.Category),
		Description:  issue.Description,
		Severity:     string(issue.Severity),
		SuggestedFix: issue.SuggestedFix,
		Locations:    issue.Locations,
		Status:       string(issue.Status),
		CreatedAt:    issue.CreatedAt,
	}
}

// IssueListResponse is the GET /domains/{domain}/issues body.
type IssueListResponse struct {
	Issues []IssueResponse `json:"issues"`
}
