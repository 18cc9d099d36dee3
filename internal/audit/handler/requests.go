package handler

import (
	"sitecheck/internal/audit/models"
	dErrors "sitecheck/pkg/domain-errors"
)

// StartAuditRequest is the POST /audits body. Anonymous callers may supply
// their own session token; one is generated when absent.
type StartAuditRequest struct {
	Domain       string `json:"domain"`
	SessionToken string `json:"session_token,omitempty"`

	normalizedDomain string
}

// Validate normalizes the domain and rejects unusable hosts.
func (r *StartAuditRequest) Validate() error {
	domain, err := models.NormalizeDomain(r.Domain)
	if err != nil {
		return err
	}
	r.normalizedDomain = domain
	return nil
}

// NormalizedDomain returns the canonical host. Valid only after Validate.
func (r *StartAuditRequest) NormalizedDomain() string { return r.normalizedDomain }

// ClaimRequest is the POST /audits/claim body.
type ClaimRequest struct {
	SessionToken string `json:"session_token"`
}

// Validate checks the claim request fields.
func (r *ClaimRequest) Validate() error {
	if r.SessionToken == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "session_token is required")
	}
	return nil
}

// IssueStatusRequest is the PATCH /issues/{issueID} body.
type IssueStatusRequest struct {
	Status string `json:"status"`

	parsedStatus models.IssueStatus
}

// Validate parses the requested status.
func (r *IssueStatusRequest) Validate() error {
	status, err := models.ParseIssueStatus(r.Status)
	if err != nil {
		return err
	}
	r.parsedStatus = status
	return nil
}

// ParsedStatus returns the parsed status. Valid only after Validate.
func (r *IssueStatusRequest) ParsedStatus() models.IssueStatus { return r.parsedStatus }
