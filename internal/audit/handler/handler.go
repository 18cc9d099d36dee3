// Package handler wires the audit HTTP endpoints to the audit services.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sitecheck/internal/audit/models"
	id "sitecheck/pkg/domain"
	dErrors "sitecheck/pkg/domain-errors"
	"sitecheck/pkg/platform/httputil"
	"sitecheck/pkg/platform/sentinel"
	"sitecheck/pkg/requestcontext"
)

// RunnerService starts and retrieves audit runs.
type RunnerService interface {
	Start(ctx context.Context, owner models.Owner, domain string) (*models.AuditRun, error)
	Get(ctx context.Context, runID id.RunID, owner models.Owner) (*models.AuditRun, error)
}

// ClaimService transfers anonymous runs to authenticated users.
type ClaimService interface {
	Claim(ctx context.Context, userID id.UserID, sessionToken string) (*models.AuditRun, error)
}

// IssueService reads and mutates the per-domain issue history.
type IssueService interface {
	ListByDomain(ctx context.Context, userID id.UserID, domain string) ([]models.Issue, error)
	UpdateStatus(ctx context.Context, userID id.UserID, issueID id.IssueID, status models.IssueStatus) (*models.Issue, error)
}

// DomainService manages the user's audited-domain inventory.
type DomainService interface {
	List(ctx context.Context, userID id.UserID) ([]string, error)
	Delete(ctx context.Context, userID id.UserID, domain string) error
}

// Handler wires audit endpoints to the audit services.
type Handler struct {
	runner  RunnerService
	claims  ClaimService
	issues  IssueService
	domains DomainService
	logger  *slog.Logger
}

// New constructs an audit handler with its dependencies.
func New(runner RunnerService, claims ClaimService, issues IssueService, domains DomainService, logger *slog.Logger) *Handler {
	return &Handler{
		runner:  runner,
		claims:  claims,
		issues:  issues,
		domains: domains,
		logger:  logger,
	}
}

// Register mounts audit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/audits", h.HandleStartAudit)
	r.Get("/audits/{runID}", h.HandleGetAudit)
	r.Post("/audits/claim", h.HandleClaim)
	r.Get("/domains", h.HandleListDomains)
	r.Delete("/domains/{domain}", h.HandleDeleteDomain)
	r.Get("/domains/{domain}/issues", h.HandleListIssues)
	r.Patch("/issues/{issueID}", h.HandleUpdateIssue)
}

// HandleStartAudit handles POST /audits requests. The response carries the
// pending run's id; the audit itself runs in the background.
func (h *Handler) HandleStartAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[StartAuditRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	owner := models.Owner{UserID: requestcontext.UserID(ctx)}
	sessionToken := ""
	if owner.IsAnonymous() {
		// Body token first, then the X-Session-Token header, then a fresh
		// one so repeat anonymous callers keep a single session.
		sessionToken = req.SessionToken
		if sessionToken == "" {
			sessionToken = requestcontext.SessionToken(ctx)
		}
		if sessionToken == "" {
			sessionToken = uuid.NewString()
		}
		owner.SessionToken = sessionToken
	}

	run, err := h.runner.Start(ctx, owner, req.NormalizedDomain())
	if err != nil {
		h.logger.WarnContext(ctx, "audit start rejected",
			"request_id", requestID,
			"domain", req.NormalizedDomain(),
			"error", err,
		)
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "audit dispatched",
		"request_id", requestID,
		"run_id", run.ID,
		"domain", run.Domain,
		"tier", run.Tier,
	)
	httputil.WriteJSON(w, http.StatusAccepted, StartAuditResponse{
		AuditID:      run.ID.String(),
		Domain:       run.Domain,
		Status:       string(run.Status),
		IsPreview:    run.IsPreview,
		SessionToken: sessionToken,
	})
}

// HandleGetAudit handles GET /audits/{runID} requests. Anonymous callers
// identify themselves with the X-Session-Token header.
func (h *Handler) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runID, err := id.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	owner := models.Owner{
		UserID:       requestcontext.UserID(ctx),
		SessionToken: requestcontext.SessionToken(ctx),
	}
	run, err := h.runner.Get(ctx, runID, owner)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRun(run))
}

// HandleClaim handles POST /audits/claim requests.
func (h *Handler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[ClaimRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	run, err := h.claims.Claim(ctx, userID, req.SessionToken)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "audit claimed",
		"request_id", requestID,
		"run_id", run.ID,
		"user_id", userID,
	)
	httputil.WriteJSON(w, http.StatusOK, ClaimResponse{
		Success: true,
		AuditID: run.ID.String(),
		Domain:  run.Domain,
	})
}

// HandleListDomains handles GET /domains requests.
func (h *Handler) HandleListDomains(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	domains, err := h.domains.List(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if domains == nil {
		domains = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, DomainsResponse{Domains: domains})
}

// HandleDeleteDomain handles DELETE /domains/{domain} requests.
func (h *Handler) HandleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	domain, err := models.NormalizeDomain(chi.URLParam(r, "domain"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.domains.Delete(ctx, requestcontext.UserID(ctx), domain); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "domain deleted",
		"request_id", requestcontext.RequestID(ctx),
		"domain", domain,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleListIssues handles GET /domains/{domain}/issues requests.
func (h *Handler) HandleListIssues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	domain, err := models.NormalizeDomain(chi.URLParam(r, "domain"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	history, err := h.issues.ListByDomain(ctx, requestcontext.UserID(ctx), domain)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := IssueListResponse{Issues: make([]IssueResponse, 0, len(history))}
	for i := range history {
		resp.Issues = append(resp.Issues, FromIssue(&history[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleUpdateIssue handles PATCH /issues/{issueID} requests.
func (h *Handler) HandleUpdateIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	issueID, err := id.ParseIssueID(chi.URLParam(r, "issueID"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[IssueStatusRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	issue, err := h.issues.UpdateStatus(ctx, requestcontext.UserID(ctx), issueID, req.ParsedStatus())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "issue updated",
		"request_id", requestID,
		"issue_id", issueID,
		"status", issue.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromIssue(issue))
}

// writeError maps infrastructure sentinels onto the error envelope before
// delegating to the shared writer.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, sentinel.ErrNotFound) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "not found"))
		return
	}
	httputil.WriteError(w, err)
}
