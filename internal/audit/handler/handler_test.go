package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"sitecheck/internal/audit/models"
	"sitecheck/internal/audit/service/analyzer"
	"sitecheck/internal/audit/service/claim"
	"sitecheck/internal/audit/service/dedup"
	"sitecheck/internal/audit/service/domains"
	"sitecheck/internal/audit/service/issues"
	"sitecheck/internal/audit/service/quota"
	"sitecheck/internal/audit/service/runner"
	issuestore "sitecheck/internal/audit/store/issue"
	runstore "sitecheck/internal/audit/store/run"
	usagestore "sitecheck/internal/audit/store/usage"
	"sitecheck/internal/profile"
	id "sitecheck/pkg/domain"
	"sitecheck/pkg/requestcontext"
)

type stubSelector struct{}

func (stubSelector) Select(context.Context, string, models.Tier) []string {
	return []string{"https://example.com/"}
}

type stubAuditor struct {
	findings []models.Finding
	err      error
}

func (a *stubAuditor) Run(_ context.Context, _ string, _ models.Tier, urls []string, _ analyzer.IssueContext) (*analyzer.Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &analyzer.Result{
		Findings:     a.findings,
		AuditedURLs:  urls,
		PagesScanned: len(urls),
	}, nil
}

type HandlerSuite struct {
	suite.Suite
	router   chi.Router
	runs     *runstore.MemoryStore
	issues   *issuestore.MemoryStore
	profiles *profile.MemoryStore
	auditor  *stubAuditor
	runner   *runner.Service
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.DiscardHandler)
	s.runs = runstore.NewMemory()
	s.issues = issuestore.NewMemory()
	s.profiles = profile.NewMemory()
	usage := usagestore.NewMemory()
	s.auditor = &stubAuditor{
		findings: []models.Finding{{
			Category:    models.CategoryLanguage,
			Description: "Typo in the hero banner",
			Severity:    models.SeverityLow,
			Locations:   []models.Location{{URL: "https://example.com/"}},
		}},
	}

	quotaGuard, err := quota.New(s.runs, usage, quota.WithLogger(logger))
	s.Require().NoError(err)
	deduper, err := dedup.New(s.issues, dedup.WithLogger(logger))
	s.Require().NoError(err)
	s.runner, err = runner.New(s.runs, usage, s.profiles, quotaGuard, stubSelector{}, s.auditor, deduper, runner.WithLogger(logger))
	s.Require().NoError(err)
	claims, err := claim.New(s.runs, claim.WithLogger(logger))
	s.Require().NoError(err)
	issueSvc, err := issues.New(s.issues, s.runs, issues.WithLogger(logger))
	s.Require().NoError(err)
	domainSvc, err := domains.New(s.runs, s.issues, usage, domains.WithLogger(logger))
	s.Require().NoError(err)

	h := New(s.runner, claims, issueSvc, domainSvc, logger)
	s.router = chi.NewRouter()
	// Test stand-ins for the auth and session middleware.
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if raw := r.Header.Get("X-Test-User"); raw != "" {
				userID, err := id.ParseUserID(raw)
				s.Require().NoError(err)
				ctx = requestcontext.WithUserID(ctx, userID)
			}
			if token := r.Header.Get("X-Session-Token"); token != "" {
				ctx = requestcontext.WithSessionToken(ctx, token)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	h.Register(s.router)
}

func (s *HandlerSuite) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder, out any) {
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(out))
}

func (s *HandlerSuite) TestAnonymousAuditAndClaimScenario() {
	// Anonymous start with a messy domain.
	rec := s.do(http.MethodPost, "/audits", map[string]string{"domain": "https://www.Example.com/pricing"}, nil)
	s.Require().Equal(http.StatusAccepted, rec.Code)

	var started StartAuditResponse
	s.decode(rec, &started)
	s.Equal("example.com", started.Domain)
	s.Equal("pending", started.Status)
	s.True(started.IsPreview)
	s.NotEmpty(started.SessionToken)
	s.runner.Wait()

	// Poll with the session token.
	rec = s.do(http.MethodGet, "/audits/"+started.AuditID, nil, map[string]string{"X-Session-Token": started.SessionToken})
	s.Require().Equal(http.StatusOK, rec.Code)
	var run RunResponse
	s.decode(rec, &run)
	s.Equal("completed", run.Status)
	s.True(run.IsPreview)
	s.Require().NotNil(run.Result)
	s.Len(run.Result.Issues, 1)

	// Without the token the run is invisible.
	rec = s.do(http.MethodGet, "/audits/"+started.AuditID, nil, nil)
	s.Equal(http.StatusNotFound, rec.Code)

	// Sign up and claim.
	winner := uuid.NewString()
	rec = s.do(http.MethodPost, "/audits/claim", map[string]string{"session_token": started.SessionToken}, map[string]string{"X-Test-User": winner})
	s.Require().Equal(http.StatusOK, rec.Code)
	var claimed ClaimResponse
	s.decode(rec, &claimed)
	s.True(claimed.Success)
	s.Equal(started.AuditID, claimed.AuditID)
	s.Equal("example.com", claimed.Domain)

	// The winner now reads the run without the token and it is no preview.
	rec = s.do(http.MethodGet, "/audits/"+started.AuditID, nil, map[string]string{"X-Test-User": winner})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &run)
	s.False(run.IsPreview)

	// A second claim with the same token by another user sees nothing.
	rec = s.do(http.MethodPost, "/audits/claim", map[string]string{"session_token": started.SessionToken}, map[string]string{"X-Test-User": uuid.NewString()})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestStartRejectsInvalidDomain() {
	rec := s.do(http.MethodPost, "/audits", map[string]string{"domain": "not a host"}, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestStartDeniedOverDomainCap() {
	userID := uuid.NewString()
	parsed, err := id.ParseUserID(userID)
	s.Require().NoError(err)
	existing, err := models.NewAuditRun(models.Owner{UserID: parsed}, "first.com", models.TierFree)
	s.Require().NoError(err)
	s.Require().NoError(s.runs.Create(context.Background(), existing))

	rec := s.do(http.MethodPost, "/audits", map[string]string{"domain": "second.com"}, map[string]string{"X-Test-User": userID})
	s.Require().Equal(http.StatusTooManyRequests, rec.Code)

	var body struct {
		Error   string         `json:"error"`
		Details map[string]any `json:"details"`
	}
	s.decode(rec, &body)
	s.Equal(float64(1), body.Details["limit"])
	s.Equal(float64(1), body.Details["used"])
	s.Equal(true, body.Details["upgradeRequired"])
}

func (s *HandlerSuite) TestClaimRequiresAuth() {
	rec := s.do(http.MethodPost, "/audits/claim", map[string]string{"session_token": "sess-1"}, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestIssueLifecycleOverHTTP() {
	userID := uuid.NewString()
	rec := s.do(http.MethodPost, "/audits", map[string]string{"domain": "example.com"}, map[string]string{"X-Test-User": userID})
	s.Require().Equal(http.StatusAccepted, rec.Code)
	s.runner.Wait()

	rec = s.do(http.MethodGet, "/domains/example.com/issues", nil, map[string]string{"X-Test-User": userID})
	s.Require().Equal(http.StatusOK, rec.Code)
	var list IssueListResponse
	s.decode(rec, &list)
	s.Require().Len(list.Issues, 1)
	s.Equal("active", list.Issues[0].Status)

	rec = s.do(http.MethodPatch, "/issues/"+list.Issues[0].ID, map[string]string{"status": "ignored"}, map[string]string{"X-Test-User": userID})
	s.Require().Equal(http.StatusOK, rec.Code)
	var updated IssueResponse
	s.decode(rec, &updated)
	s.Equal("ignored", updated.Status)

	rec = s.do(http.MethodPatch, "/issues/"+list.Issues[0].ID, map[string]string{"status": "archived"}, map[string]string{"X-Test-User": userID})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestDomainListAndDelete() {
	userID := uuid.NewString()
	rec := s.do(http.MethodPost, "/audits", map[string]string{"domain": "example.com"}, map[string]string{"X-Test-User": userID})
	s.Require().Equal(http.StatusAccepted, rec.Code)
	s.runner.Wait()

	rec = s.do(http.MethodGet, "/domains", nil, map[string]string{"X-Test-User": userID})
	s.Require().Equal(http.StatusOK, rec.Code)
	var listed DomainsResponse
	s.decode(rec, &listed)
	s.Equal([]string{"example.com"}, listed.Domains)

	rec = s.do(http.MethodDelete, "/domains/example.com", nil, map[string]string{"X-Test-User": userID})
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/domains", nil, map[string]string{"X-Test-User": userID})
	s.decode(rec, &listed)
	s.Empty(listed.Domains)
}

func (s *HandlerSuite) TestStartAuditReusesHeaderSessionToken() {
	rec := s.do(http.MethodPost, "/audits", map[string]string{"domain": "example.com"},
		map[string]string{"X-Session-Token": "sess-header"})
	s.Require().Equal(http.StatusAccepted, rec.Code)
	var started StartAuditResponse
	s.decode(rec, &started)
	s.Equal("sess-header", started.SessionToken)
	s.runner.Wait()

	// The same header owns the run for polling.
	rec = s.do(http.MethodGet, "/audits/"+started.AuditID, nil, map[string]string{"X-Session-Token": "sess-header"})
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestStartAuditBodyTokenWinsOverHeader() {
	rec := s.do(http.MethodPost, "/audits",
		map[string]string{"domain": "example.com", "session_token": "sess-body"},
		map[string]string{"X-Session-Token": "sess-header"})
	s.Require().Equal(http.StatusAccepted, rec.Code)
	var started StartAuditResponse
	s.decode(rec, &started)
	s.Equal("sess-body", started.SessionToken)
}

func (s *HandlerSuite) TestFailedRunSurfacesErrorPayload() {
	s.auditor.err = fmt.Errorf("backend exploded")

	rec := s.do(http.MethodPost, "/audits", map[string]string{"domain": "example.com"}, nil)
	s.Require().Equal(http.StatusAccepted, rec.Code)
	var started StartAuditResponse
	s.decode(rec, &started)
	s.runner.Wait()

	rec = s.do(http.MethodGet, "/audits/"+started.AuditID, nil, map[string]string{"X-Session-Token": started.SessionToken})
	s.Require().Equal(http.StatusOK, rec.Code)
	var run RunResponse
	s.decode(rec, &run)
	s.Equal("failed", run.Status)
	s.Require().NotNil(run.Result)
	s.Equal("analysis failed due to an upstream error", run.Result.Error)
	s.NotContains(run.Result.Error, "backend exploded")
}
