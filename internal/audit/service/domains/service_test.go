package domains

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"sitecheck/internal/audit/models"
	issuestore "sitecheck/internal/audit/store/issue"
	runstore "sitecheck/internal/audit/store/run"
	usagestore "sitecheck/internal/audit/store/usage"
	id "sitecheck/pkg/domain"
	dErrors "sitecheck/pkg/domain-errors"
)

type DomainsSuite struct {
	suite.Suite
	runs   *runstore.MemoryStore
	issues *issuestore.MemoryStore
	usage  *usagestore.MemoryStore
	svc    *Service
	userID id.UserID
}

func TestDomainsSuite(t *testing.T) {
	suite.Run(t, new(DomainsSuite))
}

func (s *DomainsSuite) SetupTest() {
	s.runs = runstore.NewMemory()
	s.issues = issuestore.NewMemory()
	s.usage = usagestore.NewMemory()
	s.userID = id.UserID(uuid.New())
	svc, err := New(s.runs, s.issues, s.usage, WithLogger(slog.New(slog.DiscardHandler)))
	s.Require().NoError(err)
	s.svc = svc
}

func (s *DomainsSuite) seedDomain(domain string) {
	ctx := context.Background()
	run, err := models.NewAuditRun(models.Owner{UserID: s.userID}, domain, models.TierPaid)
	s.Require().NoError(err)
	s.Require().NoError(s.runs.Create(ctx, run))

	issue, err := models.NewIssue(run.ID, domain, models.Finding{
		Category:    models.CategoryLanguage,
		Description: "Typo on " + domain,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.issues.InsertBatch(ctx, []*models.Issue{issue}))
	s.Require().NoError(s.usage.Increment(ctx, s.userID, domain, run.CreatedAt))
}

func (s *DomainsSuite) TestListReturnsUserDomains() {
	s.seedDomain("one.com")
	s.seedDomain("two.com")

	domains, err := s.svc.List(context.Background(), s.userID)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"one.com", "two.com"}, domains)
}

func (s *DomainsSuite) TestDeleteRemovesAllDomainState() {
	ctx := context.Background()
	s.seedDomain("one.com")
	s.seedDomain("two.com")

	s.Require().NoError(s.svc.Delete(ctx, s.userID, "one.com"))

	domains, err := s.svc.List(ctx, s.userID)
	s.Require().NoError(err)
	s.Equal([]string{"two.com"}, domains)

	history, err := s.issues.ListByDomain(ctx, "one.com")
	s.Require().NoError(err)
	s.Empty(history)

	kept, err := s.issues.ListByDomain(ctx, "two.com")
	s.Require().NoError(err)
	s.Len(kept, 1)
}

func (s *DomainsSuite) TestDeleteUnknownDomainIsNotFound() {
	err := s.svc.Delete(context.Background(), s.userID, "nope.com")
	s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
}

func (s *DomainsSuite) TestDeleteForeignDomainIsNotFound() {
	s.seedDomain("one.com")
	err := s.svc.Delete(context.Background(), id.UserID(uuid.New()), "one.com")
	s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
}

func (s *DomainsSuite) TestAnonymousCallerIsUnauthorized() {
	_, err := s.svc.List(context.Background(), id.UserID{})
	s.Equal(dErrors.CodeUnauthorized, dErrors.CodeOf(err))

	err = s.svc.Delete(context.Background(), id.UserID{}, "one.com")
	s.Equal(dErrors.CodeUnauthorized, dErrors.CodeOf(err))
}
