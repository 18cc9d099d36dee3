package quota

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"sitecheck/internal/audit/models"
	runStore "sitecheck/internal/audit/store/run"
	usageStore "sitecheck/internal/audit/store/usage"
	id "sitecheck/pkg/domain"
	dErrors "sitecheck/pkg/domain-errors"
	"sitecheck/pkg/requestcontext"
)

type QuotaServiceSuite struct {
	suite.Suite
	runs    *runStore.MemoryStore
	usage   *usageStore.MemoryStore
	service *Service
	userID  id.UserID
}

func TestQuotaServiceSuite(t *testing.T) {
	suite.Run(t, new(QuotaServiceSuite))
}

func (s *QuotaServiceSuite) SetupTest() {
	s.runs = runStore.NewMemory()
	s.usage = usageStore.NewMemory()
	s.userID = id.UserID(uuid.New())

	var err error
	s.service, err = New(s.runs, s.usage)
	s.Require().NoError(err)
}

func (s *QuotaServiceSuite) addRun(domain string) {
	run, err := models.NewAuditRun(models.Owner{UserID: s.userID}, domain, models.TierFree)
	s.Require().NoError(err)
	s.Require().NoError(s.runs.Create(context.Background(), run))
}

func (s *QuotaServiceSuite) TestNew() {
	s.Run("nil run store returns error", func() {
		_, err := New(nil, s.usage)
		s.Error(err)
	})

	s.Run("nil usage store returns error", func() {
		_, err := New(s.runs, nil)
		s.Error(err)
	})
}

func (s *QuotaServiceSuite) TestCheckDomainAllowance() {
	ctx := context.Background()

	s.Run("first domain on free plan is allowed", func() {
		d, err := s.service.CheckDomainAllowance(ctx, s.userID, "example.com", models.TierFree)
		s.Require().NoError(err)
		s.True(d.Allowed)
		s.Equal(0, d.Used)
	})

	s.Run("second domain on free plan is denied with upgrade hint", func() {
		s.addRun("example.com")

		d, err := s.service.CheckDomainAllowance(ctx, s.userID, "second.com", models.TierFree)
		s.Require().NoError(err)
		s.False(d.Allowed)
		s.Equal(1, d.Limit)
		s.Equal(1, d.Used)
		s.True(d.UpgradeRequired)
	})

	s.Run("re-auditing an existing domain skips the cap", func() {
		s.addRun("example.com")

		d, err := s.service.CheckDomainAllowance(ctx, s.userID, "example.com", models.TierFree)
		s.Require().NoError(err)
		s.True(d.Allowed)
	})

	s.Run("enterprise is unbounded", func() {
		for _, domain := range []string{"a.com", "b.com", "c.com", "d.com", "e.com", "f.com"} {
			s.addRun(domain)
		}
		d, err := s.service.CheckDomainAllowance(ctx, s.userID, "g.com", models.TierEnterprise)
		s.Require().NoError(err)
		s.True(d.Allowed)
	})
}

func (s *QuotaServiceSuite) TestCheckDailyLimit() {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	s.Run("fresh day is allowed", func() {
		d, err := s.service.CheckDailyLimit(ctx, s.userID, "example.com", models.TierFree)
		s.Require().NoError(err)
		s.True(d.Allowed)
		s.Equal(3, d.Limit)
		s.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), d.ResetAt)
	})

	s.Run("limit reached is denied with reset timestamp", func() {
		for i := 0; i < 3; i++ {
			s.Require().NoError(s.usage.Increment(ctx, s.userID, "example.com", now))
		}

		d, err := s.service.CheckDailyLimit(ctx, s.userID, "example.com", models.TierFree)
		s.Require().NoError(err)
		s.False(d.Allowed)
		s.Equal(3, d.Used)
	})

	s.Run("counter rolls over by date", func() {
		for i := 0; i < 3; i++ {
			s.Require().NoError(s.usage.Increment(ctx, s.userID, "example.com", now))
		}

		tomorrow := requestcontext.WithTime(context.Background(), now.Add(24*time.Hour))
		d, err := s.service.CheckDailyLimit(tomorrow, s.userID, "example.com", models.TierFree)
		s.Require().NoError(err)
		s.True(d.Allowed)
		s.Equal(0, d.Used)
	})
}

func (s *QuotaServiceSuite) TestDeny() {
	err := Deny(&Decision{Limit: 1, Used: 1, UpgradeRequired: true}, "domain limit reached")
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))

	details := dErrors.Details(err)
	s.Equal(1, details["limit"])
	s.Equal(1, details["used"])
	s.Equal(true, details["upgradeRequired"])
}
