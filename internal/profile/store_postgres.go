// Package profile resolves an account's plan. Plans are written by the
// billing webhook flow outside this service; the pipeline only reads them,
// fresh per request.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"sitecheck/internal/audit/models"
	id "sitecheck/pkg/domain"
)

// PostgresStore reads plans from the profiles table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed profile store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetPlan returns the user's tier. Users without a profile row default to
// FREE rather than erroring, so a half-provisioned signup can still audit.
func (s *PostgresStore) GetPlan(ctx context.Context, userID id.UserID) (models.Tier, error) {
	var plan string
	err := s.db.QueryRowContext(ctx,
		`SELECT plan FROM profiles WHERE user_id = $1`,
		uuid.UUID(userID),
	).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TierFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("get plan: %w", err)
	}

	tier := models.Tier(plan)
	if !tier.IsValid() {
		return models.TierFree, nil
	}
	return tier, nil
}
