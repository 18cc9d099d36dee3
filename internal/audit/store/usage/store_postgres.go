package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "sitecheck/pkg/domain"
)

// PostgresStore persists usage counters in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed usage store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Count(ctx context.Context, userID id.UserID, domain string, day time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT audit_count FROM usage_counters WHERE user_id = $1 AND domain = $2 AND day = $3`,
		uuid.UUID(userID), domain, day.UTC().Truncate(24*time.Hour),
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Increment(ctx context.Context, userID id.UserID, domain string, day time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_counters (user_id, domain, day, audit_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, domain, day)
		DO UPDATE SET audit_count = usage_counters.audit_count + 1
	`, uuid.UUID(userID), domain, day.UTC().Truncate(24*time.Hour))
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteByDomain(ctx context.Context, userID id.UserID, domain string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_counters WHERE user_id = $1 AND domain = $2`,
		uuid.UUID(userID), domain,
	)
	if err != nil {
		return fmt.Errorf("delete usage by domain: %w", err)
	}
	return nil
}
