package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sitecheck/internal/audit/models"
	id "sitecheck/pkg/domain"
	"sitecheck/pkg/platform/sentinel"
)

// PostgresStore persists audit runs in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed run store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, run *models.AuditRun) error {
	payload, err := marshalPayload(run.Result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_runs (id, user_id, session_token, domain, tier, status, pages_scanned, result_payload, is_preview, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(run.ID),
		nullUUID(run.UserID),
		nullString(run.SessionToken),
		run.Domain,
		string(run.Tier),
		string(run.Status),
		run.PagesScanned,
		payload,
		run.IsPreview,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit run: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, runID id.RunID) (*models.AuditRun, error) {
	query := `
		SELECT id, user_id, session_token, domain, tier, status, pages_scanned, result_payload, is_preview, created_at, finished_at
		FROM audit_runs
		WHERE id = $1
	`
	return scanRun(s.db.QueryRowContext(ctx, query, uuid.UUID(runID)))
}

// Finalize is conditional on the run still being pending, which makes the
// pending -> terminal transition single-writer at the datastore level.
func (s *PostgresStore) Finalize(ctx context.Context, runID id.RunID, status models.RunStatus, pagesScanned int, payload *models.ResultPayload, finishedAt time.Time) error {
	if !status.IsTerminal() {
		return sentinel.ErrInvalidState
	}
	body, err := marshalPayload(payload)
	if err != nil {
		return err
	}

	query := `
		UPDATE audit_runs
		SET status = $2, pages_scanned = $3, result_payload = $4, finished_at = $5
		WHERE id = $1 AND status = 'pending'
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(runID),
		string(status),
		pagesScanned,
		body,
		finishedAt,
	)
	if err != nil {
		return fmt.Errorf("finalize audit run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize audit run rows affected: %w", err)
	}
	if affected == 0 {
		// Zero rows means either a terminal run or no run at all; tell the
		// two apart so callers don't misreport missing runs as finalized.
		var exists bool
		lookup := `SELECT EXISTS (SELECT 1 FROM audit_runs WHERE id = $1)`
		if err := s.db.QueryRowContext(ctx, lookup, uuid.UUID(runID)).Scan(&exists); err != nil {
			return fmt.Errorf("finalize audit run lookup: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

// Claim is a single conditional write: under concurrent claims for the same
// token, at most one statement observes an affected row. Claimed runs are
// indistinguishable from never-existing ones to losers.
func (s *PostgresStore) Claim(ctx context.Context, sessionToken string, userID id.UserID) (*models.AuditRun, error) {
	query := `
		UPDATE audit_runs
		SET user_id = $2, session_token = NULL, is_preview = FALSE
		WHERE session_token = $1 AND user_id IS NULL
		RETURNING id, user_id, session_token, domain, tier, status, pages_scanned, result_payload, is_preview, created_at, finished_at
	`
	return scanRun(s.db.QueryRowContext(ctx, query, sessionToken, uuid.UUID(userID)))
}

func (s *PostgresStore) DomainsForUser(ctx context.Context, userID id.UserID) ([]string, error) {
	query := `SELECT DISTINCT domain FROM audit_runs WHERE user_id = $1`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list user domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		domains = append(domains, domain)
	}
	return domains, rows.Err()
}

func (s *PostgresStore) DeleteByDomain(ctx context.Context, userID id.UserID, domain string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_runs WHERE user_id = $1 AND domain = $2`,
		uuid.UUID(userID), domain,
	)
	if err != nil {
		return fmt.Errorf("delete runs by domain: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.AuditRun, error) {
	var (
		run        models.AuditRun
		runID      uuid.UUID
		userID     sql.Null[uuid.UUID]
		token      sql.NullString
		tier       string
		status     string
		payload    []byte
		finishedAt sql.NullTime
	)
	err := row.Scan(&runID, &userID, &token, &run.Domain, &tier, &status,
		&run.PagesScanned, &payload, &run.IsPreview, &run.CreatedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan audit run: %w", err)
	}

	run.ID = id.RunID(runID)
	if userID.Valid {
		run.UserID = id.UserID(userID.V)
	}
	if token.Valid {
		run.SessionToken = token.String
	}
	run.Tier = models.Tier(tier)
	run.Status = models.RunStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if len(payload) > 0 {
		var result models.ResultPayload
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("unmarshal result payload: %w", err)
		}
		run.Result = &result
	}
	return &run, nil
}

func marshalPayload(payload *models.ResultPayload) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal result payload: %w", err)
	}
	return body, nil
}

func nullUUID(u id.UserID) any {
	if u.IsNil() {
		return nil
	}
	return uuid.UUID(u)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
