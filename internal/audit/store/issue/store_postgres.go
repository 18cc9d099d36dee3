package issue

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

// PostgresStore persists issues in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed issue store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const issueColumns = `id, run_id, domain, category, description, severity, suggested_fix, locations, status, signature, created_at, updated_at`

func (s *PostgresStore) ListByDomain(ctx context.Context, domain string) ([]models.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE domain = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, domain)
	if err != nil {
		return nil, fmt.Errorf("list issues by domain: %w", err)
	}
	defer rows.Close()

	var out []models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *issue)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, issueID id.IssueID) (*models.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE id = $1`
	issue, err := scanIssue(s.db.QueryRowContext(ctx, query, uuid.UUID(issueID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return issue, err
}

// InsertBatch relies on the (domain, signature) unique constraint: a
// concurrent run that won the insert race leaves ours as a silent no-op
// instead of a duplicate row.
func (s *PostgresStore) InsertBatch(ctx context.Context, issues []*models.Issue) error {
	if len(issues) == 0 {
		return nil
	}

	query := `
		INSERT INTO issues (` + issueColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (domain, signature) DO NOTHING
	`
	for _, issue := range issues {
		locations, err := json.Marshal(issue.Locations)
		if err != nil {
			return fmt.Errorf("marshal issue locations: %w", err)
		}
		_, err = s.db.ExecContext(ctx, query,
			uuid.UUID(issue.ID),
			uuid.UUID(issue.RunID),
			issue.Domain,
			string(issue.Category),
			issue.Description,
			string(issue.Severity),
			issue.SuggestedFix,
			locations,
			string(issue.Status),
			issue.Signature,
			issue.CreatedAt,
			issue.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert issue: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, issueID id.IssueID, status models.IssueStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE issues SET status = $2, updated_at = $3 WHERE id = $1`,
		uuid.UUID(issueID), string(status), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update issue status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update issue status rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteByDomain(ctx context.Context, domain string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM issues WHERE domain = $1`, domain)
	if err != nil {
		return fmt.Errorf("delete issues by domain: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (*models.Issue, error) {
	var (
		issue     models.Issue
		issueID   uuid.UUID
		runID     uuid.UUID
		category  string
		severity  string
		locations []byte
		status    string
	)
	err := row.Scan(&issueID, &runID, &issue.Domain, &category, &issue.Description,
		&severity, &issue.SuggestedFix, &locations, &status, &issue.Signature,
		&issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		return nil, err
	}

	issue.ID = id.IssueID(issueID)
	issue.RunID = id.RunID(runID)
	issue.Category = models.Category(category)
	issue.Severity = models.Severity(severity)
	issue.Status = models.IssueStatus(status)
	if len(locations) > 0 {
		if err := json.Unmarshal(locations, &issue.Locations); err != nil {
			return nil, fmt.Errorf("unmarshal issue locations: %w", err)
		}
	}
	return &issue, nil
}
