// Package domain holds shared identifier types. Typed IDs prevent a run id
// from being passed where a user id is expected; construct via Parse* at
// trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "sitecheck/pkg/domain-errors"
)

type (
	// UserID identifies an authenticated account.
	UserID uuid.UUID
	// RunID identifies one audit execution.
	RunID uuid.UUID
	// IssueID identifies one persisted finding.
	IssueID uuid.UUID
)

// NewRunID generates a fresh run identifier.
func NewRunID() RunID { return RunID(uuid.New()) }

// NewIssueID generates a fresh issue identifier.
func NewIssueID() IssueID { return IssueID(uuid.New()) }

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is not a valid UUID", kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be the nil UUID", kind)
	}
	return u, nil
}

// ParseUserID constructs a UserID from external input.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user_id", s)
	return UserID(u), err
}

// ParseRunID constructs a RunID from external input.
func ParseRunID(s string) (RunID, error) {
	u, err := parseUUID("run_id", s)
	return RunID(u), err
}

// ParseIssueID constructs an IssueID from external input.
func ParseIssueID(s string) (IssueID, error) {
	u, err := parseUUID("issue_id", s)
	return IssueID(u), err
}

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id UserID) String() string { return uuid.UUID(id).String() }

func (id RunID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id RunID) String() string { return uuid.UUID(id).String() }

func (id IssueID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id IssueID) String() string { return uuid.UUID(id).String() }
