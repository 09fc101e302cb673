package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConflict wraps unique-constraint violations.
	ErrConflict = errors.New("store: conflict")
	// ErrStaleParent is returned when a commit's compare-and-swap on the
	// document's current snapshot fails.
	ErrStaleParent = errors.New("store: current snapshot changed")
	// ErrStatusChanged is returned when a proposal left the expected status
	// before a transition could be applied.
	ErrStatusChanged = errors.New("store: proposal status changed")
	// ErrProposalTerminal rejects writes to merged or closed proposals.
	ErrProposalTerminal = errors.New("store: proposal is merged or closed")
	// ErrStaleReview rejects a review computed against an older change set.
	ErrStaleReview = errors.New("store: proposal changes modified during review")
	// ErrLineageCycle means the parent chain of a document loops.
	ErrLineageCycle = errors.New("store: snapshot lineage contains a cycle")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// translate maps driver errors onto store sentinels. Missing foreign keys
// surface as sql.ErrNoRows so callers treat them as not-found.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	case pgForeignKeyViolation:
		return fmt.Errorf("%w: %s", sql.ErrNoRows, pgErr.ConstraintName)
	}
	return err
}
