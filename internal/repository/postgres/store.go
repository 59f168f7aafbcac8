// Package postgres implements the review-engine repositories on PostgreSQL
// through database/sql and lib/pq.
//
// Claims use FOR UPDATE SKIP LOCKED and every state transition is a
// conditional UPDATE, so any number of workers and API instances can share
// one database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// Store groups the per-table repositories behind one value that satisfies
// every service and worker interface.
type Store struct {
	*CampaignRepo
	*CustomerRepo
	*EnrollmentRepo
	*TouchRepo
	*SendLogRepo
	*RetryRepo
	*FeedbackRepo

	db *sql.DB
}

// New creates a Store on db.
func New(db *sql.DB) *Store {
	return &Store{
		CampaignRepo:   NewCampaignRepo(db),
		CustomerRepo:   NewCustomerRepo(db),
		EnrollmentRepo: NewEnrollmentRepo(db),
		TouchRepo:      NewTouchRepo(db),
		SendLogRepo:    NewSendLogRepo(db),
		RetryRepo:      NewRetryRepo(db),
		FeedbackRepo:   NewFeedbackRepo(db),
		db:             db,
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type rowScanner interface {
	Scan(dest ...any) error
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}
