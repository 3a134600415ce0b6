package storage

import (
	"time"
)

// FailureRecord is one persisted breakout failure. Every descriptive field
// is optional; only ID and CreatedAt are guaranteed to be set once stored.
type FailureRecord struct {
	ID          int64
	Company     *string
	Ticker      *string
	Location    *string
	FailureTime *time.Time
	CreatedAt   time.Time
}

// NewFailure carries the caller-supplied fields of a failure about to be
// inserted. The store assigns ID and CreatedAt.
type NewFailure struct {
	Company     *string
	Ticker      *string
	Location    *string
	FailureTime *time.Time
}

// FailureFilter narrows a ListFailures call. Nil fields match everything;
// From is inclusive and To exclusive on failure_time.
type FailureFilter struct {
	Company  *string
	Ticker   *string
	Location *string
	From     *time.Time
	To       *time.Time
	Limit    int
}
