package store

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("store closed")

// Config configures the sqlite store.
type Config struct {
	Path string

	// TablePrefix matches the form plugin's table naming, e.g. "wp_".
	TablePrefix string

	BusyTimeout time.Duration // 0 means default
}

// FailureEvent is one failed form-processing attempt joined with submission
// metadata. Rows are created by the form plugin; this service never writes
// them.
type FailureEvent struct {
	ID           int64
	SubmissionID int64

	// RawLog is the plugin's opaque log payload, often a JSON object with a
	// "message" property.
	RawLog string

	// CreatedAt is the UTC creation time. Zero when the stored value could
	// not be parsed; callers fall back to the current time.
	CreatedAt time.Time

	Referer   string
	UserAgent string
	FormName  string
}
