// Package model defines domain structs shared across the core packages.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ErrMaxLen bounds error_text stored with a check result.
const ErrMaxLen = 512

// Target is a monitored URL with its probe cadence.
type Target struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	IntervalS int       `json:"interval_s"`
	TimeoutS  int       `json:"timeout_s"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckResult is the outcome of a single probe.
// StatusCode is nil when no HTTP response was received. Phase timings are
// nil when the transport did not expose the phase, never zero.
type CheckResult struct {
	TargetID   int64     `json:"target_id"`
	TS         time.Time `json:"ts"`
	OK         bool      `json:"ok"`
	StatusCode *int      `json:"status_code,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	ErrorText  string    `json:"error_text"`

	DNSMs     *int64 `json:"dns_ms,omitempty"`
	ConnectMs *int64 `json:"connect_ms,omitempty"`
	TLSMs     *int64 `json:"tls_ms,omitempty"`
	TTFBMs    *int64 `json:"ttfb_ms,omitempty"`
}

// Incident is a period during which a target is considered down.
// Invariant: IsOpen ⇔ ClosedAt == nil; at most one open incident per target.
type Incident struct {
	ID        int64      `json:"id"`
	TargetID  int64      `json:"target_id"`
	OpenedAt  time.Time  `json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	FailCount int        `json:"fail_count"`
	IsOpen    bool       `json:"is_open"`
}

// AlertLevel is the severity of an AlertEvent.
type AlertLevel string

const (
	LevelInfo  AlertLevel = "info"
	LevelWarn  AlertLevel = "warn"
	LevelError AlertLevel = "error"
)

// AlertEvent is a notification emitted by the incident engine.
// ID correlates the same event across notifier channels in logs.
type AlertEvent struct {
	ID       uuid.UUID  `json:"-"`
	TargetID *int64     `json:"target_id"`
	Level    AlertLevel `json:"level"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	TS       time.Time  `json:"ts"`
}

// NewAlertEvent builds an event with a fresh correlation ID and UTC timestamp.
func NewAlertEvent(targetID *int64, level AlertLevel, title, message string) AlertEvent {
	return AlertEvent{
		ID:       uuid.New(),
		TargetID: targetID,
		Level:    level,
		Title:    title,
		Message:  message,
		TS:       time.Now().UTC(),
	}
}

// TruncateError bounds free-form error text to ErrMaxLen bytes.
func TruncateError(s string) string {
	if len(s) > ErrMaxLen {
		return s[:ErrMaxLen]
	}
	return s
}
