// Package store implements the persistence layer consumed by the core:
// target repository, check-result log, incident state, and TTL cleanup.
package store

import (
	"context"
	"time"

	"github.com/pingtower/pingtower/internal/model"
)

// Store is the narrow persistence interface the core consumes. Every
// timestamp crossing this boundary is UTC. Implementations must be safe for
// concurrent use.
type Store interface {
	ListTargets(ctx context.Context) ([]model.Target, error)
	GetTarget(ctx context.Context, id int64) (*model.Target, error)

	InsertResult(ctx context.Context, res model.CheckResult) error
	// LastNResults returns up to n results for a target, newest first.
	LastNResults(ctx context.Context, targetID int64, n int) ([]model.CheckResult, error)

	GetOpenIncident(ctx context.Context, targetID int64) (*model.Incident, error)
	OpenIncident(ctx context.Context, targetID int64, openedAt time.Time, failCount int) (*model.Incident, error)
	CloseIncident(ctx context.Context, id int64, closedAt time.Time) error
	IncrementFail(ctx context.Context, incidentID int64) error

	// TTLCleanup deletes check results older than olderThan and returns the
	// number of removed rows.
	TTLCleanup(ctx context.Context, olderThan time.Time) (int64, error)
}
