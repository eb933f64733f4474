// -----------------------------------------------------------------------
// Last Modified: Tuesday, 14th April 2026 10:40:08 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/specto/internal/models"
	pkgmodels "github.com/ternarybob/specto/pkg/models"
)

// ErrVideoNotFound is returned when neither the canonical nor the
// alternate identifier matches a stored record.
var ErrVideoNotFound = errors.New("video not found")

// ErrActivelyProcessing is returned by Reset when the record is processing
// and its last update is younger than the stale threshold. Callers surface
// it as an explicit rejection, never as a retryable fault.
var ErrActivelyProcessing = errors.New("video is actively processing")

// ErrNotPending is returned by MarkSubmitted when the record has already
// left the pending state. Selecting a non-pending record is a quiet no-op
// instead, reported through SetSelected's changed flag.
var ErrNotPending = errors.New("video is not pending")

// StatusStore - durable per-video status persistence
type StatusStore interface {
	// Upsert merges the supplied fields into the record resolved by the
	// patch identity, creating the record when unknown. Allocates the next
	// per-video sequence and returns the stored state.
	Upsert(ctx context.Context, patch *models.StatusPatch) (*models.VideoStatus, error)

	// Get resolves canonical id first, alternate id second.
	Get(ctx context.Context, identity string) (*models.VideoStatus, error)

	// GetBatch resolves each identity independently; unknown ids are
	// skipped, not errors.
	GetBatch(ctx context.Context, identities []string) ([]*models.VideoStatus, error)

	// List returns all records.
	List(ctx context.Context) ([]*models.VideoStatus, error)

	// Reset returns a record to pending. Allowed only for terminal records
	// or processing records older than the stale threshold; otherwise
	// ErrActivelyProcessing.
	Reset(ctx context.Context, identity string) (*models.VideoStatus, error)

	// SetSelected flips the selection flag. Selecting is permitted only
	// while the record is pending; deselecting is always permitted.
	SetSelected(ctx context.Context, identity string, selected bool) (*models.VideoStatus, bool, error)

	// MarkSubmitted transitions a pending record to processing under the
	// given parent, clearing selection and zeroing progress.
	MarkSubmitted(ctx context.Context, identity, parentID string, at time.Time) (*models.VideoStatus, error)

	// SetTitle fills display metadata on the resolved record. Never
	// touches status fields or the staleness clock.
	SetTitle(ctx context.Context, identity, title string) (*models.VideoStatus, error)

	// CountByStatus returns record counts keyed by lifecycle state.
	CountByStatus(ctx context.Context) (map[pkgmodels.ProcessingStatus]int, error)

	// ListStaleProcessing returns processing records last updated before
	// the cutoff. Observability only; callers never auto-cancel.
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.VideoStatus, error)
}
