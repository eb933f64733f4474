package interfaces

import "context"

// BatchResult reports the per-member outcome of a batch mutation. Rejected
// members are reported, never fatal: the batch succeeds with whatever the
// single-record rules allowed.
type BatchResult struct {
	Accepted    int      `json:"accepted"`
	Rejected    int      `json:"rejected"`
	RejectedIDs []string `json:"rejected_ids,omitempty"`
}

// SelectionService drives the user-facing selection and submission flow.
// Selection only ever applies to pending records; every accepted mutation
// is followed by a status event so viewers converge without polling.
type SelectionService interface {
	// Select marks a pending video as selected. Returns false without an
	// error when the record is not pending or already selected.
	Select(ctx context.Context, videoID string) (bool, error)

	// Deselect clears the selection. Always allowed, idempotent.
	Deselect(ctx context.Context, videoID string) (bool, error)

	// SelectBatch applies Select/Deselect per member independently.
	SelectBatch(ctx context.Context, videoIDs []string, selected bool) (*BatchResult, error)

	// Submit transitions the pending members to processing under one parent
	// and publishes the accepted set to the submit topic as a single batch.
	// An empty accepted set publishes nothing. Returns the generated parent
	// id alongside the outcome.
	Submit(ctx context.Context, parentID string, videoIDs []string) (string, *BatchResult, error)

	// Reset delegates to the store's gated reset and clears the selection.
	Reset(ctx context.Context, videoID string) error
}
