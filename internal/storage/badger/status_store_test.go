package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	pkgmodels "github.com/ternarybob/specto/pkg/models"
)

func newTestStore(t *testing.T) (interfaces.StatusStore, *BadgerDB) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = t.TempDir()

	db, err := NewBadgerDB(common.GetLogger(), &cfg.Storage.Badger)
	require.NoError(t, err, "Failed to open badger store")
	t.Cleanup(func() { _ = db.Close() })

	return NewStatusStore(db, 3*time.Hour, common.GetLogger()), db
}

func seedRecord(t *testing.T, db *BadgerDB, rec *models.VideoStatus) {
	t.Helper()
	require.NoError(t, db.Store().Upsert(rec.ID, rec), "Failed to seed record %s", rec.ID)
}

func statusOf(s pkgmodels.ProcessingStatus) *pkgmodels.ProcessingStatus { return &s }
func intOf(v int) *int                                                  { return &v }
func strOf(v string) *string                                            { return &v }

func TestUpsertCreatesRecordForUnknownIdentity(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_abc"})
	require.NoError(t, err, "Upsert failed")

	assert.Equal(t, "vid_abc", rec.ID)
	assert.Equal(t, pkgmodels.StatusPending, rec.Status, "Record without status or progress should start pending")
	assert.Equal(t, uint64(1), rec.Seq, "First commit should allocate seq 1")
	assert.False(t, rec.CreatedAt.IsZero(), "CreatedAt should be set on creation")
}

func TestUpsertProgressReportImpliesProcessing(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_mid", Progress: intOf(35)})
	require.NoError(t, err, "Upsert failed")

	assert.Equal(t, pkgmodels.StatusProcessing, rec.Status, "A progress report for an unknown video means work is underway")
	assert.Equal(t, 35, rec.Progress)
}

func TestUpsertMergesOnlyPresentFields(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &models.StatusPatch{
		ID:       "vid_merge",
		Status:   statusOf(pkgmodels.StatusProcessing),
		Progress: intOf(40),
		Stage:    strOf("transcribing"),
	})
	require.NoError(t, err, "Initial upsert failed")

	rec, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_merge", Progress: intOf(55)})
	require.NoError(t, err, "Progress-only upsert failed")

	assert.Equal(t, 55, rec.Progress, "Progress should be updated")
	assert.Equal(t, "transcribing", rec.Stage, "Absent stage should be preserved")
	assert.Equal(t, pkgmodels.StatusProcessing, rec.Status, "Absent status should be preserved")
}

func TestUpsertClampsProgress(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_over", Progress: intOf(150)})
	require.NoError(t, err, "Upsert failed")
	assert.Equal(t, 100, rec.Progress, "Progress above 100 should clamp to 100")

	rec, err = store.Upsert(ctx, &models.StatusPatch{ID: "vid_over", Progress: intOf(-20)})
	require.NoError(t, err, "Upsert failed")
	assert.Equal(t, 0, rec.Progress, "Negative progress should clamp to 0")
}

func TestUpsertResolvesAlternateID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_dual", YouTubeID: "yt_dual"})
	require.NoError(t, err, "Initial upsert failed")

	// An update addressed by the alternate id must land on the same record.
	rec, err := store.Upsert(ctx, &models.StatusPatch{ID: "yt_dual", Progress: intOf(10)})
	require.NoError(t, err, "Alternate-id upsert failed")
	assert.Equal(t, "vid_dual", rec.ID, "Alternate id should resolve to the canonical record")

	all, err := store.List(ctx)
	require.NoError(t, err, "List failed")
	assert.Len(t, all, 1, "Both identifier spaces should map to a single record")
}

func TestUpsertLinksAlternateOnFirstSight(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_link"})
	require.NoError(t, err, "Initial upsert failed")

	rec, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_link", YouTubeID: "yt_link"})
	require.NoError(t, err, "Linking upsert failed")
	assert.Equal(t, "yt_link", rec.YouTubeID, "Alternate id should be recorded on first sight")

	got, err := store.Get(ctx, "yt_link")
	require.NoError(t, err, "Get by alternate id failed")
	assert.Equal(t, "vid_link", got.ID)
}

func TestUpsertSeqIncreasesPerCommit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var last uint64
	for i := 0; i < 3; i++ {
		rec, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_seq", Progress: intOf(i * 10)})
		require.NoError(t, err, "Upsert %d failed", i)
		assert.Greater(t, rec.Seq, last, "Seq should increase on every commit")
		last = rec.Seq
	}
}

func TestUpsertLastUpdatedNeverRegresses(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	recent := time.Now().UTC()
	_, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_ts", Timestamp: &recent})
	require.NoError(t, err, "Initial upsert failed")

	stale := recent.Add(-30 * time.Minute)
	rec, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_ts", Progress: intOf(5), Timestamp: &stale})
	require.NoError(t, err, "Stale-timestamp upsert failed")

	assert.Equal(t, 5, rec.Progress, "Out-of-order message should still merge")
	assert.False(t, rec.LastUpdated.Before(recent), "LastUpdated must be monotonically non-decreasing")
}

func TestUpsertClearsSelectionWhenLeavingPending(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_sel"})
	require.NoError(t, err, "Initial upsert failed")

	_, changed, err := store.SetSelected(ctx, "vid_sel", true)
	require.NoError(t, err, "SetSelected failed")
	require.True(t, changed, "Selecting a pending record should succeed")

	rec, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_sel", Status: statusOf(pkgmodels.StatusProcessing)})
	require.NoError(t, err, "Status upsert failed")
	assert.False(t, rec.Selected, "Selection must clear when the record leaves pending")
}

func TestUpsertErrorOnlyKeptOnFailed(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := store.Upsert(ctx, &models.StatusPatch{
		ID:     "vid_err",
		Status: statusOf(pkgmodels.StatusFailed),
		Error:  strOf("transcode crashed"),
	})
	require.NoError(t, err, "Failed upsert failed")
	assert.Equal(t, "transcode crashed", rec.Error)

	rec, err = store.Upsert(ctx, &models.StatusPatch{ID: "vid_err", Status: statusOf(pkgmodels.StatusProcessing)})
	require.NoError(t, err, "Retry upsert failed")
	assert.Empty(t, rec.Error, "Error text should clear once the record is no longer failed")
}

func TestResetCompletedVideo(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &models.StatusPatch{
		ID:       "vid_done",
		Status:   statusOf(pkgmodels.StatusCompleted),
		Progress: intOf(100),
		Stage:    strOf("publishing"),
	})
	require.NoError(t, err, "Setup upsert failed")

	rec, err := store.Reset(ctx, "vid_done")
	require.NoError(t, err, "Reset of a completed video should succeed")

	assert.Equal(t, pkgmodels.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.Progress)
	assert.Empty(t, rec.Stage, "Stage should clear on reset")
	assert.Empty(t, rec.Error, "Error should clear on reset")
	assert.False(t, rec.Selected, "Selection should clear on reset")
}

func TestResetRejectsActiveProcessing(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	seedRecord(t, db, &models.VideoStatus{
		ID:          "vid_active",
		Status:      pkgmodels.StatusProcessing,
		Progress:    60,
		Seq:         4,
		CreatedAt:   time.Now().UTC().Add(-2 * time.Hour),
		LastUpdated: time.Now().UTC().Add(-1 * time.Hour),
	})

	_, err := store.Reset(ctx, "vid_active")
	require.Error(t, err, "Reset of an actively processing video must be rejected")
	assert.True(t, errors.Is(err, interfaces.ErrActivelyProcessing), "Rejection should wrap ErrActivelyProcessing, got: %v", err)

	rec, err := store.Get(ctx, "vid_active")
	require.NoError(t, err, "Get failed")
	assert.Equal(t, pkgmodels.StatusProcessing, rec.Status, "Rejected reset must not mutate the record")
	assert.Equal(t, 60, rec.Progress)
}

func TestResetStaleProcessing(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	seedRecord(t, db, &models.VideoStatus{
		ID:          "vid_stuck",
		Status:      pkgmodels.StatusProcessing,
		Progress:    45,
		Stage:       "transcribing",
		Seq:         7,
		CreatedAt:   time.Now().UTC().Add(-5 * time.Hour),
		LastUpdated: time.Now().UTC().Add(-4 * time.Hour),
	})

	rec, err := store.Reset(ctx, "vid_stuck")
	require.NoError(t, err, "Reset of a stale processing video should succeed")

	assert.Equal(t, pkgmodels.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.Progress)
	assert.Empty(t, rec.Stage)
	assert.False(t, rec.Selected)
	assert.Greater(t, rec.Seq, uint64(7), "Reset is a committed mutation and must advance seq")
}

func TestSetSelectedOnlyWhilePending(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_pick", Status: statusOf(pkgmodels.StatusProcessing)})
	require.NoError(t, err, "Setup upsert failed")

	rec, changed, err := store.SetSelected(ctx, "vid_pick", true)
	require.NoError(t, err, "SetSelected should not error on a processing record")
	assert.False(t, changed, "Selecting a non-pending record is a no-op")
	assert.False(t, rec.Selected)

	// Deselecting is always permitted.
	_, changed, err = store.SetSelected(ctx, "vid_pick", false)
	require.NoError(t, err, "Deselect failed")
	assert.False(t, changed, "Deselecting an unselected record changes nothing")
}

func TestMarkSubmittedRequiresPending(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_sub"})
	require.NoError(t, err, "Setup upsert failed")
	_, changed, err := store.SetSelected(ctx, "vid_sub", true)
	require.NoError(t, err, "SetSelected failed")
	require.True(t, changed)

	submittedAt := time.Now().UTC()
	rec, err := store.MarkSubmitted(ctx, "vid_sub", "parent_1", submittedAt)
	require.NoError(t, err, "MarkSubmitted on a pending record should succeed")

	assert.Equal(t, pkgmodels.StatusProcessing, rec.Status)
	assert.Equal(t, 0, rec.Progress)
	assert.Equal(t, "parent_1", rec.ParentID)
	assert.False(t, rec.Selected, "Submission consumes the selection")
	require.NotNil(t, rec.SubmittedAt)
	assert.Equal(t, submittedAt, *rec.SubmittedAt)

	_, err = store.MarkSubmitted(ctx, "vid_sub", "parent_2", time.Now())
	require.Error(t, err, "MarkSubmitted on a processing record must be rejected")
	assert.True(t, errors.Is(err, interfaces.ErrNotPending), "Rejection should wrap ErrNotPending, got: %v", err)
}

func TestGetBatchSkipsUnknownIdentities(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_a"})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, &models.StatusPatch{ID: "vid_b", YouTubeID: "yt_b"})
	require.NoError(t, err)

	recs, err := store.GetBatch(ctx, []string{"vid_a", "yt_b", "vid_missing"})
	require.NoError(t, err, "GetBatch failed")
	require.Len(t, recs, 2, "Unknown identities should be skipped, not errors")
	assert.Equal(t, "vid_a", recs[0].ID)
	assert.Equal(t, "vid_b", recs[1].ID)
}

func TestCountByStatus(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, p := range []struct {
		id     string
		status pkgmodels.ProcessingStatus
	}{
		{"vid_1", pkgmodels.StatusPending},
		{"vid_2", pkgmodels.StatusProcessing},
		{"vid_3", pkgmodels.StatusProcessing},
		{"vid_4", pkgmodels.StatusFailed},
	} {
		_, err := store.Upsert(ctx, &models.StatusPatch{ID: p.id, Status: statusOf(p.status)})
		require.NoError(t, err, "Setup upsert for %s failed", p.id)
	}

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err, "CountByStatus failed")

	assert.Equal(t, 1, counts[pkgmodels.StatusPending])
	assert.Equal(t, 2, counts[pkgmodels.StatusProcessing])
	assert.Equal(t, 0, counts[pkgmodels.StatusCompleted])
	assert.Equal(t, 1, counts[pkgmodels.StatusFailed])
}

func TestListStaleProcessing(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	seedRecord(t, db, &models.VideoStatus{
		ID: "vid_old", Status: pkgmodels.StatusProcessing,
		CreatedAt: now.Add(-6 * time.Hour), LastUpdated: now.Add(-5 * time.Hour),
	})
	seedRecord(t, db, &models.VideoStatus{
		ID: "vid_fresh", Status: pkgmodels.StatusProcessing,
		CreatedAt: now.Add(-1 * time.Hour), LastUpdated: now.Add(-10 * time.Minute),
	})
	seedRecord(t, db, &models.VideoStatus{
		ID: "vid_done_old", Status: pkgmodels.StatusCompleted,
		CreatedAt: now.Add(-8 * time.Hour), LastUpdated: now.Add(-7 * time.Hour),
	})

	stale, err := store.ListStaleProcessing(ctx, now.Add(-3*time.Hour))
	require.NoError(t, err, "ListStaleProcessing failed")

	require.Len(t, stale, 1, "Only processing records older than the cutoff should match")
	assert.Equal(t, "vid_old", stale[0].ID)
}

func TestSetTitleNeverTouchesStatusOrStalenessClock(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	before, err := store.Upsert(ctx, &models.StatusPatch{
		ID:       "vid_titled",
		Status:   statusOf(pkgmodels.StatusProcessing),
		Progress: intOf(20),
	})
	require.NoError(t, err, "Seed upsert failed")

	rec, err := store.SetTitle(ctx, "vid_titled", "Launch Day")
	require.NoError(t, err, "SetTitle failed")

	assert.Equal(t, "Launch Day", rec.Title)
	assert.Equal(t, before.Status, rec.Status)
	assert.Equal(t, before.Progress, rec.Progress)
	assert.Equal(t, before.Seq+1, rec.Seq, "Title commit still allocates the next sequence")
	assert.True(t, rec.LastUpdated.Equal(before.LastUpdated),
		"Enrichment must not look like job activity to the reset gate")
}

func TestSetTitleIdempotentAndResolvesAlternateID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_alt", YouTubeID: "yt-77"})
	require.NoError(t, err)

	rec, err := store.SetTitle(ctx, "yt-77", "Found by alternate id")
	require.NoError(t, err, "SetTitle must resolve the alternate identifier")
	assert.Equal(t, "vid_alt", rec.ID)

	again, err := store.SetTitle(ctx, "vid_alt", "Found by alternate id")
	require.NoError(t, err)
	assert.Equal(t, rec.Seq, again.Seq, "Re-applying the same title commits nothing")

	_, err = store.SetTitle(ctx, "vid_missing", "whatever")
	assert.ErrorIs(t, err, interfaces.ErrVideoNotFound)
}
