package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	pkgmodels "github.com/ternarybob/specto/pkg/models"
	"github.com/timshannon/badgerhold/v4"
)

// StatusStore implements the StatusStore interface for Badger.
//
// Every mutating path is a read-modify-write cycle serialized by one
// mutex; the lock is also what makes the reset gate's check-then-write
// atomic against concurrent ingestion merges.
type StatusStore struct {
	db             *BadgerDB
	logger         arbor.ILogger
	staleThreshold time.Duration

	mu sync.Mutex
}

// NewStatusStore creates a new StatusStore instance. staleThreshold is the
// age beyond which a processing record counts as abandoned and becomes
// eligible for reset.
func NewStatusStore(db *BadgerDB, staleThreshold time.Duration, logger arbor.ILogger) interfaces.StatusStore {
	if staleThreshold <= 0 {
		staleThreshold = 3 * time.Hour
	}
	return &StatusStore{
		db:             db,
		logger:         logger,
		staleThreshold: staleThreshold,
	}
}

func (s *StatusStore) Upsert(ctx context.Context, patch *models.StatusPatch) (*models.VideoStatus, error) {
	if patch == nil || !patch.HasIdentity() {
		return nil, fmt.Errorf("status patch has no identity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	rec, err := s.resolve(patch.ID, patch.YouTubeID)
	if err != nil && err != interfaces.ErrVideoNotFound {
		return nil, err
	}
	if rec == nil {
		rec = newRecord(patch, now)
		s.logger.Debug().
			Str("video_id", rec.ID).
			Str("youtube_id", rec.YouTubeID).
			Msg("Creating status record for unknown identity")
	}

	// Link the alternate id on first sight; never overwrite an existing link.
	if rec.YouTubeID == "" && patch.YouTubeID != "" {
		rec.YouTubeID = patch.YouTubeID
	}

	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.Progress != nil {
		rec.Progress = clampProgress(*patch.Progress)
	}
	if patch.Stage != nil {
		rec.Stage = *patch.Stage
	}
	if patch.Error != nil {
		rec.Error = *patch.Error
	}

	// Error text is only meaningful on failed records, and selection only
	// survives while the record is still pending.
	if rec.Status != pkgmodels.StatusFailed {
		rec.Error = ""
	}
	if rec.Status != pkgmodels.StatusPending {
		rec.Selected = false
	}

	ts := now
	if patch.Timestamp != nil {
		ts = patch.Timestamp.UTC()
	}
	if ts.After(rec.LastUpdated) {
		rec.LastUpdated = ts
	}

	if err := s.commit(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *StatusStore) Get(ctx context.Context, identity string) (*models.VideoStatus, error) {
	return s.lookup(identity)
}

func (s *StatusStore) GetBatch(ctx context.Context, identities []string) ([]*models.VideoStatus, error) {
	result := make([]*models.VideoStatus, 0, len(identities))
	for _, identity := range identities {
		rec, err := s.lookup(identity)
		if err == interfaces.ErrVideoNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func (s *StatusStore) List(ctx context.Context) ([]*models.VideoStatus, error) {
	var records []models.VideoStatus
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list video status: %w", err)
	}

	result := make([]*models.VideoStatus, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *StatusStore) Reset(ctx context.Context, identity string) (*models.VideoStatus, error) {
	rec, err := s.lookup(identity)
	if err != nil {
		return nil, err
	}
	if err := s.resetAllowed(rec, time.Now().UTC()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-validate under the lock: an ingestion merge may have revived the
	// record between the gate check above and this write.
	now := time.Now().UTC()
	rec, err = s.lookup(rec.ID)
	if err != nil {
		return nil, err
	}
	if err := s.resetAllowed(rec, now); err != nil {
		return nil, err
	}

	rec.Status = pkgmodels.StatusPending
	rec.Progress = 0
	rec.Stage = ""
	rec.Error = ""
	rec.Selected = false
	rec.ParentID = ""
	rec.SubmittedAt = nil
	if now.After(rec.LastUpdated) {
		rec.LastUpdated = now
	}

	if err := s.commit(rec); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("video_id", rec.ID).
		Msg("Video status reset to pending")
	return rec, nil
}

func (s *StatusStore) SetSelected(ctx context.Context, identity string, selected bool) (*models.VideoStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(identity)
	if err != nil {
		return nil, false, err
	}

	// Selecting only means something while the record waits; refusal is
	// reported through the changed flag, not as a fault.
	if selected && rec.Status != pkgmodels.StatusPending {
		return rec, false, nil
	}
	if rec.Selected == selected {
		return rec, false, nil
	}

	rec.Selected = selected
	rec.LastUpdated = time.Now().UTC()
	if err := s.commit(rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *StatusStore) MarkSubmitted(ctx context.Context, identity, parentID string, at time.Time) (*models.VideoStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(identity)
	if err != nil {
		return nil, err
	}
	if rec.Status != pkgmodels.StatusPending {
		return nil, fmt.Errorf("video %s: %w", rec.ID, interfaces.ErrNotPending)
	}

	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	submitted := at

	rec.Status = pkgmodels.StatusProcessing
	rec.Progress = 0
	rec.Stage = ""
	rec.Error = ""
	rec.Selected = false
	rec.ParentID = parentID
	rec.SubmittedAt = &submitted
	if at.After(rec.LastUpdated) {
		rec.LastUpdated = at
	}

	if err := s.commit(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *StatusStore) SetTitle(ctx context.Context, identity, title string) (*models.VideoStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(identity)
	if err != nil {
		return nil, err
	}
	if title == "" || rec.Title == title {
		return rec, nil
	}

	// LastUpdated stays put: display metadata says nothing about job
	// liveness, and the reset gate must not see enrichment as activity.
	rec.Title = title
	if err := s.commit(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *StatusStore) CountByStatus(ctx context.Context) (map[pkgmodels.ProcessingStatus]int, error) {
	counts := make(map[pkgmodels.ProcessingStatus]int, 4)
	for _, status := range pkgmodels.AllStatuses() {
		count, err := s.db.Store().Count(&models.VideoStatus{}, badgerhold.Where("Status").Eq(status))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s videos: %w", status, err)
		}
		counts[status] = int(count)
	}
	return counts, nil
}

func (s *StatusStore) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.VideoStatus, error) {
	var records []models.VideoStatus
	query := badgerhold.Where("Status").Eq(pkgmodels.StatusProcessing).And("LastUpdated").Lt(cutoff)
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to query stale processing videos: %w", err)
	}

	result := make([]*models.VideoStatus, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

// resolve finds the record for a patch: the primary identity first
// (canonical key, then alternate index), the explicit alternate id second.
func (s *StatusStore) resolve(id, youtubeID string) (*models.VideoStatus, error) {
	if id != "" {
		rec, err := s.lookup(id)
		if err == nil || err != interfaces.ErrVideoNotFound {
			return rec, err
		}
	}
	if youtubeID != "" {
		return s.lookup(youtubeID)
	}
	return nil, interfaces.ErrVideoNotFound
}

// lookup matches an identity against the canonical key first, the
// alternate id index second.
func (s *StatusStore) lookup(identity string) (*models.VideoStatus, error) {
	if identity == "" {
		return nil, interfaces.ErrVideoNotFound
	}

	var rec models.VideoStatus
	err := s.db.Store().Get(identity, &rec)
	if err == nil {
		return &rec, nil
	}
	if err != badgerhold.ErrNotFound {
		return nil, fmt.Errorf("failed to get video status: %w", err)
	}

	var matches []models.VideoStatus
	if err := s.db.Store().Find(&matches, badgerhold.Where("YouTubeID").Eq(identity)); err != nil {
		return nil, fmt.Errorf("failed to query by alternate id: %w", err)
	}
	if len(matches) == 0 {
		return nil, interfaces.ErrVideoNotFound
	}
	return &matches[0], nil
}

// resetAllowed applies the reset gate: terminal records always qualify,
// processing records only once older than the stale threshold, and pending
// records are already in the post-reset state so resetting them again is
// harmless. Everything else is an active job.
func (s *StatusStore) resetAllowed(rec *models.VideoStatus, now time.Time) error {
	switch {
	case rec.IsTerminal():
		return nil
	case rec.Status == pkgmodels.StatusPending:
		return nil
	case rec.Status == pkgmodels.StatusProcessing && rec.Age(now) > s.staleThreshold:
		return nil
	default:
		return fmt.Errorf("video %s: %w", rec.ID, interfaces.ErrActivelyProcessing)
	}
}

// commit bumps the per-video sequence and writes the record. Seq increases
// on every committed mutation so event consumers can discard stale
// deliveries no matter which path produced them.
func (s *StatusStore) commit(rec *models.VideoStatus) error {
	rec.Seq++
	if err := s.db.Store().Upsert(rec.ID, rec); err != nil {
		return fmt.Errorf("failed to save video status: %w", err)
	}
	return nil
}

// newRecord builds the initial record for an identity seen for the first
// time. A report carrying progress or a stage but no status means work is
// already underway somewhere, so pending would misrepresent it.
func newRecord(patch *models.StatusPatch, now time.Time) *models.VideoStatus {
	id := patch.ID
	if id == "" {
		id = common.NewVideoID()
	}
	status := pkgmodels.StatusPending
	if patch.Status == nil && (patch.Progress != nil || patch.Stage != nil) {
		status = pkgmodels.StatusProcessing
	}
	return &models.VideoStatus{
		ID:        id,
		YouTubeID: patch.YouTubeID,
		Status:    status,
		CreatedAt: now,
	}
}

// clampProgress bounds a reported percentage to [0, 100].
func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
