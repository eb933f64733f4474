// -----------------------------------------------------------------------
// Last Modified: Friday, 17th April 2026 9:35:12 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

// Package reconcile is the viewer-side reconciliation engine. It merges
// the server's status events into a locally cached view of tracked
// videos, resolves the canonical/alternate identifier spaces, prunes
// entries that have gone quiet, and notifies subscribers on lifecycle
// transitions. The package has no server imports; the specto-watch
// client hosts it against the live WebSocket feed, and tests drive it
// with doubles.
package reconcile

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/pkg/models"
)

// Default timings. All three are soft: they trigger local recovery
// actions only and never cancel the underlying external job.
const (
	DefaultSweepInterval   = 5 * time.Minute
	DefaultIdleThreshold   = 10 * time.Minute
	DefaultFinalStateGrace = 5 * time.Second
)

// Entry is one cached video. JSON tags mirror the server's record shape
// so resync pulls and the persisted snapshot decode straight into it.
type Entry struct {
	// VideoID is the cache key: the identifier the entry was registered
	// under, which is the canonical id for entries seeded from a resync
	// pull.
	VideoID string `json:"id"`

	// DatabaseID is the canonical alias learned from events when the
	// entry is cached under some other identifier. Empty until an event
	// carries it.
	DatabaseID string `json:"database_id,omitempty"`

	// YouTubeID is the alternate identifier, when known.
	YouTubeID string `json:"youtube_id,omitempty"`

	Status   models.ProcessingStatus `json:"status"`
	Progress int                     `json:"progress"`
	Stage    string                  `json:"stage,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Selected bool                    `json:"selected"`
	Title    string                  `json:"title,omitempty"`

	// Seq is the last applied per-video sequence. Events carrying a
	// sequence no newer than this are discarded as stale or duplicate.
	Seq uint64 `json:"seq"`

	// LastUpdated is when this client last heard about the video; the
	// staleness sweep measures idle time against it.
	LastUpdated time.Time `json:"last_updated"`

	// FinalState marks a just-completed or just-failed entry for the
	// presentation grace window. Transient: never persisted, cleared by
	// a timer without touching Status.
	FinalState bool `json:"-"`

	// finalGen invalidates grace timers from superseded terminal
	// transitions.
	finalGen uint64
}

// IsTerminal reports whether the entry reached completed or failed.
// Terminal entries are retained until explicit removal; the sweep never
// ages them out.
func (e *Entry) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// Transition describes one lifecycle change observed by the engine.
type Transition struct {
	VideoID string
	From    models.ProcessingStatus
	To      models.ProcessingStatus
	Entry   Entry
}

// TransitionFunc receives lifecycle transitions. Callbacks run on the
// engine's own timeline and must not call back into the engine.
type TransitionFunc func(t Transition)

// Deselector is the selection side-effect hook: when a tracked video
// completes, the engine asks it to clear the server-side selection.
// Failures are logged only — never retried, never fatal.
type Deselector interface {
	Deselect(videoID string) error
}

// Options configures an Engine. Zero values fall back to the defaults;
// Now and Logger exist so tests can inject a fake clock and a quiet
// logger.
type Options struct {
	SweepInterval   time.Duration
	IdleThreshold   time.Duration
	FinalStateGrace time.Duration

	// Now supplies the engine's clock. Defaults to time.Now.
	Now func() time.Time

	// Deselector may be nil, in which case completion side effects are
	// skipped.
	Deselector Deselector

	Logger arbor.ILogger
}

// Engine owns the local cache of tracked videos.
//
// Every mutation — register, merge, remove, sweep, grace expiry — runs
// on one sequential timeline: an internal run loop owns the cache and
// the public methods post onto it. There is no concurrent cache access
// and therefore no torn read between a merge and a sweep.
type Engine struct {
	opts   Options
	logger arbor.ILogger

	cache       map[string]*Entry
	subscribers map[uint64]TransitionFunc
	nextSubID   uint64

	cmds    chan func()
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped chan struct{}
}

// NewEngine creates an engine. Call Restore before Start to seed the
// cache from a persisted snapshot, then Start to begin processing.
func NewEngine(opts Options) *Engine {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = DefaultIdleThreshold
	}
	if opts.FinalStateGrace <= 0 {
		opts.FinalStateGrace = DefaultFinalStateGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = arbor.NewLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		opts:        opts,
		logger:      opts.Logger,
		cache:       make(map[string]*Entry),
		subscribers: make(map[uint64]TransitionFunc),
		cmds:        make(chan func()),
		ctx:         ctx,
		cancel:      cancel,
		stopped:     make(chan struct{}),
	}
}

// Restore seeds the cache before the run loop starts. Entries without an
// id or status are skipped; the snapshot loader has normally rejected
// those already. Returns the number of entries restored.
func (e *Engine) Restore(entries []*Entry) int {
	if e.started {
		e.logger.Warn().Msg("Restore called after Start, ignoring snapshot")
		return 0
	}

	restored := 0
	for _, ent := range entries {
		if ent == nil || ent.VideoID == "" || !ent.Status.IsValid() {
			continue
		}
		copied := *ent
		copied.FinalState = false
		e.cache[copied.VideoID] = &copied
		restored++
	}
	return restored
}

// Start launches the run loop and the periodic sweep. Call it before
// sharing the engine across goroutines; pre-Start calls run inline on
// the configuring goroutine.
func (e *Engine) Start() {
	if e.started {
		return
	}
	e.started = true
	go e.run()
}

// Stop halts the run loop. Pending grace timers become no-ops.
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	e.cancel()
	<-e.stopped
}

func (e *Engine) run() {
	defer close(e.stopped)

	sweep := time.NewTicker(e.opts.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case fn := <-e.cmds:
			fn()
		case <-sweep.C:
			e.sweep()
		}
	}
}

// exec runs fn on the engine timeline and waits for it. Before Start the
// run loop does not exist and there is no concurrent access, so fn runs
// inline; after Stop the call is dropped. Returns false when dropped.
func (e *Engine) exec(fn func()) bool {
	if !e.started {
		fn()
		return true
	}
	done := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(done) }:
	case <-e.ctx.Done():
		return false
	}
	select {
	case <-done:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// Register creates or replaces the cache entry for videoID with the
// supplied state — the resync pull path, where the server record is
// authoritative. Replacing an entry whose status changed fires the same
// transition handling as a merged event, so viewers that reconnect
// still hear about terminal transitions they missed.
func (e *Engine) Register(videoID string, initial Entry) {
	if videoID == "" {
		e.logger.Warn().Msg("Register called without a video id, ignoring")
		return
	}

	e.exec(func() {
		initial.VideoID = videoID
		if initial.LastUpdated.IsZero() {
			initial.LastUpdated = e.opts.Now()
		}

		prev, existed := e.cache[videoID]
		if existed {
			initial.finalGen = prev.finalGen
		}
		ent := &initial
		e.cache[videoID] = ent

		if existed && prev.Status != ent.Status {
			e.transitioned(ent, prev.Status, ent.Status)
		}
	})
}

// ApplyUpdate merges one status event into the cache. Returns true when
// an entry was matched and merged; unmatched events are logged and
// ignored so a misrouted report can never create a phantom entry.
func (e *Engine) ApplyUpdate(ev models.StatusEvent) bool {
	merged := false
	e.exec(func() {
		ent := e.resolve(ev)
		if ent == nil {
			e.logger.Debug().
				Str("video_id", ev.VideoID).
				Str("database_id", ev.DatabaseID).
				Msg("Status event matches no tracked video, ignoring")
			return
		}

		// Duplicate or out-of-order delivery: a sequence no newer than
		// what we already merged carries nothing we want.
		if ev.Seq > 0 && ent.Seq > 0 && ev.Seq <= ent.Seq {
			e.logger.Debug().
				Str("video_id", ent.VideoID).
				Int64("event_seq", int64(ev.Seq)).
				Int64("cached_seq", int64(ent.Seq)).
				Msg("Discarding stale status event")
			return
		}

		e.merge(ent, ev)
		merged = true
	})
	return merged
}

// Remove deletes an entry from the cache. This is the explicit-removal
// path; the durable server record is untouched.
func (e *Engine) Remove(videoID string) bool {
	removed := false
	e.exec(func() {
		ent := e.lookup(videoID)
		if ent == nil {
			return
		}
		delete(e.cache, ent.VideoID)
		removed = true
	})
	return removed
}

// SweepStale prunes non-terminal entries idle past the threshold and
// returns how many were removed. The run loop calls this on its own
// interval; it is exported so hosts and tests can force a pass.
func (e *Engine) SweepStale() int {
	pruned := 0
	e.exec(func() {
		pruned = e.sweep()
	})
	return pruned
}

// OnTransition subscribes to lifecycle transitions. The returned
// function unsubscribes.
func (e *Engine) OnTransition(fn TransitionFunc) func() {
	var id uint64
	e.exec(func() {
		e.nextSubID++
		id = e.nextSubID
		e.subscribers[id] = fn
	})
	return func() {
		e.exec(func() {
			delete(e.subscribers, id)
		})
	}
}

// Snapshot returns a copy of every cached entry, safe for the caller to
// hold while the engine keeps running.
func (e *Engine) Snapshot() []*Entry {
	var entries []*Entry
	e.exec(func() {
		entries = make([]*Entry, 0, len(e.cache))
		for _, ent := range e.cache {
			copied := *ent
			entries = append(entries, &copied)
		}
	})
	return entries
}

// Len returns the number of cached entries.
func (e *Engine) Len() int {
	n := 0
	e.exec(func() {
		n = len(e.cache)
	})
	return n
}

// Get returns a copy of one entry resolved by any known identifier.
func (e *Engine) Get(videoID string) (Entry, bool) {
	var entry Entry
	found := false
	e.exec(func() {
		if ent := e.lookup(videoID); ent != nil {
			entry = *ent
			found = true
		}
	})
	return entry, found
}

// resolve finds the cache entry for an event: the explicit canonical
// alias first, the event's own identifier second, and finally a reverse
// scan for an entry whose known alternate ids match.
func (e *Engine) resolve(ev models.StatusEvent) *Entry {
	if ev.DatabaseID != "" {
		if ent, ok := e.cache[ev.DatabaseID]; ok {
			return ent
		}
	}
	if ev.VideoID != "" {
		if ent, ok := e.cache[ev.VideoID]; ok {
			return ent
		}
	}
	for _, ent := range e.cache {
		if aliasMatches(ent, ev) {
			return ent
		}
	}
	return nil
}

// lookup resolves a bare identifier: exact key first, alias scan second.
func (e *Engine) lookup(videoID string) *Entry {
	if videoID == "" {
		return nil
	}
	if ent, ok := e.cache[videoID]; ok {
		return ent
	}
	for _, ent := range e.cache {
		if ent.DatabaseID == videoID || ent.YouTubeID == videoID {
			return ent
		}
	}
	return nil
}

func aliasMatches(ent *Entry, ev models.StatusEvent) bool {
	if ent.YouTubeID != "" && (ent.YouTubeID == ev.VideoID || ent.YouTubeID == ev.YouTubeID) {
		return true
	}
	if ent.DatabaseID != "" && (ent.DatabaseID == ev.DatabaseID || ent.DatabaseID == ev.VideoID) {
		return true
	}
	return false
}

// merge shallow-merges the fields present on the event. Absent fields
// never clobber cached values; LastUpdated always bumps.
func (e *Engine) merge(ent *Entry, ev models.StatusEvent) {
	from := ent.Status

	// Record alias links so later events keyed by either space resolve
	// without a scan.
	if ev.DatabaseID != "" && ev.DatabaseID != ent.VideoID {
		ent.DatabaseID = ev.DatabaseID
	}
	if ev.YouTubeID != "" && ent.YouTubeID == "" {
		ent.YouTubeID = ev.YouTubeID
	}

	if ev.Status.IsValid() {
		ent.Status = ev.Status
	}
	if ev.HasProgress() {
		ent.Progress = clampProgress(*ev.Progress)
	}
	if ev.Stage != nil {
		ent.Stage = *ev.Stage
	}
	if ev.Error != nil {
		ent.Error = *ev.Error
	}
	if ev.Seq > 0 {
		ent.Seq = ev.Seq
	}

	// Same invariants the server keeps: error text means nothing off the
	// failed state, selection means nothing off pending.
	if ent.Status != models.StatusFailed {
		ent.Error = ""
	}
	if ent.Status != models.StatusPending {
		ent.Selected = false
	}

	now := e.opts.Now()
	if now.After(ent.LastUpdated) {
		ent.LastUpdated = now
	}

	if from != ent.Status {
		e.transitioned(ent, from, ent.Status)
	}
}

// transitioned runs the side effects of a lifecycle change: the terminal
// presentation flag with its grace timer, the async deselection request
// on completion, and subscriber notifications.
func (e *Engine) transitioned(ent *Entry, from, to models.ProcessingStatus) {
	if to.IsTerminal() {
		ent.FinalState = true
		ent.finalGen++
		gen := ent.finalGen
		key := ent.VideoID
		// Post rather than exec: the timer fires on its own goroutine
		// and must always go through the run loop.
		time.AfterFunc(e.opts.FinalStateGrace, func() {
			select {
			case e.cmds <- func() { e.clearFinal(key, gen) }:
			case <-e.ctx.Done():
			}
		})

		if to == models.StatusCompleted && e.opts.Deselector != nil {
			id := ent.VideoID
			if ent.DatabaseID != "" {
				id = ent.DatabaseID
			}
			// Fire and forget: a failed deselection leaves a harmless
			// stale flag on the server, which the next selection pass
			// corrects.
			go func() {
				if err := e.opts.Deselector.Deselect(id); err != nil {
					e.logger.Warn().
						Err(err).
						Str("video_id", id).
						Msg("Deselection after completion failed")
				}
			}()
		}
	}

	t := Transition{VideoID: ent.VideoID, From: from, To: to, Entry: *ent}
	for _, fn := range e.subscribers {
		fn(t)
	}

	e.logger.Debug().
		Str("video_id", ent.VideoID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Video transitioned")
}

// clearFinal ends the presentation grace window. The generation check
// keeps a timer from a superseded transition from clearing a newer flag.
func (e *Engine) clearFinal(videoID string, gen uint64) {
	ent, ok := e.cache[videoID]
	if !ok || ent.finalGen != gen {
		return
	}
	ent.FinalState = false
}

// sweep prunes non-terminal entries idle past the threshold. Terminal
// entries are never swept: a completed or failed video stays visible
// until the user removes it.
func (e *Engine) sweep() int {
	now := e.opts.Now()
	pruned := 0
	for key, ent := range e.cache {
		if ent.IsTerminal() {
			continue
		}
		if now.Sub(ent.LastUpdated) > e.opts.IdleThreshold {
			delete(e.cache, key)
			pruned++
			e.logger.Info().
				Str("video_id", key).
				Str("status", string(ent.Status)).
				Msg("Pruning idle video from local cache")
		}
	}
	return pruned
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
