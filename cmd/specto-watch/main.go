// -----------------------------------------------------------------------
// Last Modified: Tuesday, 21st April 2026 10:18:42 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

// specto-watch is the terminal viewer for a running specto server. It
// feeds the reconciliation engine from the server's WebSocket stream,
// persists the tracked set across restarts, and redraws a status table
// on an interval. Server state is authoritative; this process only
// mirrors it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/pkg/models"
	"github.com/ternarybob/specto/pkg/reconcile"
)

var (
	serverURL    = flag.String("server", "", "Server base URL (overrides config)")
	configPath   = flag.String("config", "", "Config file path (default ~/.specto/watch.yaml)")
	renderOnce   = flag.Bool("once", false, "Render one table after the first sync and exit")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

// statsFreshFor is how long the footer treats the connection as healthy
// after the last handshake or stats frame.
const statsFreshFor = 30 * time.Second

// viewState collects what the stream callbacks report, for the footer.
// The stream goroutine writes, the render loop reads.
type viewState struct {
	mu sync.Mutex

	serverInstanceID string
	connectedAt      time.Time
	resynced         int

	stats   models.StatsPayload
	statsAt time.Time
}

func (s *viewState) onConnect(hs models.HandshakePayload, resynced int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverInstanceID = hs.ServerInstanceID
	s.connectedAt = time.Now()
	s.resynced = resynced
}

func (s *viewState) onStats(stats models.StatsPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
	s.statsAt = time.Now()
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("specto-watch version %s\n", common.GetVersion())
		os.Exit(0)
	}

	config, err := LoadWatchConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "specto-watch: %v\n", err)
		os.Exit(1)
	}
	if *serverURL != "" {
		config.ServerURL = *serverURL
	}

	cacheDir := config.ResolvedCacheDir()
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "specto-watch: create cache dir %s: %v\n", cacheDir, err)
		os.Exit(1)
	}

	// Logs go to a file under the cache dir; stdout belongs to the table.
	logger := arbor.NewLogger().
		WithFileWriter(arbormodels.WriterConfiguration{
			Type:       arbormodels.LogWriterTypeFile,
			FileName:   filepath.Join(cacheDir, "watch.log"),
			TimeFormat: "15:04:05",
			MaxSize:    10 * 1024 * 1024,
			MaxBackups: 2,
			TextOutput: true,
		}).
		WithLevelFromString(config.LogLevel)

	client := reconcile.NewClient(config.ServerURL)
	engine := reconcile.NewEngine(reconcile.Options{
		SweepInterval:   config.SweepIntervalDuration(),
		IdleThreshold:   config.IdleThresholdDuration(),
		FinalStateGrace: config.FinalStateGraceDuration(),
		Deselector:      client,
		Logger:          logger,
	})

	// Restore the previous session's tracked set. A damaged snapshot is
	// discarded whole; the post-connect resync rebuilds the view.
	store := reconcile.NewSnapshotStore(config.SnapshotPath())
	entries, err := store.Load()
	if err != nil {
		logger.Warn().Err(err).Str("path", store.Path()).Msg("Discarding unusable snapshot")
		if derr := store.Discard(); derr != nil {
			logger.Warn().Err(derr).Msg("Failed to remove snapshot file")
		}
	} else if restored := engine.Restore(entries); restored > 0 {
		logger.Info().Int("entries", restored).Msg("Restored tracked videos from snapshot")
	}

	unsubscribe := engine.OnTransition(func(t reconcile.Transition) {
		logger.Info().
			Str("video_id", t.VideoID).
			Str("from", string(t.From)).
			Str("to", string(t.To)).
			Msg("Video transition")
	})
	defer unsubscribe()

	engine.Start()

	state := &viewState{}
	connected := make(chan struct{}, 1)
	stream, err := reconcile.NewStream(reconcile.StreamOptions{
		ServerURL: config.ServerURL,
		Engine:    engine,
		Client:    client,
		OnConnect: func(hs models.HandshakePayload, resynced int) {
			state.onConnect(hs, resynced)
			select {
			case connected <- struct{}{}:
			default:
			}
		},
		OnStats: state.onStats,
		Logger:  logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "specto-watch: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("Status stream exited")
		}
	}()

	colorize := shouldColorize(os.Stdout)

	if *renderOnce {
		select {
		case <-connected:
		case <-time.After(15 * time.Second):
			fmt.Fprintf(os.Stderr, "specto-watch: no connection to %s within 15s\n", config.ServerURL)
		case <-ctx.Done():
		}
		draw(engine, state, colorize, false)
		saveSnapshot(store, engine.Snapshot(), logger)
		engine.Stop()
		return
	}

	renderTicker := time.NewTicker(config.RenderIntervalDuration())
	defer renderTicker.Stop()
	saveTicker := time.NewTicker(30 * time.Second)
	defer saveTicker.Stop()

	draw(engine, state, colorize, colorize)
	for {
		select {
		case <-ctx.Done():
			// Snapshot before Stop: a stopped engine no longer answers.
			final := engine.Snapshot()
			engine.Stop()
			saveSnapshot(store, final, logger)
			fmt.Println()
			return
		case <-connected:
			draw(engine, state, colorize, colorize)
		case <-renderTicker.C:
			draw(engine, state, colorize, colorize)
		case <-saveTicker.C:
			saveSnapshot(store, engine.Snapshot(), logger)
		}
	}
}

func saveSnapshot(store *reconcile.SnapshotStore, entries []*reconcile.Entry, logger arbor.ILogger) {
	if err := store.Save(entries); err != nil {
		logger.Warn().Err(err).Str("path", store.Path()).Msg("Failed to save snapshot")
	}
}

// draw renders the table plus footer. On a terminal each frame replaces
// the previous one; piped output appends frames instead.
func draw(engine *reconcile.Engine, state *viewState, colorize, clear bool) {
	var b strings.Builder
	if clear {
		b.WriteString("\x1b[2J\x1b[H")
	}

	now := time.Now()
	b.WriteString(renderEntries(engine.Snapshot(), now))
	b.WriteString("\n\n")
	for _, line := range footerLines(state, now, colorize) {
		b.WriteString(line)
		b.WriteString("\n")
	}

	fmt.Print(b.String())
}

func footerLines(state *viewState, now time.Time, colorize bool) []string {
	state.mu.Lock()
	instanceID := state.serverInstanceID
	connectedAt := state.connectedAt
	resynced := state.resynced
	stats := state.stats
	statsAt := state.statsAt
	state.mu.Unlock()

	lines := make([]string, 0, 3)

	switch {
	case connectedAt.IsZero():
		lines = append(lines, renderStatusLine("server", statusInfo, "connecting", colorize))
	case now.Sub(lastHeard(connectedAt, statsAt)) > statsFreshFor:
		message := fmt.Sprintf("last heard %s ago", formatAge(now.Sub(lastHeard(connectedAt, statsAt))))
		lines = append(lines, renderStatusLine("server", statusWarn, message, colorize))
	default:
		lines = append(lines, renderStatusLine("server", statusOK, shortInstanceID(instanceID), colorize))
	}

	if !connectedAt.IsZero() {
		message := fmt.Sprintf("%d videos at %s", resynced, connectedAt.Format("15:04:05"))
		lines = append(lines, renderStatusLine("resynced", statusInfo, message, colorize))
	}

	if !statsAt.IsZero() {
		lines = append(lines, renderStatusLine("server load", statusInfo, formatStats(stats), colorize))
	}

	return lines
}

func lastHeard(connectedAt, statsAt time.Time) time.Time {
	if statsAt.After(connectedAt) {
		return statsAt
	}
	return connectedAt
}

func shortInstanceID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatStats flattens the stats frame into one line, with map keys
// sorted so successive frames render stably.
func formatStats(stats models.StatsPayload) string {
	parts := []string{fmt.Sprintf("connections=%d", stats.Connections)}

	counts := make([]string, 0, len(stats.StatusCounts))
	for status := range stats.StatusCounts {
		counts = append(counts, status)
	}
	sort.Strings(counts)
	for _, status := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", status, stats.StatusCounts[status]))
	}

	queues := make([]string, 0, len(stats.QueueDepths))
	for queue := range stats.QueueDepths {
		queues = append(queues, queue)
	}
	sort.Strings(queues)
	for _, queue := range queues {
		parts = append(parts, fmt.Sprintf("%s=%d", queue, stats.QueueDepths[queue]))
	}

	return strings.Join(parts, " ")
}
