// -----------------------------------------------------------------------
// Last Modified: Friday, 17th April 2026 10:05:31 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - status/log/stats push stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Videos (pull surface + mutations)
	mux.HandleFunc("/api/videos", s.app.VideoHandler.ListVideosHandler) // GET - list all tracked videos
	mux.HandleFunc("/api/videos/", s.handleVideoRoutes)                 // GET /{id}, POST mutations and subpaths

	// API routes - Application status and logs
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler) // GET - application status snapshot
	mux.HandleFunc("/api/logs/recent", s.app.WSHandler.GetRecentLogsHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler) // Graceful shutdown endpoint (dev mode)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleVideoRoutes routes /api/videos/* requests to the appropriate handler
func (s *Server) handleVideoRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// Fixed POST endpoints under /api/videos/
	if r.Method == http.MethodPost {
		switch path {
		case "/api/videos/status":
			s.app.VideoHandler.IngestStatusHandler(w, r)
			return
		case "/api/videos/status/batch":
			s.app.VideoHandler.BatchStatusHandler(w, r)
			return
		case "/api/videos/select-batch":
			s.app.VideoHandler.SelectBatchHandler(w, r)
			return
		case "/api/videos/submit":
			s.app.VideoHandler.SubmitVideosHandler(w, r)
			return
		}

		// Per-video actions: /api/videos/{id}/select etc.
		if routeBySuffix(w, r, "/api/videos/", []suffixRoute{
			{suffix: "/select", handler: s.app.VideoHandler.SelectVideoHandler},
			{suffix: "/deselect", handler: s.app.VideoHandler.DeselectVideoHandler},
			{suffix: "/reset", handler: s.app.VideoHandler.ResetVideoHandler},
		}) {
			return
		}

		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	// GET /api/videos/{id}
	if r.Method == http.MethodGet && len(path) > len("/api/videos/") {
		s.app.VideoHandler.GetVideoHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
