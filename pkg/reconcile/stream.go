// -----------------------------------------------------------------------
// Last Modified: Friday, 17th April 2026 2:48:31 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/pkg/models"
)

// Client is a minimal HTTP client for the server's pull API. It backs
// the resync path and implements Deselector for the engine's completion
// side effect.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a client for serverURL (scheme://host[:port]).
func NewClient(serverURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// ListVideos pulls every record the server holds.
func (c *Client) ListVideos(ctx context.Context) ([]*Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/videos", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list videos: server returned %d", resp.StatusCode)
	}

	var body struct {
		Videos []*Entry `json:"videos"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode video list: %w", err)
	}
	return body.Videos, nil
}

// Deselect clears the server-side selection for one video.
func (c *Client) Deselect(videoID string) error {
	u := fmt.Sprintf("%s/api/videos/%s/deselect", c.baseURL, url.PathEscape(videoID))
	req, err := http.NewRequest(http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("deselect %s: %w", videoID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deselect %s: server returned %d", videoID, resp.StatusCode)
	}
	return nil
}

// StreamOptions configures a Stream.
type StreamOptions struct {
	// ServerURL is the server base URL (http://host:port); the WebSocket
	// endpoint is derived from it.
	ServerURL string

	Engine *Engine

	// Client serves the resync pull. Defaults to NewClient(ServerURL).
	Client *Client

	// OnConnect fires after each successful handshake and resync.
	OnConnect func(handshake models.HandshakePayload, resynced int)

	// OnLog and OnStats receive the informational frames. Optional.
	OnLog   func(entry models.LogEntry)
	OnStats func(stats models.StatsPayload)

	// InitialBackoff and MaxBackoff bound the reconnect delay, which
	// doubles per failed attempt and resets after a handshake.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger arbor.ILogger
}

// Stream feeds a reconciliation engine from the server's WebSocket hub.
//
// Push frames are the fast path; correctness comes from the pull API.
// After every successful connect — first attempt, reconnect, or server
// restart detected via the handshake instance id — the stream resyncs
// the full record list into the engine, so any frames missed while
// disconnected are recovered rather than replayed.
type Stream struct {
	opts   StreamOptions
	client *Client
	logger arbor.ILogger

	wsURL            string
	serverInstanceID string
}

// NewStream validates the server URL and builds a stream.
func NewStream(opts StreamOptions) (*Stream, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("stream requires an engine")
	}
	u, err := url.Parse(opts.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", opts.ServerURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("invalid server url %q: unsupported scheme %q", opts.ServerURL, u.Scheme)
	}
	u.Path = "/ws"

	if opts.Client == nil {
		opts.Client = NewClient(opts.ServerURL)
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = arbor.NewLogger()
	}

	return &Stream{
		opts:   opts,
		client: opts.Client,
		logger: opts.Logger,
		wsURL:  u.String(),
	}, nil
}

// Run connects and consumes frames until ctx is cancelled, reconnecting
// with doubling backoff on any failure. Returns ctx.Err() on cancel.
func (s *Stream) Run(ctx context.Context) error {
	backoff := s.opts.InitialBackoff
	for {
		handshook, err := s.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if handshook {
			backoff = s.opts.InitialBackoff
		}

		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("url", s.wsURL).
				Str("retry_in", backoff.String()).
				Msg("Status stream disconnected")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.opts.MaxBackoff {
			backoff = s.opts.MaxBackoff
		}
	}
}

// Resync pulls the full record list and registers every entry, returning
// how many were registered.
func (s *Stream) Resync(ctx context.Context) (int, error) {
	videos, err := s.client.ListVideos(ctx)
	if err != nil {
		return 0, err
	}
	for _, v := range videos {
		if v == nil || v.VideoID == "" {
			continue
		}
		s.opts.Engine.Register(v.VideoID, *v)
	}
	return len(videos), nil
}

// inboundFrame is the client-side view of the hub envelope: the payload
// stays raw until the type is known.
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// consume runs one connection: dial, handshake, resync, then frames
// until the connection drops or ctx is cancelled. The bool reports
// whether the handshake completed, which resets the reconnect backoff.
func (s *Stream) consume(ctx context.Context) (bool, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Unblock ReadMessage when the host shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	handshook := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return handshook, ctx.Err()
			}
			return handshook, fmt.Errorf("read frame: %w", err)
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn().Err(err).Msg("Dropping undecodable frame")
			continue
		}

		switch frame.Type {
		case models.FrameConnected:
			var hs models.HandshakePayload
			if err := json.Unmarshal(frame.Payload, &hs); err != nil {
				return handshook, fmt.Errorf("decode handshake: %w", err)
			}
			s.handshake(ctx, hs)
			handshook = true

		case models.FrameStatus:
			if !handshook {
				continue
			}
			var ev models.StatusEvent
			if err := json.Unmarshal(frame.Payload, &ev); err != nil {
				s.logger.Warn().Err(err).Msg("Dropping undecodable status frame")
				continue
			}
			s.opts.Engine.ApplyUpdate(ev)

		case models.FrameLog:
			if s.opts.OnLog != nil {
				var entry models.LogEntry
				if err := json.Unmarshal(frame.Payload, &entry); err == nil {
					s.opts.OnLog(entry)
				}
			}

		case models.FrameStats:
			if s.opts.OnStats != nil {
				var stats models.StatsPayload
				if err := json.Unmarshal(frame.Payload, &stats); err == nil {
					s.opts.OnStats(stats)
				}
			}

		default:
			s.logger.Debug().Str("type", frame.Type).Msg("Ignoring unknown frame type")
		}
	}
}

// handshake records the server identity and runs the post-connect
// resync. A changed instance id means the server restarted while we were
// away; the resync covers it either way.
func (s *Stream) handshake(ctx context.Context, hs models.HandshakePayload) {
	if s.serverInstanceID != "" && s.serverInstanceID != hs.ServerInstanceID {
		s.logger.Info().
			Str("previous", s.serverInstanceID).
			Str("current", hs.ServerInstanceID).
			Msg("Server instance changed, resynchronizing")
	}
	s.serverInstanceID = hs.ServerInstanceID

	resynced, err := s.Resync(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Post-connect resync failed, relying on push frames")
	}

	if s.opts.OnConnect != nil {
		s.opts.OnConnect(hs, resynced)
	}
}
