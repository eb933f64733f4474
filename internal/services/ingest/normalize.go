// -----------------------------------------------------------------------
// Last Modified: Wednesday, 15th April 2026 11:52:17 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

// Package ingest consumes raw producer status reports from the bus,
// normalizes their drifting field names into one patch shape, and feeds
// the status store and event fan-out.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/specto/internal/models"
	pkgmodels "github.com/ternarybob/specto/pkg/models"
)

// ErrNoIdentity marks a message that carried no recognizable video
// identifier. The consumer acks and drops these; without an identity the
// message can never be applied, so redelivery would only loop forever.
var ErrNoIdentity = errors.New("message carries no video identifier")

// fieldAliases is the tolerant mapping table: each normalized concept
// lists the producer key names that may carry it, in priority order.
// Producers drift between snake_case and camelCase and occasionally
// rename fields; new spellings get added here, nowhere else. Keys not in
// this table are ignored.
var fieldAliases = map[string][]string{
	"id":       {"video_id", "videoId", "database_id", "databaseId", "id"},
	"youtube":  {"youtube_id", "youtubeId"},
	"status":   {"status", "processing_status", "processingStatus"},
	"progress": {"progress_percent", "progressPercent", "progress", "percent"},
	"stage":    {"current_stage", "currentStage", "stage", "step"},
	"error":    {"error", "error_message", "errorMessage"},
	"time":     {"timestamp", "updated_at", "updatedAt"},
}

// NormalizePayload maps one raw bus message onto a status patch. It
// returns an error only when the payload is not JSON or carries no
// identifier; unparseable individual fields are simply left absent.
func NormalizePayload(payload []byte) (*models.StatusPatch, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}

	patch := &models.StatusPatch{}

	if id, ok := firstString(raw, fieldAliases["id"]); ok {
		patch.ID = id
	}
	if yt, ok := firstString(raw, fieldAliases["youtube"]); ok {
		patch.YouTubeID = yt
	}
	if !patch.HasIdentity() {
		return nil, ErrNoIdentity
	}

	if s, ok := firstString(raw, fieldAliases["status"]); ok {
		if status, valid := pkgmodels.ParseStatus(strings.ToLower(s)); valid {
			patch.Status = &status
		}
	}
	if p, ok := firstNumber(raw, fieldAliases["progress"]); ok {
		patch.Progress = &p
	}
	if stage, ok := firstString(raw, fieldAliases["stage"]); ok {
		patch.Stage = &stage
	}
	if errMsg, ok := firstString(raw, fieldAliases["error"]); ok {
		patch.Error = &errMsg
	}
	if ts, ok := firstTime(raw, fieldAliases["time"]); ok {
		patch.Timestamp = &ts
	}

	return patch, nil
}

// firstString returns the first alias present with a usable string form.
func firstString(raw map[string]interface{}, keys []string) (string, bool) {
	for _, key := range keys {
		v, present := raw[key]
		if !present {
			continue
		}
		if s, ok := stringValue(v); ok {
			return s, true
		}
	}
	return "", false
}

// firstNumber returns the first alias present with a numeric value.
// Numeric strings count; anything else does not.
func firstNumber(raw map[string]interface{}, keys []string) (int, bool) {
	for _, key := range keys {
		v, present := raw[key]
		if !present {
			continue
		}
		if n, ok := numberValue(v); ok {
			return n, true
		}
	}
	return 0, false
}

// firstTime returns the first alias present that parses as RFC 3339.
func firstTime(raw map[string]interface{}, keys []string) (time.Time, bool) {
	for _, key := range keys {
		s, ok := raw[key].(string)
		if !ok {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s)); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func stringValue(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		trimmed := strings.TrimSpace(s)
		return trimmed, trimmed != ""
	case float64:
		// Some producers send ids as bare numbers.
		if s == math.Trunc(s) {
			return strconv.FormatInt(int64(s), 10), true
		}
		return strconv.FormatFloat(s, 'f', -1, 64), true
	}
	return "", false
}

func numberValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(math.Round(n)), true
	case string:
		trimmed := strings.TrimSpace(n)
		if trimmed == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return int(math.Round(f)), true
		}
	}
	return 0, false
}
