package events

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/pkg/models"
)

// TestSubscribeRejectsNilHandler verifies nil handlers are refused up front
func TestSubscribeRejectsNilHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	if err := svc.Subscribe(interfaces.EventVideoStatus, nil); err == nil {
		t.Error("Expected error subscribing nil handler, got nil")
	}
}

// TestPublishWithoutSubscribers verifies publishing into the void is not an error
func TestPublishWithoutSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	ctx := context.Background()
	event := interfaces.Event{
		Type:    interfaces.EventVideoStatus,
		Payload: models.StatusEvent{VideoID: "vid_1", DatabaseID: "vid_1"},
	}

	if err := svc.Publish(ctx, event); err != nil {
		t.Errorf("Expected no error publishing without subscribers, got: %v", err)
	}
	if err := svc.PublishSync(ctx, event); err != nil {
		t.Errorf("Expected no error sync-publishing without subscribers, got: %v", err)
	}
}

// TestPublishSyncWaitsForHandlers verifies sync publish completes all handlers before returning
func TestPublishSyncWaitsForHandlers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var calls int32
	handler := func(ctx context.Context, event interfaces.Event) error {
		ev, ok := event.Payload.(models.StatusEvent)
		if !ok {
			t.Errorf("Expected StatusEvent payload, got %T", event.Payload)
			return nil
		}
		if ev.DatabaseID != "vid_sync" {
			t.Errorf("Expected payload for vid_sync, got %s", ev.DatabaseID)
		}
		atomic.AddInt32(&calls, 1)
		return nil
	}

	if err := svc.Subscribe(interfaces.EventVideoStatus, handler); err != nil {
		t.Fatalf("Failed to subscribe handler: %v", err)
	}
	if err := svc.Subscribe(interfaces.EventVideoStatus, handler); err != nil {
		t.Fatalf("Failed to subscribe second handler: %v", err)
	}

	event := interfaces.Event{
		Type:    interfaces.EventVideoStatus,
		Payload: models.StatusEvent{VideoID: "vid_sync", DatabaseID: "vid_sync"},
	}
	if err := svc.PublishSync(context.Background(), event); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected both handlers called before PublishSync returned, got: %d", got)
	}
}

// TestPublishSyncReportsHandlerFailure verifies handler errors surface from sync publish
func TestPublishSyncReportsHandlerFailure(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	failing := func(ctx context.Context, event interfaces.Event) error {
		return fmt.Errorf("broadcast failed")
	}
	if err := svc.Subscribe(interfaces.EventVideoReset, failing); err != nil {
		t.Fatalf("Failed to subscribe handler: %v", err)
	}

	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventVideoReset})
	if err == nil {
		t.Error("Expected PublishSync to report handler failure")
	}
}

// TestPublishIsAsync verifies async publish delivers without blocking the caller
func TestPublishIsAsync(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	done := make(chan struct{})
	handler := func(ctx context.Context, event interfaces.Event) error {
		close(done)
		return nil
	}
	if err := svc.Subscribe(interfaces.EventStats, handler); err != nil {
		t.Fatalf("Failed to subscribe handler: %v", err)
	}

	if err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventStats}); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Handler was not invoked within 2s of Publish")
	}
}

// TestCloseDropsSubscriptions verifies no handlers fire after Close
func TestCloseDropsSubscriptions(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var calls int32
	handler := func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	if err := svc.Subscribe(interfaces.EventVideoSubmitted, handler); err != nil {
		t.Fatalf("Failed to subscribe handler: %v", err)
	}

	if err := svc.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventVideoSubmitted}); err != nil {
		t.Errorf("Expected no error after close, got: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("Expected no handler calls after Close, got: %d", got)
	}
}
