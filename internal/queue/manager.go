// -----------------------------------------------------------------------
// Last Modified: Wednesday, 15th April 2026 2:47:31 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

// Package queue implements the persistent message bus as a Badger-backed
// at-least-once queue. Producers publish raw payloads; the ingestion
// adapter receives them under a visibility timeout and acknowledges by
// delete. Messages delivered more than max-receive times are dropped.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// storedMessage is the internal structure persisted in Badger. VisibleAt
// drives redelivery: an unacked message becomes visible again once its
// visibility timeout elapses.
type storedMessage struct {
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAt    time.Time       `json:"visible_at"`
	ReceiveCount int             `json:"receive_count"`
}

// Manager implements interfaces.QueueManager over a shared Badger DB.
// Keys: queue:{name}:msg:{id} holds the message, queue:{name}:index:
// {padded-nanos}:{id} orders it by visibility time.
type Manager struct {
	db                *badger.DB
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

// NewManager creates a queue manager on an externally-managed Badger DB.
func NewManager(db *badger.DB, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*Manager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 5
	}

	return &Manager{
		db:                db,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

// Publish appends a payload to the named queue and returns the message id.
func (m *Manager) Publish(ctx context.Context, queue string, payload []byte) (string, error) {
	if queue == "" {
		return "", errors.New("queue name is required")
	}

	id := uuid.New().String()
	now := time.Now()
	sMsg := storedMessage{
		ID:         id,
		Payload:    payload,
		EnqueuedAt: now,
		VisibleAt:  now, // Immediately visible
	}

	data, err := json.Marshal(sMsg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue message: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(msgKey(queue, id), data); err != nil {
			return err
		}
		return txn.Set(indexKey(queue, sMsg.VisibleAt, id), []byte{})
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish to queue %s: %w", queue, err)
	}

	return id, nil
}

// Receive claims the oldest visible message from the named queue. The
// claim bumps the receive count and pushes VisibleAt out by the visibility
// timeout, so an unacked message redelivers. Returns models.ErrNoMessage
// when nothing is ready.
func (m *Manager) Receive(ctx context.Context, queue string) (*models.QueueMessage, interfaces.AckFunc, error) {
	var sMsg storedMessage
	var msgID string
	var oldIndexKey []byte

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := indexPrefix(queue)
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found := false

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := parseIndexKey(queue, key)
			if err != nil {
				continue // Skip malformed keys
			}

			// Index keys sort by visibility time; the first future entry
			// means nothing after it is ready either.
			if ts.After(now) {
				break
			}

			itemMsg, err := txn.Get(msgKey(queue, id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry; clean it up and keep scanning
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			if err := itemMsg.Value(func(val []byte) error {
				return json.Unmarshal(val, &sMsg)
			}); err != nil {
				return err
			}

			if sMsg.ReceiveCount >= m.maxReceive {
				// Delivery cap reached: drop so a poison payload cannot
				// cycle forever.
				m.logger.Warn().
					Str("queue", queue).
					Str("message_id", id).
					Int("receive_count", sMsg.ReceiveCount).
					Msg("Message exceeded max receive count, dropping")
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(msgKey(queue, id)); err != nil {
					return err
				}
				continue
			}

			found = true
			msgID = id
			oldIndexKey = key
			break
		}

		if !found {
			return models.ErrNoMessage
		}

		sMsg.ReceiveCount++
		sMsg.VisibleAt = time.Now().Add(m.visibilityTimeout)

		newData, err := json.Marshal(sMsg)
		if err != nil {
			return err
		}
		if err := txn.Set(msgKey(queue, msgID), newData); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(indexKey(queue, sMsg.VisibleAt, msgID), []byte{})
	})

	if err != nil {
		return nil, nil, err
	}

	msg := &models.QueueMessage{
		ID:           sMsg.ID,
		Payload:      sMsg.Payload,
		EnqueuedAt:   sMsg.EnqueuedAt,
		ReceiveCount: sMsg.ReceiveCount,
	}

	// Ack deletes the message; a second call finds nothing and no-ops.
	ack := func() error {
		return m.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(msgKey(queue, msgID))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					return nil // Already acked
				}
				return err
			}

			var current storedMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return err
			}

			if err := txn.Delete(indexKey(queue, current.VisibleAt, msgID)); err != nil {
				if err != badger.ErrKeyNotFound {
					return err
				}
			}
			return txn.Delete(msgKey(queue, msgID))
		})
	}

	return msg, ack, nil
}

// Depth returns the number of messages stored on the queue, visible or not.
func (m *Manager) Depth(ctx context.Context, queue string) (int64, error) {
	var count int64
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", queue))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count queue %s: %w", queue, err)
	}
	return count, nil
}

// Close is a no-op; the Badger DB is managed by the storage layer.
func (m *Manager) Close() error {
	return nil
}

// Helpers

func msgKey(queue, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", queue, id))
}

func indexPrefix(queue string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", queue))
}

func indexKey(queue string, visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so lexicographic ordering matches numeric
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", queue, visibleAt.UnixNano(), id))
}

func parseIndexKey(queue string, key []byte) (time.Time, string, error) {
	prefixStr := fmt.Sprintf("queue:%s:index:", queue)
	if len(key) <= len(prefixStr) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefixStr):])
	if len(suffix) < 21 { // 20 digits + 1 colon
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	tsStr := suffix[:20]
	id := suffix[21:]

	var ts int64
	if _, err := fmt.Sscanf(tsStr, "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), id, nil
}
