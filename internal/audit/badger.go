// SPDX-License-Identifier: MIT

package audit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xglog "github.com/quizwire/quizwire/internal/log"
)

// queueSize bounds the in-flight audit backlog. When the queue is full the
// event is still in the structured log; the durable copy is dropped rather
// than blocking the hot path.
const queueSize = 1024

// BadgerSink appends audit events to a badger database. Keys are
// "audit:<unix_nanos>:<uuid>" so a prefix scan yields chronological order.
// Writes happen on a background goroutine with exponential backoff, so a
// slow disk never stalls the session actor.
type BadgerSink struct {
	db     *badger.DB
	queue  chan Event
	done   chan struct{}
	logger zerolog.Logger

	closeOnce sync.Once
}

// NewBadgerSink opens (or creates) the audit database at path.
func NewBadgerSink(path string) (*BadgerSink, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	s := &BadgerSink{
		db:     db,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
		logger: xglog.WithComponent("audit-sink"),
	}
	go s.writeLoop()
	return s, nil
}

// Append enqueues an event for durable storage. Non-blocking.
func (s *BadgerSink) Append(event Event) error {
	select {
	case s.queue <- event:
		return nil
	default:
		return fmt.Errorf("audit queue full, event %s dropped", event.Type)
	}
}

func (s *BadgerSink) writeLoop() {
	defer close(s.done)

	for event := range s.queue {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = 50 * time.Millisecond
		policy.MaxElapsedTime = 5 * time.Second

		err := backoff.Retry(func() error {
			return s.write(event)
		}, policy)
		if err != nil {
			s.logger.Error().Err(err).
				Str("event_type", string(event.Type)).
				Msg("durable audit write failed after retries")
		}
	}
}

func (s *BadgerSink) write(event Event) error {
	buf, err := json.Marshal(event)
	if err != nil {
		return backoff.Permanent(err)
	}
	key := []byte("audit:" + strconv.FormatInt(event.Timestamp.UnixNano(), 10) + ":" + uuid.NewString())
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

// List returns up to limit events in chronological order. Used by tests and
// offline forensics tooling.
func (s *BadgerSink) List(limit int) ([]Event, error) {
	var events []Event
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("audit:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(events) < limit; it.Next() {
			var e Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			events = append(events, e)
		}
		return nil
	})
	return events, err
}

// Close drains the queue and closes the database.
func (s *BadgerSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.queue)
	})
	<-s.done
	return s.db.Close()
}
