package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const speechQueueSize = 32

// SpeechQueue emits a room's utterances one at a time. When the queue is full
// producers wait for room; nothing queued is dropped until Close.
type SpeechQueue struct {
	room   *Room
	sink   func(Utterance)
	queue  chan Utterance
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewSpeechQueue starts the emitter for room. sink, if non-nil, observes every
// utterance after it has been written to participants.
func NewSpeechQueue(room *Room, sink func(Utterance), logger *slog.Logger) *SpeechQueue {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &SpeechQueue{
		room:   room,
		sink:   sink,
		queue:  make(chan Utterance, speechQueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	q.wg.Add(1)
	go q.process()

	return q
}

// Enqueue adds an utterance, waiting while the queue is full. It returns
// ErrRoomClosed once the queue is closed, or ctx's error if ctx ends first.
func (q *SpeechQueue) Enqueue(ctx context.Context, u Utterance) error {
	select {
	case <-q.ctx.Done():
		return ErrRoomClosed
	default:
	}

	select {
	case q.queue <- u:
		return nil
	default:
	}

	q.logger.Debug("Speech queue full, waiting", "id", u.ID, "queue_len", len(q.queue))
	select {
	case q.queue <- u:
		return nil
	case <-q.ctx.Done():
		return ErrRoomClosed
	case <-ctx.Done():
		q.logger.Warn("Utterance not queued before deadline", "id", u.ID, "error", ctx.Err())
		return ctx.Err()
	}
}

func (q *SpeechQueue) process() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case u := <-q.queue:
			start := time.Now()
			if q.room != nil {
				q.room.broadcast(speechFrame{Type: "speech", Utterance: u})
			}
			if q.sink != nil {
				q.sink(u)
			}
			if d := time.Since(start); d > 500*time.Millisecond {
				q.logger.Warn("Slow speech emission", "id", u.ID, "duration_ms", d.Milliseconds())
			}
		}
	}
}

// Close stops the emitter. Pending utterances are discarded.
func (q *SpeechQueue) Close() {
	q.cancel()

	drained := 0
	for {
		select {
		case <-q.queue:
			drained++
			continue
		default:
		}
		break
	}
	if drained > 0 {
		q.logger.Info("Discarded pending utterances", "count", drained)
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		q.logger.Warn("Speech queue shutdown timeout")
	}
}

// Len returns the number of pending utterances.
func (q *SpeechQueue) Len() int { return len(q.queue) }
