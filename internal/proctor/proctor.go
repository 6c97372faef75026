// Package proctor connects proctoring event providers to event storage.
// Providers implement EventSource; the Ingestor drains them through a worker
// queue so a slow database never backs up a provider stream.
package proctor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegis-dev/aegis-api/internal/models"
	"github.com/aegis-dev/aegis-api/pkg/jobs"
)

// Event is one observation from a proctoring provider.
type Event struct {
	SessionID  string
	Kind       models.ProctorEventKind
	OccurredAt time.Time
}

// EventSource streams proctoring events. Close releases provider resources
// and closes the Events channel.
type EventSource interface {
	Events() <-chan Event
	Close() error
}

type eventStore interface {
	CreateProctorEvent(ctx context.Context, event *models.ProctorEvent) error
}

type eventCounter interface {
	RecordProctorEvent(kind string)
}

// Ingestor drains an EventSource into storage through a job queue.
type Ingestor struct {
	source  EventSource
	queue   *jobs.Queue
	metrics eventCounter
	logger  *zap.Logger

	done chan struct{}
}

// IngestorConfig sizes the ingest worker pool.
type IngestorConfig struct {
	Workers    int
	BufferSize int
}

// NewIngestor wires the source to the store. metrics may be nil.
func NewIngestor(source EventSource, store eventStore, metrics eventCounter, logger *zap.Logger, cfg IngestorConfig) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}

	ing := &Ingestor{
		source:  source,
		metrics: metrics,
		logger:  logger,
		done:    make(chan struct{}),
	}

	ing.queue = jobs.NewQueue("proctor-ingest", func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(Event)
		if !ok {
			logger.Error("unexpected proctor job payload", zap.String("job_id", job.ID))
			return nil
		}
		return store.CreateProctorEvent(ctx, &models.ProctorEvent{
			SessionID:  event.SessionID,
			Kind:       event.Kind,
			OccurredAt: event.OccurredAt,
		})
	}, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		Logger:     logger,
	})

	return ing
}

// Start launches the queue workers and the source drain loop.
func (i *Ingestor) Start(ctx context.Context) {
	i.queue.Start(ctx)
	go i.drain()
}

// Stop closes the source and waits for queued events to flush.
func (i *Ingestor) Stop() {
	if err := i.source.Close(); err != nil {
		i.logger.Warn("failed to close proctor source", zap.Error(err))
	}
	<-i.done
	i.queue.Stop()
}

func (i *Ingestor) drain() {
	defer close(i.done)
	for event := range i.source.Events() {
		if i.metrics != nil {
			i.metrics.RecordProctorEvent(string(event.Kind))
		}
		job := jobs.Job{
			ID:      uuid.NewString(),
			Type:    "proctor_event",
			Payload: event,
		}
		if err := i.queue.Enqueue(job); err != nil {
			i.logger.Warn("failed to enqueue proctor event", zap.String("session_id", event.SessionID), zap.Error(err))
		}
	}
}

// Simulated emits synthetic events for tracked sessions. It exists for local
// development and is never enabled in production builds.
type Simulated struct {
	interval time.Duration
	events   chan Event

	mu       sync.Mutex
	sessions map[string]struct{}
	closed   bool
	cancel   context.CancelFunc
}

var simulatedKinds = []models.ProctorEventKind{
	models.ProctorFaceDetected,
	models.ProctorMultipleFaces,
	models.ProctorLookingAway,
	models.ProctorBackgroundNoise,
}

// NewSimulated starts a ticker-driven synthetic source.
func NewSimulated(interval time.Duration, buffer int) *Simulated {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if buffer <= 0 {
		buffer = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Simulated{
		interval: interval,
		events:   make(chan Event, buffer),
		sessions: make(map[string]struct{}),
		cancel:   cancel,
	}
	go s.run(ctx)
	return s
}

// Track starts emitting events for the session.
func (s *Simulated) Track(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.sessions[sessionID] = struct{}{}
}

// Untrack stops emitting events for the session.
func (s *Simulated) Untrack(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Events implements EventSource.
func (s *Simulated) Events() <-chan Event {
	return s.events
}

// Close stops the ticker and closes the event channel.
func (s *Simulated) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return nil
}

func (s *Simulated) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emit()
		}
	}
}

func (s *Simulated) emit() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range ids {
		event := Event{
			SessionID:  id,
			Kind:       simulatedKinds[rand.Intn(len(simulatedKinds))],
			OccurredAt: now,
		}
		select {
		case s.events <- event:
		default:
			// Drop when the buffer is full; events are informational.
		}
	}
}
