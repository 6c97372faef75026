package proctor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-dev/aegis-api/internal/models"
)

type eventStoreStub struct {
	mu     sync.Mutex
	events []models.ProctorEvent
}

func (s *eventStoreStub) CreateProctorEvent(ctx context.Context, event *models.ProctorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *eventStoreStub) stored() []models.ProctorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ProctorEvent(nil), s.events...)
}

type manualSource struct {
	ch chan Event
}

func (m *manualSource) Events() <-chan Event { return m.ch }
func (m *manualSource) Close() error {
	close(m.ch)
	return nil
}

func TestIngestorPersistsSourceEvents(t *testing.T) {
	source := &manualSource{ch: make(chan Event, 4)}
	store := &eventStoreStub{}
	ing := NewIngestor(source, store, nil, nil, IngestorConfig{Workers: 1, BufferSize: 4})
	ing.Start(context.Background())

	now := time.Now().UTC()
	source.ch <- Event{SessionID: "s1", Kind: models.ProctorLookingAway, OccurredAt: now}
	source.ch <- Event{SessionID: "s1", Kind: models.ProctorBackgroundNoise, OccurredAt: now}

	require.Eventually(t, func() bool {
		return len(store.stored()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	events := store.stored()
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, models.ProctorLookingAway, events[0].Kind)

	ing.Stop()
}

func TestSimulatedEmitsOnlyForTrackedSessions(t *testing.T) {
	sim := NewSimulated(10*time.Millisecond, 16)
	defer sim.Close() //nolint:errcheck

	sim.Track("s1")

	var got Event
	select {
	case got = <-sim.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("expected a simulated event")
	}
	assert.Equal(t, "s1", got.SessionID)
	assert.Contains(t, simulatedKinds, got.Kind)

	sim.Untrack("s1")
	// Drain anything emitted before the untrack landed.
	deadline := time.After(100 * time.Millisecond)
drain:
	for {
		select {
		case <-sim.Events():
		case <-deadline:
			break drain
		}
	}

	select {
	case e, ok := <-sim.Events():
		if ok {
			t.Fatalf("unexpected event after untrack: %+v", e)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSimulatedCloseClosesChannel(t *testing.T) {
	sim := NewSimulated(time.Hour, 1)
	require.NoError(t, sim.Close())

	select {
	case _, ok := <-sim.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("events channel was not closed")
	}

	// Close is idempotent.
	require.NoError(t, sim.Close())
}
