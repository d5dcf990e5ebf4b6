package negotiation

import (
	"context"
	"sync"
	"testing"
	"time"

	negotiationRepo "haggle/database/repository/negotiation"
	"haggle/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitForSnapshot(t *testing.T, updates <-chan *models.NegotiationSession, version int64) *models.NegotiationSession {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-updates:
			require.True(t, ok, "updates channel closed while waiting for version %d", version)
			if snap.Version >= version {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot version %d", version)
		}
	}
}

func TestSynchronizerFollowsEngineWrites(t *testing.T) {
	svc, repo := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := svc.Propose(ctx, "provider-1", listingRef(), 1000, "")
	require.NoError(t, err)

	sync := NewSynchronizer(repo, sess.ID, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- sync.Run(ctx) }()

	// Baseline snapshot first.
	base := waitForSnapshot(t, sync.Updates(), 1)
	assert.Equal(t, models.StatusPending, base.Status)

	_, err = svc.Counter(ctx, "client-1", sess.ID, 850, "budget constraint")
	require.NoError(t, err)

	snap := waitForSnapshot(t, sync.Updates(), 2)
	assert.Equal(t, models.StatusCountered, snap.Status)
	assert.Equal(t, float64(850), snap.CurrentPrice)

	_, err = svc.Accept(ctx, "provider-1", sess.ID)
	require.NoError(t, err)

	snap = waitForSnapshot(t, sync.Updates(), 3)
	assert.Equal(t, models.StatusAgreed, snap.Status)
	require.NotNil(t, snap.FinalPrice)
	assert.Equal(t, float64(850), *snap.FinalPrice)

	// Teardown releases the subscription and closes the updates channel.
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("synchronizer did not stop after cancellation")
	}
	_, ok := <-sync.Updates()
	assert.False(t, ok)
}

func TestSynchronizerNeverMutatesStore(t *testing.T) {
	svc, repo := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := svc.Propose(ctx, "client-1", listingRef(), 850, "")
	require.NoError(t, err)

	sync := NewSynchronizer(repo, sess.ID, zap.NewNop())
	go func() { _ = sync.Run(ctx) }()
	waitForSnapshot(t, sync.Updates(), 1)

	stored, err := repo.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
}

// scriptedStore serves a fixed authoritative snapshot and lets the test
// inject feed events by hand.
type scriptedStore struct {
	mu       sync.Mutex
	snapshot *models.NegotiationSession
	events   chan models.NegotiationEvent
	gets     int
}

func newScriptedStore(snapshot *models.NegotiationSession) *scriptedStore {
	return &scriptedStore{
		snapshot: snapshot,
		events:   make(chan models.NegotiationEvent, 16),
	}
}

func (s *scriptedStore) setSnapshot(snap *models.NegotiationSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

func (s *scriptedStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *scriptedStore) Get(ctx context.Context, sessionID string) (*models.NegotiationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	return s.snapshot.Clone(), nil
}

func (s *scriptedStore) FindOpen(ctx context.Context, serviceID, clientID string) (*models.NegotiationSession, error) {
	return nil, negotiationRepo.ErrNotFound
}

func (s *scriptedStore) ListByParticipant(ctx context.Context, participantID string) ([]models.NegotiationSession, error) {
	return nil, nil
}

func (s *scriptedStore) Create(ctx context.Context, session *models.NegotiationSession) (*models.NegotiationSession, error) {
	return nil, negotiationRepo.ErrDuplicateOpen
}

func (s *scriptedStore) ConditionalWrite(ctx context.Context, expectedVersion int64, session *models.NegotiationSession) (*models.NegotiationSession, error) {
	return nil, negotiationRepo.ErrVersionConflict
}

func (s *scriptedStore) Subscribe(ctx context.Context, sessionID string) (<-chan models.NegotiationEvent, negotiationRepo.Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events, func() {}, nil
}

func baseSession(version int64, price float64) *models.NegotiationSession {
	return &models.NegotiationSession{
		ID:           "sess-sync",
		ServiceID:    "svc-1",
		ProviderID:   "provider-1",
		ClientID:     "client-1",
		InitialPrice: 1000,
		CurrentPrice: price,
		Status:       models.StatusCountered,
		Version:      version,
	}
}

func TestSynchronizerGapTriggersFullRefetch(t *testing.T) {
	store := newScriptedStore(baseSession(1, 1000))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sync := NewSynchronizer(store, "sess-sync", zap.NewNop())
	go func() { _ = sync.Run(ctx) }()
	waitForSnapshot(t, sync.Updates(), 1)

	// The store has moved on to version 5; the event for version 5 arrives
	// with a body that must NOT be trusted across the gap.
	authoritative := baseSession(5, 925)
	store.setSnapshot(authoritative)
	fetchesBefore := store.getCount()

	tampered := baseSession(5, 111)
	store.events <- models.NegotiationEvent{SessionID: "sess-sync", Version: 5, Snapshot: *tampered}

	snap := waitForSnapshot(t, sync.Updates(), 5)
	assert.Equal(t, float64(925), snap.CurrentPrice, "gap must be resolved from the store, not the event body")
	assert.Greater(t, store.getCount(), fetchesBefore, "gap must force a full re-fetch")
}

func TestSynchronizerSkipsStaleAndDuplicateEvents(t *testing.T) {
	store := newScriptedStore(baseSession(3, 900))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sync := NewSynchronizer(store, "sess-sync", zap.NewNop())
	go func() { _ = sync.Run(ctx) }()
	waitForSnapshot(t, sync.Updates(), 3)

	// Replays of already-seen versions are dropped outright.
	stale := baseSession(2, 555)
	store.events <- models.NegotiationEvent{SessionID: "sess-sync", Version: 2, Snapshot: *stale}
	dup := baseSession(3, 666)
	store.events <- models.NegotiationEvent{SessionID: "sess-sync", Version: 3, Snapshot: *dup}

	next := baseSession(4, 850)
	store.events <- models.NegotiationEvent{SessionID: "sess-sync", Version: 4, Snapshot: *next}

	snap := waitForSnapshot(t, sync.Updates(), 4)
	assert.Equal(t, float64(850), snap.CurrentPrice)

	current := sync.Snapshot()
	require.NotNil(t, current)
	assert.Equal(t, int64(4), current.Version)
}

func TestSynchronizerRefetchesAcrossReconnect(t *testing.T) {
	store := newScriptedStore(baseSession(1, 1000))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sync := NewSynchronizer(store, "sess-sync", zap.NewNop())
	go func() { _ = sync.Run(ctx) }()
	waitForSnapshot(t, sync.Updates(), 1)

	// Simulate a dropped feed connection after the store advanced. The
	// reconnect must re-fetch the baseline even though no event says so.
	store.setSnapshot(baseSession(7, 925))
	oldEvents := store.events
	store.mu.Lock()
	store.events = make(chan models.NegotiationEvent, 16)
	store.mu.Unlock()
	close(oldEvents)

	snap := waitForSnapshot(t, sync.Updates(), 7)
	assert.Equal(t, float64(925), snap.CurrentPrice)
}
