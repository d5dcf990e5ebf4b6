package negotiation

import (
	"context"
	"sync"
	"time"

	negotiationRepo "haggle/database/repository/negotiation"
	"haggle/models"

	"go.uber.org/zap"
)

// Synchronizer keeps one client's view of one session consistent with the
// record store despite interruption and concurrent writes from the other
// participant. It is read-only with respect to session state; all mutations
// go through the NegotiationService.
type Synchronizer struct {
	Repo   negotiationRepo.Repository
	Logger *zap.Logger

	sessionID string

	mu       sync.RWMutex
	snapshot *models.NegotiationSession

	updates chan *models.NegotiationSession
}

// NewSynchronizer builds a synchronizer for one session. Call Run to start
// it; it stops when the given context is cancelled.
func NewSynchronizer(repo negotiationRepo.Repository, sessionID string, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		Repo:      repo,
		Logger:    logger,
		sessionID: sessionID,
		updates:   make(chan *models.NegotiationSession, 16),
	}
}

// Snapshot returns the current reconciled view, or nil before the baseline
// fetch completed.
func (s *Synchronizer) Snapshot() *models.NegotiationSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil
	}
	return s.snapshot.Clone()
}

// Updates delivers each reconciled snapshot to the presentation layer. The
// channel is closed when Run returns.
func (s *Synchronizer) Updates() <-chan *models.NegotiationSession {
	return s.updates
}

// Run subscribes to the session's change feed and reconciles until ctx is
// cancelled. The subscription is released on every exit path. The channel is
// opened before the baseline fetch so nothing published in between is lost.
func (s *Synchronizer) Run(ctx context.Context) error {
	defer close(s.updates)

	for {
		events, unsubscribe, err := s.connect(ctx)
		if err != nil {
			return err
		}

		err = s.consume(ctx, events)
		unsubscribe()
		if err != nil {
			return err
		}
		// Feed channel closed underneath us: connection boundary. Ordering
		// guarantees do not survive it, so reconnect re-fetches the baseline
		// no matter how short the outage was.
		s.Logger.Warn("negotiation feed interrupted; resubscribing",
			zap.String("sessionId", s.sessionID))
	}
}

// connect subscribes, then establishes the full-snapshot baseline, retrying
// with backoff while the store is unreachable.
func (s *Synchronizer) connect(ctx context.Context) (<-chan models.NegotiationEvent, negotiationRepo.Unsubscribe, error) {
	backoff := 250 * time.Millisecond
	for {
		events, unsubscribe, err := s.Repo.Subscribe(ctx, s.sessionID)
		if err == nil {
			if baseErr := s.refetch(ctx); baseErr == nil {
				return events, unsubscribe, nil
			} else if ctx.Err() != nil {
				unsubscribe()
				return nil, nil, ctx.Err()
			} else {
				unsubscribe()
				err = baseErr
			}
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		s.Logger.Warn("negotiation subscribe failed; backing off",
			zap.String("sessionId", s.sessionID),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		if backoff < 4*time.Second {
			backoff *= 2
		}
	}
}

// consume applies feed events until the context ends (returns ctx.Err()) or
// the feed channel closes (returns nil, signalling a reconnect).
func (s *Synchronizer) consume(ctx context.Context, events <-chan models.NegotiationEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			s.apply(ctx, event)
		}
	}
}

// apply reconciles one feed event against the local view. Duplicates and
// stale deliveries are dropped; the next expected version is adopted; a gap
// means intermediate events were missed, so the event is discarded and the
// authoritative snapshot re-fetched instead of risking a torn view.
func (s *Synchronizer) apply(ctx context.Context, event models.NegotiationEvent) {
	s.mu.RLock()
	var current int64
	if s.snapshot != nil {
		current = s.snapshot.Version
	}
	s.mu.RUnlock()

	switch {
	case event.Version <= current:
		return
	case event.Version == current+1:
		snap := event.Snapshot
		s.adopt(&snap)
	default:
		s.Logger.Info("negotiation feed gap detected; re-fetching",
			zap.String("sessionId", s.sessionID),
			zap.Int64("have", current),
			zap.Int64("got", event.Version))
		if err := s.refetch(ctx); err != nil {
			s.Logger.Warn("negotiation re-fetch after gap failed",
				zap.String("sessionId", s.sessionID), zap.Error(err))
		}
	}
}

func (s *Synchronizer) refetch(ctx context.Context) error {
	snap, err := s.Repo.Get(ctx, s.sessionID)
	if err != nil {
		return err
	}
	s.adopt(snap)
	return nil
}

// adopt installs a snapshot if it is newer than the current view and hands
// it to the presentation layer. A slow consumer loses intermediate
// snapshots, never the latest one.
func (s *Synchronizer) adopt(snap *models.NegotiationSession) {
	s.mu.Lock()
	if s.snapshot != nil && snap.Version <= s.snapshot.Version {
		s.mu.Unlock()
		return
	}
	s.snapshot = snap
	s.mu.Unlock()

	for {
		select {
		case s.updates <- snap.Clone():
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}
