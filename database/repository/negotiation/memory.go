package negotiationRepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"haggle/models"
)

// memoryNegotiationRepo is an in-process Repository with the same semantics
// as the Mongo-backed store. It backs unit tests and local runs without
// infrastructure.
type memoryNegotiationRepo struct {
	mu          sync.RWMutex
	sessions    map[string]*models.NegotiationSession
	subscribers map[string]map[int]chan models.NegotiationEvent
	nextSubID   int
}

// NewMemoryNegotiationRepo returns an empty in-memory Repository.
func NewMemoryNegotiationRepo() Repository {
	return &memoryNegotiationRepo{
		sessions:    make(map[string]*models.NegotiationSession),
		subscribers: make(map[string]map[int]chan models.NegotiationEvent),
	}
}

func (r *memoryNegotiationRepo) Get(ctx context.Context, sessionID string) (*models.NegotiationSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return session.Clone(), nil
}

func (r *memoryNegotiationRepo) FindOpen(ctx context.Context, serviceID, clientID string) (*models.NegotiationSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, session := range r.sessions {
		if session.ServiceID == serviceID && session.ClientID == clientID && session.Status.Open() {
			return session.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryNegotiationRepo) ListByParticipant(ctx context.Context, participantID string) ([]models.NegotiationSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.NegotiationSession
	for _, session := range r.sessions {
		if session.IsParticipant(participantID) {
			out = append(out, *session.Clone())
		}
	}
	// Most recently touched first, matching the Mongo sort.
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *memoryNegotiationRepo) Create(ctx context.Context, session *models.NegotiationSession) (*models.NegotiationSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	for _, existing := range r.sessions {
		if existing.ServiceID == session.ServiceID && existing.ClientID == session.ClientID && existing.Status.Open() {
			r.mu.Unlock()
			return nil, ErrDuplicateOpen
		}
	}
	now := time.Now()
	stored := session.Clone()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Version == 0 {
		stored.Version = 1
	}
	r.sessions[stored.ID] = stored
	snapshot := stored.Clone()
	r.mu.Unlock()

	r.broadcast(snapshot)
	return snapshot, nil
}

func (r *memoryNegotiationRepo) ConditionalWrite(ctx context.Context, expectedVersion int64, session *models.NegotiationSession) (*models.NegotiationSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	current, ok := r.sessions[session.ID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	if current.Version != expectedVersion {
		r.mu.Unlock()
		return nil, ErrVersionConflict
	}
	next := session.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now()
	r.sessions[next.ID] = next
	snapshot := next.Clone()
	r.mu.Unlock()

	r.broadcast(snapshot)
	return snapshot, nil
}

func (r *memoryNegotiationRepo) Subscribe(ctx context.Context, sessionID string) (<-chan models.NegotiationEvent, Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subscribers[sessionID] == nil {
		r.subscribers[sessionID] = make(map[int]chan models.NegotiationEvent)
	}
	id := r.nextSubID
	r.nextSubID++
	ch := make(chan models.NegotiationEvent, 16)
	r.subscribers[sessionID][id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if subs, ok := r.subscribers[sessionID]; ok {
				if c, ok := subs[id]; ok {
					delete(subs, id)
					close(c)
				}
			}
		})
	}
	return ch, unsubscribe, nil
}

func (r *memoryNegotiationRepo) broadcast(session *models.NegotiationSession) {
	event := models.NegotiationEvent{
		SessionID: session.ID,
		Version:   session.Version,
		Snapshot:  *session,
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subscribers[session.ID] {
		select {
		case ch <- event:
		default:
			// Slow subscriber; it will detect the gap and re-fetch.
		}
	}
}
