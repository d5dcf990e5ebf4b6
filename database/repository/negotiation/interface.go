package negotiationRepo

import (
	"context"
	"errors"

	"haggle/models"
)

var (
	// ErrNotFound signals that no session exists for the given id.
	ErrNotFound = errors.New("negotiation session not found")
	// ErrVersionConflict signals a conditional write against a stale version.
	ErrVersionConflict = errors.New("negotiation session version conflict")
	// ErrDuplicateOpen signals that an open session already exists for the
	// (serviceId, clientId) pair.
	ErrDuplicateOpen = errors.New("open negotiation session already exists for pair")
)

// Unsubscribe releases a change-feed subscription. Safe to call more than once.
type Unsubscribe func()

// Repository is the negotiation record store: durable sessions with an
// embedded message log, optimistic-concurrency writes and a per-session
// change feed.
//
// ConditionalWrite persists the given state only when the stored version
// equals expectedVersion; on success the stored version is expectedVersion+1
// and the full new snapshot is published on the session's feed. Because
// messages are embedded in the session document, a message append and the
// status change it implies are always observable as one snapshot.
type Repository interface {
	Get(ctx context.Context, sessionID string) (*models.NegotiationSession, error)
	FindOpen(ctx context.Context, serviceID, clientID string) (*models.NegotiationSession, error)
	ListByParticipant(ctx context.Context, participantID string) ([]models.NegotiationSession, error)
	Create(ctx context.Context, session *models.NegotiationSession) (*models.NegotiationSession, error)
	ConditionalWrite(ctx context.Context, expectedVersion int64, session *models.NegotiationSession) (*models.NegotiationSession, error)
	Subscribe(ctx context.Context, sessionID string) (<-chan models.NegotiationEvent, Unsubscribe, error)
}
