package negotiation

import (
	"context"
	"time"

	negotiationRepo "haggle/database/repository/negotiation"
	"haggle/models"

	"go.uber.org/zap"
)

// ProposalRef identifies the bargaining subject for a Propose call. When
// SessionID is empty the engine resolves or lazily creates the open session
// for the (ServiceID, ClientID) pair; ListPrice seeds InitialPrice then.
type ProposalRef struct {
	SessionID  string
	ServiceID  string
	ProviderID string
	ClientID   string
	ListPrice  float64
}

// ReminderScheduler schedules an open-offer nudge; implementations must be
// safe to call after every priced write.
type ReminderScheduler interface {
	Schedule(sessionID string, version int64) error
}

// NegotiationService is the state machine governing negotiation sessions.
// Every mutation is linearized through the store's version compare-and-swap.
type NegotiationService interface {
	Propose(ctx context.Context, actor string, ref ProposalRef, price float64, body string) (*models.NegotiationSession, error)
	Counter(ctx context.Context, actor, sessionID string, price float64, body string) (*models.NegotiationSession, error)
	Accept(ctx context.Context, actor, sessionID string) (*models.NegotiationSession, error)
	Reject(ctx context.Context, actor, sessionID, body string) (*models.NegotiationSession, error)
	SendMessage(ctx context.Context, actor, sessionID, body string) (*models.NegotiationSession, error)
	Complete(ctx context.Context, sessionID, paymentReference string) (*models.NegotiationSession, error)
	Get(ctx context.Context, actor, sessionID string) (*models.NegotiationSession, error)
	ListForParticipant(ctx context.Context, actor string) ([]models.NegotiationSession, error)
	Quote(ctx context.Context, actor, sessionID string) (*models.QuoteBreakdown, error)
}

// DefaultNegotiationService implements NegotiationService.
type DefaultNegotiationService struct {
	Repo         negotiationRepo.Repository
	Money        *MoneyPolicy
	Reminders    ReminderScheduler
	Logger       *zap.Logger
	StoreTimeout time.Duration
}

func (s *DefaultNegotiationService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
