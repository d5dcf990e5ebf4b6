package negotiation

import (
	"context"
	"errors"
	"strings"
	"time"

	negotiationRepo "haggle/database/repository/negotiation"
	"haggle/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// casRetryLimit bounds how often a conflicting write is re-validated against
// fresh state before CONCURRENT_MODIFICATION is surfaced.
const casRetryLimit = 3

// Propose asserts a new price, creating the session lazily when none is open
// for the (serviceId, clientId) pair.
func (s *DefaultNegotiationService) Propose(ctx context.Context, actor string, ref ProposalRef, price float64, body string) (*models.NegotiationSession, error) {
	if price <= 0 {
		return nil, &NegotiationError{Code: CodeInvalidPrice, Action: "propose", SessionID: ref.SessionID,
			Message: "proposed price must be greater than zero"}
	}

	if ref.SessionID != "" {
		return s.mutate(ctx, ref.SessionID, "propose", s.applyOffer(actor, price, body, false))
	}

	cctx, cancel := s.storeCtx(ctx)
	existing, err := s.Repo.FindOpen(cctx, ref.ServiceID, ref.ClientID)
	cancel()
	if err == nil {
		return s.mutate(ctx, existing.ID, "propose", s.applyOffer(actor, price, body, false))
	}
	if !errors.Is(err, negotiationRepo.ErrNotFound) {
		return nil, s.storeErr("propose", ref.SessionID, err)
	}

	return s.createSession(ctx, actor, ref, price, body)
}

// Counter asserts a new price on an existing open session. The author of the
// most recent priced message cannot counter their own offer.
func (s *DefaultNegotiationService) Counter(ctx context.Context, actor, sessionID string, price float64, body string) (*models.NegotiationSession, error) {
	if price <= 0 {
		return nil, &NegotiationError{Code: CodeInvalidPrice, Action: "counter", SessionID: sessionID,
			Message: "proposed price must be greater than zero"}
	}
	return s.mutate(ctx, sessionID, "counter", s.applyOffer(actor, price, body, true))
}

// Accept locks the current price in as final. Only the recipient of the
// outstanding offer may accept it. Acceptance binds to the offer seen on the
// first read: if a conflicting write replaces that offer before the
// conditional write lands, the accept surfaces a conflict instead of quietly
// agreeing to a price the actor never saw.
func (s *DefaultNegotiationService) Accept(ctx context.Context, actor, sessionID string) (*models.NegotiationSession, error) {
	var acceptedOfferID string
	return s.mutate(ctx, sessionID, "accept", func(sess *models.NegotiationSession) error {
		if sess.Status.Terminal() || sess.Status == models.StatusAgreed {
			return &NegotiationError{Code: CodeAlreadyResolved, Action: "accept", SessionID: sess.ID, Version: sess.Version,
				Message: "session is already resolved"}
		}
		if !sess.IsParticipant(actor) {
			return &NegotiationError{Code: CodeForbidden, Action: "accept", SessionID: sess.ID, Version: sess.Version,
				Message: "actor is not a session participant"}
		}
		offer := sess.LastOffer()
		if offer == nil {
			return &NegotiationError{Code: CodeNothingToAccept, Action: "accept", SessionID: sess.ID, Version: sess.Version,
				Message: "no outstanding priced offer to accept"}
		}
		if offer.SenderID == actor {
			return &NegotiationError{Code: CodeOutOfTurn, Action: "accept", SessionID: sess.ID, Version: sess.Version,
				Message: "cannot accept your own offer"}
		}
		if acceptedOfferID == "" {
			acceptedOfferID = offer.ID
		} else if acceptedOfferID != offer.ID {
			return &NegotiationError{Code: CodeConcurrentModification, Action: "accept", SessionID: sess.ID, Version: sess.Version,
				Message: "the outstanding offer changed while accepting; re-fetch and retry"}
		}

		final := sess.CurrentPrice
		sess.FinalPrice = &final
		sess.Status = models.StatusAgreed
		appendMessage(sess, actor, "Offer accepted.", nil)
		return nil
	})
}

// Reject withdraws from the negotiation; terminal.
func (s *DefaultNegotiationService) Reject(ctx context.Context, actor, sessionID, body string) (*models.NegotiationSession, error) {
	return s.mutate(ctx, sessionID, "reject", func(sess *models.NegotiationSession) error {
		if !sess.Status.Open() {
			return &NegotiationError{Code: CodeAlreadyResolved, Action: "reject", SessionID: sess.ID, Version: sess.Version,
				Message: "session is already resolved"}
		}
		if !sess.IsParticipant(actor) {
			return &NegotiationError{Code: CodeForbidden, Action: "reject", SessionID: sess.ID, Version: sess.Version,
				Message: "actor is not a session participant"}
		}
		if strings.TrimSpace(body) == "" {
			body = "Withdrew from the negotiation."
		}
		sess.Status = models.StatusRejected
		appendMessage(sess, actor, body, nil)
		return nil
	})
}

// SendMessage appends a plain chat message without a state transition.
func (s *DefaultNegotiationService) SendMessage(ctx context.Context, actor, sessionID, body string) (*models.NegotiationSession, error) {
	if strings.TrimSpace(body) == "" {
		return nil, &NegotiationError{Code: CodeInvalidMessage, Action: "message", SessionID: sessionID,
			Message: "message body must not be empty"}
	}
	return s.mutate(ctx, sessionID, "message", func(sess *models.NegotiationSession) error {
		if !sess.Status.Open() {
			return &NegotiationError{Code: CodeSessionClosed, Action: "message", SessionID: sess.ID, Version: sess.Version,
				Message: "session no longer accepts messages"}
		}
		if !sess.IsParticipant(actor) {
			return &NegotiationError{Code: CodeForbidden, Action: "message", SessionID: sess.ID, Version: sess.Version,
				Message: "actor is not a session participant"}
		}
		appendMessage(sess, actor, body, nil)
		return nil
	})
}

// Complete marks the session paid. Invoked by the payment handoff only after
// the external gateway succeeded.
func (s *DefaultNegotiationService) Complete(ctx context.Context, sessionID, paymentReference string) (*models.NegotiationSession, error) {
	return s.mutate(ctx, sessionID, "complete", func(sess *models.NegotiationSession) error {
		if sess.Status.Terminal() {
			return &NegotiationError{Code: CodeAlreadyResolved, Action: "complete", SessionID: sess.ID, Version: sess.Version,
				Message: "session is already resolved"}
		}
		if sess.Status != models.StatusAgreed {
			return &NegotiationError{Code: CodeNotAgreed, Action: "complete", SessionID: sess.ID, Version: sess.Version,
				Message: "session has no agreed price yet"}
		}
		sess.Status = models.StatusCompleted
		sess.PaymentRef = paymentReference
		appendMessage(sess, sess.ClientID, "Payment confirmed.", nil)
		return nil
	})
}

// Get returns the current snapshot to a participant.
func (s *DefaultNegotiationService) Get(ctx context.Context, actor, sessionID string) (*models.NegotiationSession, error) {
	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	sess, err := s.Repo.Get(cctx, sessionID)
	if err != nil {
		return nil, s.storeErr("get", sessionID, err)
	}
	if !sess.IsParticipant(actor) {
		return nil, &NegotiationError{Code: CodeForbidden, Action: "get", SessionID: sessionID, Version: sess.Version,
			Message: "actor is not a session participant"}
	}
	return sess, nil
}

// ListForParticipant returns the actor's sessions, most recently touched first.
func (s *DefaultNegotiationService) ListForParticipant(ctx context.Context, actor string) ([]models.NegotiationSession, error) {
	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	sessions, err := s.Repo.ListByParticipant(cctx, actor)
	if err != nil {
		return nil, s.storeErr("list", "", err)
	}
	return sessions, nil
}

// Quote returns the fee/tax breakdown for the session's current price.
func (s *DefaultNegotiationService) Quote(ctx context.Context, actor, sessionID string) (*models.QuoteBreakdown, error) {
	sess, err := s.Get(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	price := sess.CurrentPrice
	if sess.FinalPrice != nil {
		price = *sess.FinalPrice
	}
	return s.Money.Quote(ctx, price)
}

// applyOffer is the shared propose/counter transition. enforceTurn adds the
// no-self-counter rule.
func (s *DefaultNegotiationService) applyOffer(actor string, price float64, body string, enforceTurn bool) func(*models.NegotiationSession) error {
	return func(sess *models.NegotiationSession) error {
		action := "propose"
		if enforceTurn {
			action = "counter"
		}
		if !sess.Status.Open() {
			if sess.Status.Terminal() {
				return &NegotiationError{Code: CodeAlreadyResolved, Action: action, SessionID: sess.ID, Version: sess.Version,
					Message: "session is already resolved"}
			}
			return &NegotiationError{Code: CodeSessionClosed, Action: action, SessionID: sess.ID, Version: sess.Version,
				Message: "session no longer accepts offers"}
		}
		if !sess.IsParticipant(actor) {
			return &NegotiationError{Code: CodeForbidden, Action: action, SessionID: sess.ID, Version: sess.Version,
				Message: "actor is not a session participant"}
		}
		if enforceTurn {
			if offerer := sess.LastOfferBy(); offerer == actor {
				return &NegotiationError{Code: CodeOutOfTurn, Action: action, SessionID: sess.ID, Version: sess.Version,
					Message: "cannot counter your own open offer"}
			}
		}

		sess.CurrentPrice = price
		// The very first proposal at the listed price keeps the session
		// pending; any other priced message marks it countered.
		if !(sess.LastOfferBy() == "" && price == sess.InitialPrice && sess.Status == models.StatusPending) {
			sess.Status = models.StatusCountered
		}
		appendMessage(sess, actor, body, &price)
		return nil
	}
}

func (s *DefaultNegotiationService) createSession(ctx context.Context, actor string, ref ProposalRef, price float64, body string) (*models.NegotiationSession, error) {
	if actor != ref.ProviderID && actor != ref.ClientID {
		return nil, &NegotiationError{Code: CodeForbidden, Action: "propose",
			Message: "actor is not a session participant"}
	}
	if ref.ListPrice <= 0 {
		return nil, &NegotiationError{Code: CodeInvalidPrice, Action: "propose",
			Message: "listed price must be greater than zero"}
	}

	status := models.StatusCountered
	if price == ref.ListPrice {
		status = models.StatusPending
	}
	sess := &models.NegotiationSession{
		ID:           uuid.New().String(),
		ServiceID:    ref.ServiceID,
		ProviderID:   ref.ProviderID,
		ClientID:     ref.ClientID,
		InitialPrice: ref.ListPrice,
		CurrentPrice: price,
		Status:       status,
		Version:      1,
	}
	appendMessage(sess, actor, body, &price)

	cctx, cancel := s.storeCtx(ctx)
	created, err := s.Repo.Create(cctx, sess)
	cancel()
	if errors.Is(err, negotiationRepo.ErrDuplicateOpen) {
		// Lost the creation race; land the offer on the session that won.
		cctx, cancel = s.storeCtx(ctx)
		existing, findErr := s.Repo.FindOpen(cctx, ref.ServiceID, ref.ClientID)
		cancel()
		if findErr != nil {
			return nil, s.storeErr("propose", "", findErr)
		}
		return s.mutate(ctx, existing.ID, "propose", s.applyOffer(actor, price, body, false))
	}
	if err != nil {
		return nil, s.storeErr("propose", "", err)
	}

	s.scheduleReminder(created)
	s.Logger.Info("negotiation session created",
		zap.String("sessionId", created.ID),
		zap.String("serviceId", created.ServiceID),
		zap.Float64("price", price))
	return created, nil
}

// mutate runs the read-validate-write cycle with bounded CAS retries. Each
// retry re-validates against the freshly read state, so the loser of a race
// observes the other party's outcome rather than silently reapplying.
func (s *DefaultNegotiationService) mutate(ctx context.Context, sessionID, action string, apply func(*models.NegotiationSession) error) (*models.NegotiationSession, error) {
	var lastVersion int64
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		cctx, cancel := s.storeCtx(ctx)
		current, err := s.Repo.Get(cctx, sessionID)
		cancel()
		if err != nil {
			return nil, s.storeErr(action, sessionID, err)
		}
		lastVersion = current.Version

		next := current.Clone()
		if err := apply(next); err != nil {
			return nil, err
		}

		cctx, cancel = s.storeCtx(ctx)
		written, err := s.Repo.ConditionalWrite(cctx, current.Version, next)
		cancel()
		if err == nil {
			if action == "propose" || action == "counter" {
				s.scheduleReminder(written)
			}
			s.Logger.Debug("negotiation transition applied",
				zap.String("sessionId", sessionID),
				zap.String("action", action),
				zap.Int64("version", written.Version),
				zap.String("status", string(written.Status)))
			return written, nil
		}
		if errors.Is(err, negotiationRepo.ErrVersionConflict) {
			continue
		}
		return nil, s.storeErr(action, sessionID, err)
	}

	return nil, &NegotiationError{Code: CodeConcurrentModification, Action: action, SessionID: sessionID, Version: lastVersion,
		Message: "session was modified concurrently; re-fetch and retry"}
}

func (s *DefaultNegotiationService) scheduleReminder(sess *models.NegotiationSession) {
	if s.Reminders == nil || !sess.Status.Open() {
		return
	}
	if err := s.Reminders.Schedule(sess.ID, sess.Version); err != nil {
		s.Logger.Warn("failed to schedule offer reminder",
			zap.String("sessionId", sess.ID), zap.Error(err))
	}
}

// storeErr classifies store failures. Not-found propagates as-is; everything
// else (timeouts included) surfaces as STORE_UNAVAILABLE without automatic
// retry, so the caller stays in control of price-sensitive operations.
func (s *DefaultNegotiationService) storeErr(action, sessionID string, err error) error {
	if errors.Is(err, negotiationRepo.ErrNotFound) {
		return err
	}
	s.Logger.Error("negotiation store failure",
		zap.String("sessionId", sessionID),
		zap.String("action", action),
		zap.Error(err))
	return &NegotiationError{Code: CodeStoreUnavailable, Action: action, SessionID: sessionID,
		Message: "record store did not complete the request", Err: err}
}

func appendMessage(sess *models.NegotiationSession, senderID, body string, price *float64) {
	sess.Messages = append(sess.Messages, models.NegotiationMessage{
		ID:            uuid.New().String(),
		SessionID:     sess.ID,
		SenderID:      senderID,
		Body:          body,
		ProposedPrice: price,
		CreatedAt:     time.Now(),
	})
}
