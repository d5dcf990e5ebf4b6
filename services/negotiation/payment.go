package negotiation

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	invoiceRepo "haggle/database/repository/invoice"
	"haggle/models"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"go.uber.org/zap"
)

// PaymentGateway is the external payment service. On success it returns a
// payment reference consumed by Complete.
type PaymentGateway interface {
	Charge(ctx context.Context, req models.PaymentRequest) (string, error)
}

// PaymentHandler settles an agreed negotiation: it computes the tax-adjusted
// payable amount, charges the gateway and completes the session. A gateway
// failure leaves the session agreed so payment can be retried without
// re-negotiating.
type PaymentHandler struct {
	Engine   NegotiationService
	Money    *MoneyPolicy
	Gateway  PaymentGateway
	Invoices invoiceRepo.InvoiceRepository
	Logger   *zap.Logger
}

// NewPaymentHandler wires the payment handoff.
func NewPaymentHandler(engine NegotiationService, money *MoneyPolicy, gateway PaymentGateway, invoices invoiceRepo.InvoiceRepository, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		Engine:   engine,
		Money:    money,
		Gateway:  gateway,
		Invoices: invoices,
		Logger:   logger,
	}
}

// Settle charges the agreed price for sessionID on behalf of the paying
// client and completes the session on gateway success.
func (h *PaymentHandler) Settle(ctx context.Context, actor, sessionID string) (*models.Invoice, error) {
	sess, err := h.Engine.Get(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if actor != sess.ClientID {
		return nil, &NegotiationError{Code: CodeForbidden, Action: "pay", SessionID: sessionID, Version: sess.Version,
			Message: "only the client party settles the agreed price"}
	}
	if sess.Status.Terminal() {
		return nil, &NegotiationError{Code: CodeAlreadyResolved, Action: "pay", SessionID: sessionID, Version: sess.Version,
			Message: "session is already resolved"}
	}
	if sess.Status != models.StatusAgreed || sess.FinalPrice == nil {
		return nil, &NegotiationError{Code: CodeNotAgreed, Action: "pay", SessionID: sessionID, Version: sess.Version,
			Message: "session has no agreed price yet"}
	}

	// Payment always targets the tax-adjusted figure, never the raw gross
	// total.
	breakdown, err := h.Money.NetPayable(ctx, *sess.FinalPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to compute payable amount: %w", err)
	}

	req := models.PaymentRequest{
		SessionID:   sessionID,
		PayerID:     actor,
		Amount:      breakdown.NetAmount,
		Currency:    h.Money.Currency,
		Description: fmt.Sprintf("Negotiated service %s", sess.ServiceID),
		// Keyed on the agreed version: concurrent submits of the same
		// agreement collapse into one charge at the gateway.
		IdempotencyKey: fmt.Sprintf("settle-%s-%d", sessionID, sess.Version),
		Metadata: map[string]string{
			"sessionId": sessionID,
			"serviceId": sess.ServiceID,
		},
	}
	paymentRef, err := h.Gateway.Charge(ctx, req)
	if err != nil {
		h.Logger.Error("payment gateway charge failed",
			zap.String("sessionId", sessionID),
			zap.Float64("amount", breakdown.NetAmount),
			zap.Error(err))
		return nil, fmt.Errorf("payment gateway failed: %w", err)
	}

	completed, err := h.Engine.Complete(ctx, sessionID, paymentRef)
	if err != nil {
		// The charge went through but completion lost a race; surface the
		// reference so the caller can reconcile.
		h.Logger.Error("charge succeeded but completion failed",
			zap.String("sessionId", sessionID),
			zap.String("paymentRef", paymentRef),
			zap.Error(err))
		return nil, err
	}

	invoice := models.Invoice{
		InvoiceID:  uuid.New().String(),
		SessionID:  sessionID,
		PayerID:    actor,
		Amount:     breakdown.NetAmount,
		Currency:   h.Money.Currency,
		Status:     "paid",
		PaymentRef: paymentRef,
	}
	if _, err := h.Invoices.Create(ctx, invoice); err != nil {
		h.Logger.Error("failed to record invoice", zap.String("sessionId", sessionID), zap.Error(err))
	}

	h.Logger.Info("negotiation settled",
		zap.String("sessionId", sessionID),
		zap.Float64("netPayable", breakdown.NetAmount),
		zap.String("status", string(completed.Status)))
	return &invoice, nil
}

// StripeGateway charges through Stripe PaymentIntents.
type StripeGateway struct {
	Logger *zap.Logger
}

func (g *StripeGateway) Charge(ctx context.Context, req models.PaymentRequest) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(int64(math.Round(req.Amount * 100))),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe payment intent failed: %w", err)
	}
	g.Logger.Info("stripe payment intent created",
		zap.String("sessionId", req.SessionID),
		zap.String("intent", intent.ID))
	return intent.ID, nil
}

// RecordingGateway simulates a card charge for development and tests. Like a
// real gateway it honors the request's idempotency key: a repeat charge with
// the same key returns the original reference instead of a new one.
type RecordingGateway struct {
	Logger *zap.Logger

	mu   sync.Mutex
	refs map[string]string
}

func (g *RecordingGateway) Charge(ctx context.Context, req models.PaymentRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	time.Sleep(50 * time.Millisecond)

	g.mu.Lock()
	defer g.mu.Unlock()
	if req.IdempotencyKey != "" {
		if ref, ok := g.refs[req.IdempotencyKey]; ok {
			return ref, nil
		}
	}
	ref := "pi_" + uuid.New().String()
	if req.IdempotencyKey != "" {
		if g.refs == nil {
			g.refs = make(map[string]string)
		}
		g.refs[req.IdempotencyKey] = ref
	}
	g.Logger.Info("recorded simulated payment",
		zap.String("sessionId", req.SessionID),
		zap.Float64("amount", req.Amount),
		zap.String("paymentRef", ref))
	return ref, nil
}
