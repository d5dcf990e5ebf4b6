package handlers

import (
	"errors"
	"net/http"

	negotiationRepo "haggle/database/repository/negotiation"
	"haggle/middleware"
	"haggle/services/negotiation"
	"haggle/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NegotiationHandler exposes the bargaining operations over HTTP.
type NegotiationHandler struct {
	Svc      negotiation.NegotiationService
	Payments *negotiation.PaymentHandler
	Repo     negotiationRepo.Repository
	Logger   *zap.Logger
}

// NewNegotiationHandler builds the handler set for negotiation endpoints.
func NewNegotiationHandler(svc negotiation.NegotiationService, payments *negotiation.PaymentHandler, repo negotiationRepo.Repository, logger *zap.Logger) *NegotiationHandler {
	return &NegotiationHandler{Svc: svc, Payments: payments, Repo: repo, Logger: logger}
}

type proposeRequest struct {
	SessionID  string  `json:"sessionId"`
	ServiceID  string  `json:"serviceId"`
	ProviderID string  `json:"providerId"`
	ClientID   string  `json:"clientId"`
	ListPrice  float64 `json:"listPrice"`
	Price      float64 `json:"price"`
	Message    string  `json:"message"`
}

// Price and body validation stays with the engine so its typed codes reach
// the client; binding only rejects malformed JSON.
type counterRequest struct {
	Price   float64 `json:"price"`
	Message string  `json:"message"`
}

type rejectRequest struct {
	Message string `json:"message"`
}

type messageRequest struct {
	Body string `json:"body"`
}

// Propose handles POST /api/negotiations/propose.
func (h *NegotiationHandler) Propose(c *gin.Context) {
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	actor := middleware.ParticipantID(c)
	ref := negotiation.ProposalRef{
		SessionID:  req.SessionID,
		ServiceID:  req.ServiceID,
		ProviderID: req.ProviderID,
		ClientID:   req.ClientID,
		ListPrice:  req.ListPrice,
	}
	sess, err := h.Svc.Propose(c.Request.Context(), actor, ref, req.Price, req.Message)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// Counter handles POST /api/negotiations/:id/counter.
func (h *NegotiationHandler) Counter(c *gin.Context) {
	var req counterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	sess, err := h.Svc.Counter(c.Request.Context(), middleware.ParticipantID(c), c.Param("id"), req.Price, req.Message)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// Accept handles POST /api/negotiations/:id/accept.
func (h *NegotiationHandler) Accept(c *gin.Context) {
	sess, err := h.Svc.Accept(c.Request.Context(), middleware.ParticipantID(c), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// Reject handles POST /api/negotiations/:id/reject.
func (h *NegotiationHandler) Reject(c *gin.Context) {
	var req rejectRequest
	_ = c.ShouldBindJSON(&req)

	sess, err := h.Svc.Reject(c.Request.Context(), middleware.ParticipantID(c), c.Param("id"), req.Message)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// SendMessage handles POST /api/negotiations/:id/message.
func (h *NegotiationHandler) SendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	sess, err := h.Svc.SendMessage(c.Request.Context(), middleware.ParticipantID(c), c.Param("id"), req.Body)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// Get handles GET /api/negotiations/:id.
func (h *NegotiationHandler) Get(c *gin.Context) {
	sess, err := h.Svc.Get(c.Request.Context(), middleware.ParticipantID(c), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// List handles GET /api/negotiations.
func (h *NegotiationHandler) List(c *gin.Context) {
	sessions, err := h.Svc.ListForParticipant(c.Request.Context(), middleware.ParticipantID(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// Quote handles GET /api/negotiations/:id/quote.
func (h *NegotiationHandler) Quote(c *gin.Context) {
	quote, err := h.Svc.Quote(c.Request.Context(), middleware.ParticipantID(c), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quote": quote})
}

// Pay handles POST /api/negotiations/:id/pay.
func (h *NegotiationHandler) Pay(c *gin.Context) {
	invoice, err := h.Payments.Settle(c.Request.Context(), middleware.ParticipantID(c), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": invoice})
}

// renderError maps engine failures onto HTTP statuses.
func (h *NegotiationHandler) renderError(c *gin.Context, err error) {
	if errors.Is(err, negotiationRepo.ErrNotFound) {
		utils.JSONError(c, http.StatusNotFound, "negotiation session not found", "")
		return
	}

	code := negotiation.ErrorCode(err)
	switch code {
	case negotiation.CodeInvalidPrice, negotiation.CodeInvalidMessage:
		utils.JSONErrorCode(c, http.StatusBadRequest, code, err.Error())
	case negotiation.CodeForbidden:
		utils.JSONErrorCode(c, http.StatusForbidden, code, err.Error())
	case negotiation.CodeOutOfTurn,
		negotiation.CodeNothingToAccept,
		negotiation.CodeNotAgreed,
		negotiation.CodeAlreadyResolved,
		negotiation.CodeSessionClosed,
		negotiation.CodeConcurrentModification:
		utils.JSONErrorCode(c, http.StatusConflict, code, err.Error())
	case negotiation.CodeStoreUnavailable:
		utils.JSONErrorCode(c, http.StatusServiceUnavailable, code, err.Error())
	default:
		getLogger(c).Error("negotiation request failed", zap.Error(err))
		utils.JSONError(c, http.StatusInternalServerError, "negotiation request failed", err.Error())
	}
}
