package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/MacJediWizard/keygate/internal/api/middleware"
	"github.com/MacJediWizard/keygate/internal/auth"
	"github.com/MacJediWizard/keygate/internal/billing"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// StripeSignatureHeader carries Stripe's webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// BillingEventParser authenticates and decodes an inbound billing webhook.
type BillingEventParser interface {
	ParseEvent(payload []byte, signatureHeader string) (*billing.Event, error)
}

// BillingEventProcessor applies a decoded billing event.
type BillingEventProcessor interface {
	Process(ctx context.Context, ev *billing.Event) (billing.Outcome, error)
}

// BillingHandler receives payment processor webhooks.
type BillingHandler struct {
	parser    BillingEventParser
	processor BillingEventProcessor
	observer  middleware.RejectionObserver
	logger    zerolog.Logger
}

// NewBillingHandler creates a new BillingHandler. observer may be nil.
func NewBillingHandler(parser BillingEventParser, processor BillingEventProcessor, observer middleware.RejectionObserver, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{
		parser:    parser,
		processor: processor,
		observer:  observer,
		logger:    logger.With().Str("component", "billing_handler").Logger(),
	}
}

// RegisterRoutes registers the billing webhook route on the given router group.
func (h *BillingHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.Stripe)
}

// Stripe acknowledges a Stripe event. Everything that passes signature
// verification is acknowledged with 200, including events whose effects
// failed to apply, except when the event could not be claimed at all; that
// answers 500 so Stripe redelivers it.
// POST /webhooks/stripe
func (h *BillingHandler) Stripe(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
		return
	}

	ev, err := h.parser.ParseEvent(payload, c.GetHeader(StripeSignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingCredential):
			h.reject("missing_signature")
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing signature"})
		case errors.Is(err, auth.ErrInvalidSignature):
			h.reject("invalid_signature")
			h.logger.Warn().Err(err).Str("client_ip", c.ClientIP()).Msg("stripe signature verification failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		default:
			h.logger.Warn().Err(err).Msg("acknowledging undecodable stripe event")
			c.JSON(http.StatusOK, gin.H{"received": true, "outcome": string(billing.OutcomeIgnored)})
		}
		return
	}

	outcome, err := h.processor.Process(c.Request.Context(), ev)
	if err != nil {
		switch {
		case outcome == billing.OutcomeError:
			// Claimed; redelivery would be a no-op.
		case errors.Is(err, billing.ErrMalformed):
			outcome = billing.OutcomeIgnored
		default:
			h.logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to claim billing event")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "event could not be recorded"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": string(outcome)})
}

func (h *BillingHandler) reject(reason string) {
	if h.observer != nil {
		h.observer.RecordSignatureRejection("stripe", reason)
	}
}
