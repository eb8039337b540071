package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"payment-service/events"
	"payment-service/gateway"
	"payment-service/models"
	"payment-service/repository"
	"payment-service/signature"

	"go.uber.org/zap"
)

// Handle outcome classes. Anything durably recorded is acknowledged with
// 200 so the gateway stops redelivering; only a bad signature or a body we
// cannot durably key gets a 400, and only a storage failure gets a 500
// (which makes the gateway redeliver).
const (
	HandleAccepted  = "accepted"
	HandleDuplicate = "duplicate"
	HandleRejected  = "rejected"
	HandleRetryable = "retryable"
)

type HandleResult struct {
	Status     string `json:"status"`
	StatusCode int    `json:"-"`
	EventType  string `json:"event_type,omitempty"`
}

// WebhookProcessor applies asynchronous gateway notifications to the order
// ledger. It is the convergence path: even if the paying browser never
// returns to the app, the gateway's push still completes the order.
type WebhookProcessor interface {
	Handle(ctx context.Context, rawBody []byte, signatureHeader string) *HandleResult
}

type webhookProcessorImpl struct {
	ledger        repository.OrderLedger
	publisher     events.Publisher
	webhookSecret string
	logger        *zap.Logger
}

func NewWebhookProcessor(ledger repository.OrderLedger, publisher events.Publisher, webhookSecret string, logger *zap.Logger) WebhookProcessor {
	return &webhookProcessorImpl{
		ledger:        ledger,
		publisher:     publisher,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// webhookEnvelope is the gateway's push format. Only the fields this service
// reads are decoded; signature verification runs on the raw bytes, never on
// this struct.
type webhookEnvelope struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Entity  string `json:"entity"`
	Payload struct {
		Payment *struct {
			Entity gateway.GatewayPayment `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity gateway.GatewayOrder `json:"entity"`
		} `json:"order"`
		Refund *struct {
			Entity gateway.GatewayRefund `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// permanentError marks a business outcome that redelivery cannot fix; the
// event is recorded with the reason and acknowledged.
type permanentError struct{ reason string }

func (e *permanentError) Error() string { return e.reason }

func permanent(format string, args ...interface{}) error {
	return &permanentError{reason: fmt.Sprintf(format, args...)}
}

func (p *webhookProcessorImpl) Handle(ctx context.Context, rawBody []byte, signatureHeader string) *HandleResult {
	var env webhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil || env.ID == "" {
		p.logger.Warn("Webhook body unparseable or missing event id", zap.Error(err))
		return &HandleResult{Status: HandleRejected, StatusCode: 400}
	}

	// durability first: the event row exists before any verification work
	event := &models.WebhookEvent{
		GatewayEventID: env.ID,
		EventType:      env.Event,
		EntityType:     env.Entity,
		PayloadBytes:   rawBody,
	}
	inserted, existing, err := p.ledger.InsertWebhookEvent(ctx, event)
	if err != nil {
		p.logger.Error("Failed to persist webhook event", zap.String("event_id", env.ID), zap.Error(err))
		return &HandleResult{Status: HandleRetryable, StatusCode: 500, EventType: env.Event}
	}
	if !inserted && existing.Processed {
		return &HandleResult{Status: HandleDuplicate, StatusCode: 200, EventType: env.Event}
	}

	if !signature.VerifyWebhook(rawBody, signatureHeader, p.webhookSecret) {
		p.logger.Warn("Webhook signature verification failed",
			zap.String("event_id", env.ID),
			zap.String("event_type", env.Event),
		)
		reason := "bad signature"
		if err := p.ledger.MarkWebhookProcessed(ctx, env.ID, &reason); err != nil {
			p.logger.Error("Failed to mark webhook event", zap.String("event_id", env.ID), zap.Error(err))
		}
		return &HandleResult{Status: HandleRejected, StatusCode: 400, EventType: env.Event}
	}
	if err := p.ledger.MarkWebhookVerified(ctx, env.ID); err != nil {
		p.logger.Error("Failed to flag webhook verified", zap.String("event_id", env.ID), zap.Error(err))
	}

	applyErr := p.dispatch(ctx, &env)

	var permErr *permanentError
	switch {
	case applyErr == nil:
		if err := p.ledger.MarkWebhookProcessed(ctx, env.ID, nil); err != nil {
			p.logger.Error("Failed to mark webhook processed", zap.String("event_id", env.ID), zap.Error(err))
			return &HandleResult{Status: HandleRetryable, StatusCode: 500, EventType: env.Event}
		}
		return &HandleResult{Status: HandleAccepted, StatusCode: 200, EventType: env.Event}

	case errors.As(applyErr, &permErr):
		// redelivery cannot change the outcome; record why and acknowledge
		p.logger.Warn("Webhook permanently unprocessable",
			zap.String("event_id", env.ID),
			zap.String("event_type", env.Event),
			zap.String("reason", permErr.reason),
		)
		if err := p.ledger.MarkWebhookProcessed(ctx, env.ID, &permErr.reason); err != nil {
			p.logger.Error("Failed to mark webhook processed", zap.String("event_id", env.ID), zap.Error(err))
		}
		return &HandleResult{Status: HandleAccepted, StatusCode: 200, EventType: env.Event}

	default:
		// transient (storage) failure: keep processed=false so redelivery retries
		p.logger.Error("Webhook processing failed, will retry on redelivery",
			zap.String("event_id", env.ID), zap.Error(applyErr))
		if err := p.ledger.RecordWebhookFailure(ctx, env.ID, applyErr.Error()); err != nil {
			p.logger.Error("Failed to record webhook failure", zap.String("event_id", env.ID), zap.Error(err))
		}
		return &HandleResult{Status: HandleRetryable, StatusCode: 500, EventType: env.Event}
	}
}

func (p *webhookProcessorImpl) dispatch(ctx context.Context, env *webhookEnvelope) error {
	switch env.Event {
	case "payment.captured", "order.paid":
		return p.applyCaptured(ctx, env)
	case "payment.authorized":
		return p.applyAuthorized(ctx, env)
	case "payment.failed":
		return p.applyFailed(ctx, env)
	case "refund.created", "refund.processed":
		return p.applyRefund(ctx, env)
	default:
		// unknown event types are acknowledged and ignored so new gateway
		// additions never turn into endless redelivery
		p.logger.Info("Ignoring unhandled webhook event type",
			zap.String("event_type", env.Event), zap.String("event_id", env.ID))
		return nil
	}
}

// applyCaptured is the webhook-sourced twin of the client-callback success
// path: record the captured payment, win (or concede) the CAS to PAID, and
// fire fulfillment exactly once.
func (p *webhookProcessorImpl) applyCaptured(ctx context.Context, env *webhookEnvelope) error {
	if env.Payload.Payment == nil {
		return permanent("event %s has no payment entity", env.ID)
	}
	gwPayment := env.Payload.Payment.Entity

	order, err := p.ledger.FindByGatewayOrderID(ctx, gwPayment.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return permanent("unknown gateway order %s", gwPayment.OrderID)
		}
		return err
	}

	if gwPayment.Amount != order.TotalMinor || !strings.EqualFold(gwPayment.Currency, order.Currency) {
		return permanent("amount mismatch for order %s: gateway %d %s, ledger %d %s",
			order.InternalOrderID, gwPayment.Amount, gwPayment.Currency, order.TotalMinor, order.Currency)
	}
	if order.Status.IsTerminal() {
		return permanent("order %s already terminal (%s)", order.InternalOrderID, order.Status)
	}

	now := time.Now()
	raw, _ := json.Marshal(gwPayment)
	payment := &models.Payment{
		PaymentID:          gwPayment.ID,
		InternalOrderID:    order.InternalOrderID,
		GatewayOrderID:     gwPayment.OrderID,
		AmountMinorUnits:   gwPayment.Amount,
		Currency:           order.Currency,
		Status:             models.PaymentStatusCaptured,
		Method:             gwPayment.Method,
		SignatureVerified:  true, // authenticated by the webhook signature
		RawGatewayResponse: string(raw),
		CapturedAt:         &now,
	}
	if err := p.ledger.RecordPayment(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return permanent("order %s already has a different captured payment", order.InternalOrderID)
		}
		return err
	}

	updated, err := p.ledger.TransitionOrderStatus(ctx, order.InternalOrderID,
		[]models.OrderStatus{models.OrderStatusCreated, models.OrderStatusPending}, models.OrderStatusPaid)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			// client callback won the race; it fired fulfillment
			if updated != nil && updated.Status == models.OrderStatusPaid {
				return nil
			}
			return permanent("order %s in unexpected status %s", order.InternalOrderID, updated.Status)
		}
		return err
	}

	event := BuildFulfillmentEvent(updated, gwPayment.ID)
	if err := p.publisher.PublishOrderPaid(ctx, event); err != nil {
		p.logger.Error("Fulfillment publish failed",
			zap.String("internal_order_id", updated.InternalOrderID.String()), zap.Error(err))
	}
	return nil
}

func (p *webhookProcessorImpl) applyAuthorized(ctx context.Context, env *webhookEnvelope) error {
	if env.Payload.Payment == nil {
		return permanent("event %s has no payment entity", env.ID)
	}
	gwPayment := env.Payload.Payment.Entity

	order, err := p.ledger.FindByGatewayOrderID(ctx, gwPayment.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return permanent("unknown gateway order %s", gwPayment.OrderID)
		}
		return err
	}

	if settled, err := p.paymentSettled(ctx, gwPayment.ID); err != nil {
		return err
	} else if settled {
		return nil // capture webhook already landed; authorized arrived late
	}

	raw, _ := json.Marshal(gwPayment)
	payment := &models.Payment{
		PaymentID:          gwPayment.ID,
		InternalOrderID:    order.InternalOrderID,
		GatewayOrderID:     gwPayment.OrderID,
		AmountMinorUnits:   gwPayment.Amount,
		Currency:           order.Currency,
		Status:             models.PaymentStatusAuthorized,
		Method:             gwPayment.Method,
		SignatureVerified:  true,
		RawGatewayResponse: string(raw),
	}
	if err := p.ledger.RecordPayment(ctx, payment); err != nil {
		return err
	}

	_, err = p.ledger.TransitionOrderStatus(ctx, order.InternalOrderID,
		[]models.OrderStatus{models.OrderStatusCreated}, models.OrderStatusPending)
	if err != nil && !errors.Is(err, repository.ErrInvalidTransition) {
		return err
	}
	return nil
}

func (p *webhookProcessorImpl) applyFailed(ctx context.Context, env *webhookEnvelope) error {
	if env.Payload.Payment == nil {
		return permanent("event %s has no payment entity", env.ID)
	}
	gwPayment := env.Payload.Payment.Entity

	order, err := p.ledger.FindByGatewayOrderID(ctx, gwPayment.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return permanent("unknown gateway order %s", gwPayment.OrderID)
		}
		return err
	}

	if settled, err := p.paymentSettled(ctx, gwPayment.ID); err != nil {
		return err
	} else if settled {
		// a failed notification must not undo a capture that already landed
		return nil
	}

	raw, _ := json.Marshal(gwPayment)
	payment := &models.Payment{
		PaymentID:          gwPayment.ID,
		InternalOrderID:    order.InternalOrderID,
		GatewayOrderID:     gwPayment.OrderID,
		AmountMinorUnits:   gwPayment.Amount,
		Currency:           order.Currency,
		Status:             models.PaymentStatusFailed,
		Method:             gwPayment.Method,
		SignatureVerified:  true,
		RawGatewayResponse: string(raw),
	}
	if err := p.ledger.RecordPayment(ctx, payment); err != nil {
		return err
	}

	// an order that already reached a terminal state stays put
	_, err = p.ledger.TransitionOrderStatus(ctx, order.InternalOrderID,
		[]models.OrderStatus{models.OrderStatusCreated, models.OrderStatusPending}, models.OrderStatusFailed)
	if err != nil && !errors.Is(err, repository.ErrInvalidTransition) {
		return err
	}
	return nil
}

// paymentSettled reports whether the payment row already reached CAPTURED or
// REFUNDED, in which case late authorized/failed notifications are ignored.
func (p *webhookProcessorImpl) paymentSettled(ctx context.Context, paymentID string) (bool, error) {
	existing, err := p.ledger.FindPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return existing.Status == models.PaymentStatusCaptured || existing.Status == models.PaymentStatusRefunded, nil
}

func (p *webhookProcessorImpl) applyRefund(ctx context.Context, env *webhookEnvelope) error {
	if env.Payload.Refund == nil {
		return permanent("event %s has no refund entity", env.ID)
	}
	refund := env.Payload.Refund.Entity

	payment, err := p.ledger.FindPayment(ctx, refund.PaymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return permanent("unknown payment %s for refund %s", refund.PaymentID, refund.ID)
		}
		return err
	}

	payment.Status = models.PaymentStatusRefunded
	if err := p.ledger.RecordPayment(ctx, payment); err != nil {
		return err
	}

	updated, err := p.ledger.TransitionOrderStatus(ctx, payment.InternalOrderID,
		[]models.OrderStatus{models.OrderStatusPaid}, models.OrderStatusRefunded)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			if updated != nil && updated.Status == models.OrderStatusRefunded {
				return nil // refund webhook replayed, already converged
			}
			return permanent("refund for order %s in status %s", payment.InternalOrderID, updated.Status)
		}
		return err
	}

	p.logger.Info("Order refunded",
		zap.String("internal_order_id", updated.InternalOrderID.String()),
		zap.String("refund_id", refund.ID),
	)
	return nil
}
