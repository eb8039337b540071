package repository

import (
	"context"
	"errors"
	"time"

	"payment-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormOrderLedger struct {
	db *gorm.DB
}

func NewGormOrderLedger(db *gorm.DB) OrderLedger {
	return &gormOrderLedger{db: db}
}

func (r *gormOrderLedger) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.InternalOrderID == uuid.Nil {
		order.InternalOrderID = uuid.New()
	}
	if order.Status == "" {
		order.Status = models.OrderStatusCreated
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *gormOrderLedger) AttachGatewayOrderID(ctx context.Context, internalOrderID uuid.UUID, gatewayOrderID string) error {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "internal_order_id = ?", internalOrderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if order.GatewayOrderID != nil {
		if *order.GatewayOrderID == gatewayOrderID {
			return nil // idempotent re-attach
		}
		return ErrConflict
	}

	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("internal_order_id = ? AND gateway_order_id IS NULL", internalOrderID).
		Update("gateway_order_id", gatewayOrderID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// lost a race with another attach; re-read to decide
		if err := r.db.WithContext(ctx).First(&order, "internal_order_id = ?", internalOrderID).Error; err != nil {
			return err
		}
		if order.GatewayOrderID != nil && *order.GatewayOrderID == gatewayOrderID {
			return nil
		}
		return ErrConflict
	}
	return nil
}

func (r *gormOrderLedger) FindByInternalID(ctx context.Context, internalOrderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Preload("Items").First(&order, "internal_order_id = ?", internalOrderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormOrderLedger) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Preload("Items").First(&order, "gateway_order_id = ?", gatewayOrderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormOrderLedger) RecordPayment(ctx context.Context, payment *models.Payment) error {
	if payment.Status == models.PaymentStatusCaptured {
		existing, err := r.FindCapturedPayment(ctx, payment.InternalOrderID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing != nil && existing.PaymentID != payment.PaymentID {
			return ErrConflict
		}
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "payment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "method", "signature", "signature_verified",
			"raw_gateway_response", "captured_at", "updated_at",
		}),
	}).Create(payment).Error
}

func (r *gormOrderLedger) FindPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).First(&payment, "payment_id = ?", paymentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *gormOrderLedger) FindPaymentsByOrder(ctx context.Context, internalOrderID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("internal_order_id = ?", internalOrderID).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, err
}

func (r *gormOrderLedger) FindCapturedPayment(ctx context.Context, internalOrderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		First(&payment, "internal_order_id = ? AND status = ?", internalOrderID, models.PaymentStatusCaptured).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *gormOrderLedger) TransitionOrderStatus(ctx context.Context, internalOrderID uuid.UUID, from []models.OrderStatus, to models.OrderStatus) (*models.Order, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	switch to {
	case models.OrderStatusPaid:
		updates["paid_at"] = &now
		updates["signature_verified"] = true
	case models.OrderStatusRefunded:
		updates["refunded_at"] = &now
	}

	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("internal_order_id = ? AND status IN ?", internalOrderID, from).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		order, err := r.FindByInternalID(ctx, internalOrderID)
		if err != nil {
			return nil, err
		}
		return order, ErrInvalidTransition
	}
	return r.FindByInternalID(ctx, internalOrderID)
}

func (r *gormOrderLedger) InsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gateway_event_id"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected > 0 {
		return true, event, nil
	}

	var existing models.WebhookEvent
	if err := r.db.WithContext(ctx).First(&existing, "gateway_event_id = ?", event.GatewayEventID).Error; err != nil {
		return false, nil, err
	}
	return false, &existing, nil
}

func (r *gormOrderLedger) MarkWebhookVerified(ctx context.Context, gatewayEventID string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("gateway_event_id = ?", gatewayEventID).
		Update("signature_verified", true).Error
}

func (r *gormOrderLedger) MarkWebhookProcessed(ctx context.Context, gatewayEventID string, processingError *string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("gateway_event_id = ?", gatewayEventID).
		Updates(map[string]interface{}{
			"processed":        true,
			"processed_at":     &now,
			"processing_error": processingError,
		}).Error
}

func (r *gormOrderLedger) RecordWebhookFailure(ctx context.Context, gatewayEventID string, processingError string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("gateway_event_id = ?", gatewayEventID).
		Update("processing_error", processingError).Error
}
