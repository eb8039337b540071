// Package events publishes order-fulfillment events to downstream
// collaborators (notification dispatch, inventory). Publishing is
// fire-and-forget: a failed publish is logged, never propagated into
// payment state.
package events

import (
	"context"
	"encoding/json"

	aws_pkg "payment-service/aws"
	"payment-service/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher is what the payment services depend on; tests swap in a counter.
type Publisher interface {
	PublishOrderPaid(ctx context.Context, event *models.OrderFulfillmentEvent) error
}

// FulfillmentProducer writes to Kafka and mirrors to SNS best-effort.
type FulfillmentProducer struct {
	writer      *kafka.Writer
	snsClient   aws_pkg.SNSPublisher
	snsTopicArn string
	logger      *zap.Logger
}

func NewFulfillmentProducer(brokers []string, topic string, snsClient aws_pkg.SNSPublisher, snsTopicArn string, logger *zap.Logger) *FulfillmentProducer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	logger.Info("Fulfillment producer initialized",
		zap.String("topic", topic),
		zap.Strings("brokers", brokers),
	)
	return &FulfillmentProducer{
		writer:      w,
		snsClient:   snsClient,
		snsTopicArn: snsTopicArn,
		logger:      logger,
	}
}

func (p *FulfillmentProducer) PublishOrderPaid(ctx context.Context, event *models.OrderFulfillmentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.InternalOrderID),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish fulfillment event to Kafka",
			zap.String("internal_order_id", event.InternalOrderID),
			zap.Error(err),
		)
		return err
	}

	// SNS mirror is best-effort for consumers not on Kafka
	if p.snsClient != nil && p.snsTopicArn != "" {
		if err := p.snsClient.Publish(ctx, p.snsTopicArn, data); err != nil {
			p.logger.Warn("SNS publish failed", zap.Error(err))
		}
	}

	p.logger.Info("Fulfillment event published",
		zap.String("internal_order_id", event.InternalOrderID),
		zap.String("payment_id", event.PaymentID),
	)
	return nil
}

func (p *FulfillmentProducer) Close() {
	_ = p.writer.Close()
	p.logger.Info("Fulfillment producer closed")
}
