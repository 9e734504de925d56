// Package publisher 领域事件的 Kafka 发布实现
package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BerkZerker/Market-Sim/internal/exchange/domain"
	"github.com/BerkZerker/Market-Sim/pkg/mq"
)

// envelope 事件信封，type 字段区分事件种类
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// KafkaEventPublisher 把领域事件投递到 Kafka。
// 消息 key 取 ticker，保证同一 ticker 的事件落在同一分区保序。
type KafkaEventPublisher struct {
	producer *mq.KafkaProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaEventPublisher 创建发布器
func NewKafkaEventPublisher(producer *mq.KafkaProducer, topic string, logger *slog.Logger) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger.With("module", "publisher"),
	}
}

func (p *KafkaEventPublisher) publish(ctx context.Context, eventType, key string, payload any) error {
	if err := p.producer.SendMessage(ctx, p.topic, key, envelope{Type: eventType, Payload: payload}); err != nil {
		return fmt.Errorf("send %s: %w", eventType, err)
	}
	return nil
}

// PublishTradeExecuted 发布成交事件
func (p *KafkaEventPublisher) PublishTradeExecuted(ctx context.Context, event *domain.TradeExecutedEvent) error {
	return p.publish(ctx, domain.TradeExecutedEventType, event.Ticker, event)
}

// PublishPriceUpdated 发布最新价事件
func (p *KafkaEventPublisher) PublishPriceUpdated(ctx context.Context, event *domain.PriceUpdatedEvent) error {
	return p.publish(ctx, domain.PriceUpdatedEventType, event.Ticker, event)
}

// PublishOrderCancelled 发布撤单事件
func (p *KafkaEventPublisher) PublishOrderCancelled(ctx context.Context, event *domain.OrderCancelledEvent) error {
	return p.publish(ctx, domain.OrderCancelledEventType, event.Ticker, event)
}
