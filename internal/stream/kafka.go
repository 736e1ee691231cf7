package stream

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"crashd/internal/crash"
)

// Publisher mirrors settlement-relevant round events (crash reveals and
// cashouts) to a Kafka topic for downstream settlement and analytics
// consumers. It implements crash.EventSink; ticks are deliberately not
// forwarded.
type Publisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewPublisher(brokers, topic string, log *zap.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: writer, log: log}
}

func (p *Publisher) Publish(event crash.Event) {
	switch event.Type {
	case crash.EventRoundCrash, crash.EventPlayerCashout, crash.EventBetPlaced:
	default:
		return
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.log.Error("marshal stream event", zap.Error(err))
		return
	}

	// Fire and forget so a slow broker never stalls the tick driver.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		msg := kafka.Message{
			Key:   []byte(event.Type),
			Value: value,
			Time:  time.Now(),
		}
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			p.log.Warn("stream publish failed", zap.String("type", event.Type), zap.Error(err))
		}
	}()
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
