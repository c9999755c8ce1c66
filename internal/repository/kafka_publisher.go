package repository

import (
	"context"
	"fmt"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	pkgkafka "MarketPull/pkg/kafka"

	"github.com/shopspring/decimal"
)

// BarMessage is the wire form of a closed bar on the Kafka topic. Prices
// travel as strings; JSON numbers would round them through float64.
type BarMessage struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	OpenTime  int64  `json:"open_time"`  // unix millis
	CloseTime int64  `json:"close_time"` // unix millis
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
}

// NewBarMessage converts a bar to its wire form.
func NewBarMessage(b *models.Bar) BarMessage {
	return BarMessage{
		Symbol:    b.Symbol,
		Timeframe: b.Timeframe,
		OpenTime:  b.OpenTime.UnixMilli(),
		CloseTime: b.CloseTime.UnixMilli(),
		Open:      b.Open.String(),
		High:      b.High.String(),
		Low:       b.Low.String(),
		Close:     b.Close.String(),
		Volume:    b.Volume.String(),
	}
}

// ToBar converts the wire form back to a domain bar.
func (m BarMessage) ToBar() (*models.Bar, error) {
	b := &models.Bar{
		Symbol:    m.Symbol,
		Timeframe: m.Timeframe,
		OpenTime:  time.UnixMilli(m.OpenTime),
		CloseTime: time.UnixMilli(m.CloseTime),
		Closed:    true,
	}
	fields := []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"open", m.Open, &b.Open},
		{"high", m.High, &b.High},
		{"low", m.Low, &b.Low},
		{"close", m.Close, &b.Close},
		{"volume", m.Volume, &b.Volume},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, &domrepo.ParseError{Source: "bar_message", Err: fmt.Errorf("field %s: %w", f.name, err)}
		}
		*f.dst = d
	}
	if err := b.Validate(); err != nil {
		return nil, &domrepo.ParseError{Source: "bar_message", Err: err}
	}
	return b, nil
}

// KafkaBarPublisher implements BarPublisher on the shared Kafka producer.
// Messages are keyed by symbol so one symbol stays in partition order.
type KafkaBarPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaBarPublisher creates a Kafka-backed bar publisher.
func NewKafkaBarPublisher(producer *pkgkafka.Producer, topic string) *KafkaBarPublisher {
	return &KafkaBarPublisher{producer: producer, topic: topic}
}

func (p *KafkaBarPublisher) Publish(ctx context.Context, bar *models.Bar) error {
	return p.producer.Publish(ctx, p.topic, []byte(bar.Symbol), NewBarMessage(bar))
}

func (p *KafkaBarPublisher) PublishBatch(ctx context.Context, bars []*models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(bars))
	for i, b := range bars {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(b.Symbol),
			Value: NewBarMessage(b),
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaBarPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
