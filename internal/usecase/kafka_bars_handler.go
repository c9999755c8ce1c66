package usecase

import (
	"context"
	"encoding/json"
	"time"

	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/repository"
	pkgkafka "MarketPull/pkg/kafka"
)

// KafkaBarsHandler consumes bar messages from Kafka and upserts them into
// the bar store. Re-delivered messages land on the same key and are
// harmless.
type KafkaBarsHandler struct {
	topic   string
	store   domrepo.BarStore
	metrics domrepo.Metrics
}

func NewKafkaBarsHandler(topic string, store domrepo.BarStore, metrics domrepo.Metrics) *KafkaBarsHandler {
	return &KafkaBarsHandler{topic: topic, store: store, metrics: metrics}
}

func (h *KafkaBarsHandler) Topic() string { return h.topic }

func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	var m repository.BarMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	bar, err := m.ToBar()
	if err != nil {
		h.metrics.RecordError("consumer_decode")
		return err
	}

	// E2E latency from bar close to store write (approx)
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(bar.CloseTime).Seconds())

	start := time.Now()
	if err := h.store.Upsert(ctx, bar); err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordLatency("store_upsert_seconds", time.Since(start).Seconds())
	h.metrics.RecordMessageSent("clickhouse", bar.Symbol)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaBarsHandler)(nil)
