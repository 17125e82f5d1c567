package repository

import (
	"context"

	domrepo "BollingerChart/internal/domain/repository"
	pkgkafka "BollingerChart/pkg/kafka"
)

// KafkaBandPublisher writes every recomputation to a Kafka topic keyed by symbol.
type KafkaBandPublisher struct {
	producer *pkgkafka.Producer
	key      []byte
}

func NewKafkaBandPublisher(producer *pkgkafka.Producer, symbol string) *KafkaBandPublisher {
	return &KafkaBandPublisher{producer: producer, key: []byte(symbol)}
}

func (p *KafkaBandPublisher) Publish(ctx context.Context, e *domrepo.BandsEvent) error {
	return p.producer.Publish(ctx, p.key, e)
}

func (p *KafkaBandPublisher) Close() error {
	return p.producer.Close()
}

// NopBandPublisher drops events. Used when Kafka is disabled.
type NopBandPublisher struct{}

func (NopBandPublisher) Publish(context.Context, *domrepo.BandsEvent) error { return nil }
func (NopBandPublisher) Close() error                                        { return nil }
