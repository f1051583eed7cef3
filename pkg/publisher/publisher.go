// Package publisher fans executed trades out to an event bus.
package publisher

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitbook/pkg/app/core/engine"
)

// TradePublisher publishes executed trades.
type TradePublisher interface {
	Publish(ctx context.Context, trades []engine.Trade) error
	Close() error
}

// NopPublisher drops everything. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []engine.Trade) error { return nil }
func (NopPublisher) Close() error                                   { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per trade, keyed by symbol so a pair's
// trades stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	log    *zap.SugaredLogger
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.SugaredLogger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaPublisher(w, log)
}

func newKafkaPublisher(w messageWriter, log *zap.SugaredLogger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &KafkaPublisher{writer: w, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, trades []engine.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(trades))
	for _, t := range trades {
		value, err := json.Marshal(t)
		if err != nil {
			return errors.Wrapf(err, "marshal trade %s", t.ID)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(t.Symbol),
			Value: value,
			Headers: []kafka.Header{
				{Key: "trade_seq", Value: []byte(strconv.FormatUint(t.Seq, 10))},
			},
			Time: time.UnixMilli(t.Timestamp),
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.log.Errorw("trade_publish_failed", "trades", len(trades), "err", err)
		return errors.Wrap(err, "publish trades")
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

var (
	_ TradePublisher = NopPublisher{}
	_ TradePublisher = (*KafkaPublisher)(nil)
)
