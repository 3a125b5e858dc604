// Package kafka provides a broker-backed row source. Records arrive as JSON
// objects, one per message; the stream ends when the topic goes idle for the
// configured duration, mirroring the end-of-partition signal of bounded runs.
package kafka

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	gojson "github.com/goccy/go-json"

	"github.com/quartzdata/foresight/pkg/config"
	"github.com/quartzdata/foresight/pkg/connector/core"
	"github.com/quartzdata/foresight/pkg/connector/registry"
	"github.com/quartzdata/foresight/pkg/fserrors"
	"github.com/quartzdata/foresight/pkg/pool"
)

func init() {
	_ = registry.RegisterSource("kafka", NewSource)
}

// Source consumes JSON row messages from a Kafka topic. Recognized options:
// "brokers" (comma-separated, required), "topic" (required), "group"
// (default "foresight"), "idle_timeout" (default "30s"), "max_records"
// (0 = unbounded).
type Source struct {
	brokers    []string
	topic      string
	group      string
	idle       time.Duration
	maxRecords int64
	buffer     int

	consumer sarama.ConsumerGroup
}

// NewSource creates a Kafka source from configuration.
func NewSource(cfg *config.BaseConfig) (core.Source, error) {
	brokers := cfg.Source.Option("brokers", "")
	topic := cfg.Source.Option("topic", "")
	if brokers == "" || topic == "" {
		return nil, fserrors.New(fserrors.ErrorTypeConfig, "kafka source requires brokers and topic options")
	}

	idle, err := time.ParseDuration(cfg.Source.Option("idle_timeout", "30s"))
	if err != nil {
		return nil, fserrors.Wrap(err, fserrors.ErrorTypeConfig, "invalid idle_timeout")
	}

	return &Source{
		brokers:    strings.Split(brokers, ","),
		topic:      topic,
		group:      cfg.Source.Option("group", "foresight"),
		idle:       idle,
		maxRecords: int64(cfg.Source.OptionInt("max_records", 0)),
		buffer:     cfg.Performance.ChannelBuffer,
	}, nil
}

// Open creates the consumer group.
func (s *Source) Open(_ context.Context, _ *config.BaseConfig) error {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumerGroup(s.brokers, s.group, saramaCfg)
	if err != nil {
		return fserrors.Wrap(err, fserrors.ErrorTypeConnection, "failed to create kafka consumer group").
			WithDetail("brokers", s.brokers)
	}
	s.consumer = consumer
	return nil
}

// Read streams decoded messages until the topic idles out, max_records is
// reached, or ctx is canceled.
func (s *Source) Read(ctx context.Context) (*core.RecordStream, error) {
	if s.consumer == nil {
		return nil, fserrors.New(fserrors.ErrorTypeValidation, "kafka source read before open")
	}

	records := make(chan *pool.Record, s.buffer)
	errs := make(chan error, 1)

	consumeCtx, cancel := context.WithCancel(ctx)
	handler := &claimHandler{
		records:    records,
		cancel:     cancel,
		idle:       s.idle,
		maxRecords: s.maxRecords,
	}

	go func() {
		defer close(records)
		defer close(errs)
		defer cancel()

		for {
			if err := s.consumer.Consume(consumeCtx, []string{s.topic}, handler); err != nil {
				if consumeCtx.Err() == nil {
					errs <- fserrors.Wrap(err, fserrors.ErrorTypeConnection, "kafka consume failed")
				}
				return
			}
			// rebalance: loop unless we are done
			if consumeCtx.Err() != nil {
				return
			}
		}
	}()

	return &core.RecordStream{Records: records, Errors: errs}, nil
}

// Close shuts down the consumer group.
func (s *Source) Close(_ context.Context) error {
	if s.consumer != nil {
		return s.consumer.Close()
	}
	return nil
}

// claimHandler decodes claim messages into records and stops the consumer on
// idle timeout or record limit.
type claimHandler struct {
	records    chan<- *pool.Record
	cancel     context.CancelFunc
	idle       time.Duration
	maxRecords int64
	consumed   int64
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim forwards decoded messages, renewing an idle timer per message.
func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	idleTimer := time.NewTimer(h.idle)
	defer idleTimer.Stop()

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !idleTimer.Stop() {
				<-idleTimer.C
			}
			idleTimer.Reset(h.idle)

			data := make(map[string]interface{})
			if err := gojson.Unmarshal(msg.Value, &data); err != nil {
				return fserrors.Wrap(err, fserrors.ErrorTypeData, "failed to decode kafka message").
					WithDetail("offset", msg.Offset)
			}

			rec := pool.GetRecord()
			rec.ID = pool.GenerateID("kafka")
			rec.Metadata.Source = "kafka"
			rec.SetTimestamp(msg.Timestamp)
			for k, v := range data {
				rec.SetData(k, v)
			}

			select {
			case h.records <- rec:
				session.MarkMessage(msg, "")
			case <-session.Context().Done():
				rec.Release()
				return nil
			}

			if h.maxRecords > 0 && atomic.AddInt64(&h.consumed, 1) >= h.maxRecords {
				h.cancel()
				return nil
			}
		case <-idleTimer.C:
			h.cancel()
			return nil
		case <-session.Context().Done():
			return nil
		}
	}
}
