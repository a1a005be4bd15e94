// Package consumer wraps franz-go group consumption behind a small Handler
// interface so domain packages never touch client internals.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is the transport-agnostic view of one Kafka record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Handler processes one message. Returning an error leaves the record, and
// everything after it on the same partition, uncommitted so the group
// redelivers from the failed offset (at-least-once).
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// Config for a group consumer.
type Config struct {
	Brokers []string
	Topic   string
	Group   string
}

// Consumer runs a Kafka consumer group loop and hands records to a Handler.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger
}

// New connects a group consumer and ensures the topic exists.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopic(context.Background(), client, cfg.Topic); err != nil {
		client.Close()
		return nil, err
	}

	return &Consumer{client: client, handler: handler, logger: logger}, nil
}

// Run polls until ctx is cancelled. Records are committed only after the
// handler returns nil; handler failures are logged and redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var committable []*kgo.Record
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			committable = append(committable, c.processPartition(ctx, p.Topic, p.Partition, p.Records)...)
		})

		if len(committable) > 0 {
			if err := c.client.CommitRecords(ctx, committable...); err != nil {
				c.logger.Error("kafka commit failed", "error", err)
			}
		}
	}
}

// processPartition hands one partition's records to the handler in order and
// returns the prefix that may be committed. Processing stops at the first
// failure: committing any later offset would advance the group past the
// failed record and lose it.
func (c *Consumer) processPartition(ctx context.Context, topic string, partition int32, recs []*kgo.Record) []*kgo.Record {
	done := make([]*kgo.Record, 0, len(recs))
	for _, rec := range recs {
		msg := &Message{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       rec.Key,
			Value:     rec.Value,
			Timestamp: rec.Timestamp,
		}
		if err := c.handler.Handle(ctx, msg); err != nil {
			c.logger.Error("message handling failed, will redeliver",
				"topic", topic,
				"partition", partition,
				"offset", rec.Offset,
				"error", err,
			)
			return done
		}
		done = append(done, rec)
	}
	return done
}

// Close tears down the underlying client.
func (c *Consumer) Close() {
	c.client.Close()
}

// ensureTopic creates the topic when missing so a fresh environment does not
// depend on broker auto-creation settings.
func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	details, err := adm.ListTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	if details.Has(topic) {
		return nil
	}
	if _, err := adm.CreateTopic(ctx, 3, 1, nil, topic); err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	return nil
}
