// Package kafka consumes Keycloak admin events published to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/config"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/types"
	"github.com/embesozzi/keycloak-openfga-event-publisher/pkg/log"
)

const (
	retryBackoff    = 2 * time.Second
	maxRetryBackoff = time.Minute
)

// AdminEventHandler translates one admin event
type AdminEventHandler interface {
	OnAdminEvent(ctx context.Context, ev *types.AdminEvent) (types.Outcome, error)
}

// Consumer is a sarama consumer group handler feeding admin events to the handler.
// A message is marked once it was translated, skipped or dropped; a fatal error
// ends the session so the message is delivered again.
type Consumer struct {
	handler AdminEventHandler

	// set by ConsumeClaim when a session ends on a handler error; sarama only
	// reports that error on Errors() and Consume itself returns nil
	handlerFailed atomic.Bool

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewConsumer creates a consumer group handler
func NewConsumer(handler AdminEventHandler) *Consumer {
	return &Consumer{
		handler:    handler,
		minBackoff: retryBackoff,
		maxBackoff: maxRetryBackoff,
	}
}

// NewConsumerGroup connects a consumer group as described by cfg
func NewConsumerGroup(cfg config.KafkaConfig) (sarama.ConsumerGroup, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true
	if cfg.InitialOffset == "oldest" {
		saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}

	if cfg.Version != "" {
		version, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid kafka version %q: %w", cfg.Version, err)
		}
		saramaCfg.Version = version
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating consumer group client: %w", err)
	}

	return group, nil
}

// Run consumes topic until ctx is cancelled or the group is closed. A session
// that failed, in Consume or in a handler, delays the next one with a capped
// exponential backoff so an unmarked message is not redelivered in a tight loop.
func (c *Consumer) Run(ctx context.Context, wg *sync.WaitGroup, group sarama.ConsumerGroup, topic string) {
	defer wg.Done()

	slog.InfoContext(ctx, "kafka consumer group started", "topic", topic)

	backoff := c.minBackoff
	for {
		// Consume returns at every rebalance and must be called again
		err := group.Consume(ctx, []string{topic}, c)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			slog.InfoContext(ctx, "consumer group closed")
			return
		}
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "context cancelled, stopping consumer group")
			return
		}

		failed := c.handlerFailed.Swap(false)
		if err != nil {
			slog.ErrorContext(ctx, "error from consumer", "error", err)
		}
		if err == nil && !failed {
			backoff = c.minBackoff
			continue
		}

		slog.WarnContext(ctx, "consumer session failed, backing off", "backoff", backoff.String())
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "context cancelled, stopping consumer group")
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

// Setup is run at the beginning of a new session, before ConsumeClaim
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim handles the messages of one partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				slog.Info("message channel was closed")
				return nil
			}

			if err := c.handleMessage(session.Context(), message); err != nil {
				c.handlerFailed.Store(true)
				return err
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage returns an error only when the message must be delivered again
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	ctx = log.AppendCtx(ctx, slog.Group("kafka",
		slog.String("topic", message.Topic),
		slog.Int("partition", int(message.Partition)),
		slog.Int64("offset", message.Offset),
	))

	var ev types.AdminEvent
	if err := json.Unmarshal(message.Value, &ev); err != nil {
		// an undecodable message never gets better; mark it so it is not read again
		slog.ErrorContext(ctx, "failed to unmarshal kafka message", "error", err)
		return nil
	}

	outcome, err := c.handler.OnAdminEvent(ctx, &ev)
	if err != nil {
		return fmt.Errorf("admin event %s at offset %d: %w", ev.ID, message.Offset, err)
	}

	slog.DebugContext(ctx, "kafka message handled", "status", outcome.Status.String())
	return nil
}
