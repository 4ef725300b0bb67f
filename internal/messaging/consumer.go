package messaging

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/auction/config"
)

const (
	receiveErrorBackoff = 2 * time.Second
	settleTimeout       = 10 * time.Second
)

// MessageProcessor handles one received message
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// Receiver is the subset of *azservicebus.Receiver the consumer uses
type Receiver interface {
	Settler
	ReceiveMessages(ctx context.Context, maxMessages int, options *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error)
}

// Consumer pulls batches from a receiver and processes messages concurrently,
// up to the configured limit
type Consumer struct {
	receiver       Receiver
	processor      MessageProcessor
	concurrency    int
	batchSize      int
	messageTimeout time.Duration
	logger         zerolog.Logger
}

// NewConsumer creates a new consumer
func NewConsumer(receiver Receiver, processor MessageProcessor, cfg config.ConsumerConfig, logger zerolog.Logger) *Consumer {
	c := &Consumer{
		receiver:       receiver,
		processor:      processor,
		concurrency:    cfg.Concurrency,
		batchSize:      cfg.BatchSize,
		messageTimeout: cfg.MessageTimeout,
		logger:         logger.With().Str("component", "consumer").Logger(),
	}
	if c.concurrency <= 0 {
		c.concurrency = 1
	}
	if c.batchSize <= 0 {
		c.batchSize = 10
	}
	return c
}

// Run consumes until ctx is cancelled, then waits for in-flight messages to
// be settled
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Int("concurrency", c.concurrency).Msg("Starting consumer")

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for ctx.Err() == nil {
		messages, err := c.receiver.ReceiveMessages(ctx, c.batchSize, nil)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Error().Err(err).Msg("Error receiving messages")
			select {
			case <-ctx.Done():
			case <-time.After(receiveErrorBackoff):
			}
			continue
		}

		for _, message := range messages {
			message := message
			// Go blocks while the limit is reached
			g.Go(func() error {
				c.handle(ctx, message)
				return nil
			})
		}
	}

	_ = g.Wait()
	c.logger.Info().Msg("Consumer stopped")
	return nil
}

func (c *Consumer) handle(ctx context.Context, message *azservicebus.ReceivedMessage) {
	processCtx := ctx
	if c.messageTimeout > 0 {
		var cancel context.CancelFunc
		processCtx, cancel = context.WithTimeout(ctx, c.messageTimeout)
		defer cancel()
	}

	processErr := c.processor.ProcessMessage(processCtx, message)

	// settle even when shutdown already cancelled ctx
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	disposition, err := Settle(settleCtx, c.receiver, message, processErr)

	logEvent := c.logger.Debug()
	if processErr != nil {
		logEvent = c.logger.Warn().Err(processErr)
	}
	logEvent.
		Str("message_id", message.MessageID).
		Uint32("delivery_count", message.DeliveryCount).
		Str("disposition", string(disposition)).
		Msg("Message settled")

	if err != nil {
		c.logger.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to settle message")
	}
}
