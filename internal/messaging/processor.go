package messaging

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"example.com/backstage/services/auction/internal/contracts"
	"example.com/backstage/services/auction/internal/metrics"
	"example.com/backstage/services/auction/internal/tracing"
)

// Applier applies a decoded auction event to the read store
type Applier interface {
	Apply(ctx context.Context, event contracts.Event) error
}

// Processor decodes auction event messages and hands them to the projection
type Processor struct {
	applier Applier
	tracer  *tracing.Tracer
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewProcessor creates a new processor
func NewProcessor(applier Applier, tracer *tracing.Tracer, m *metrics.Metrics, logger zerolog.Logger) *Processor {
	return &Processor{
		applier: applier,
		tracer:  tracer,
		metrics: m,
		logger:  logger.With().Str("component", "processor").Logger(),
	}
}

// ProcessMessage decodes and applies one message. Decode failures come back
// wrapping contracts.ErrMalformed; apply failures are transient.
func (p *Processor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	txn := p.tracer.StartTransaction("ProcessAuctionEvent")
	defer txn.End()
	ctx = newrelic.NewContext(ctx, txn)

	txn.AddAttribute("message_id", message.MessageID)

	event, envelope, err := contracts.Decode(message.Body)
	if err != nil {
		p.metrics.EventApplied(envelope.EventType, metrics.OutcomeMalformed)
		p.logger.Error().
			Err(err).
			Str("message_id", message.MessageID).
			Str("event_type", envelope.EventType).
			Msg("Discarding malformed message")
		txn.NoticeError(err)
		return err
	}

	txn.AddAttribute("event_type", envelope.EventType)
	txn.AddAttribute("auction_id", event.AuctionID())

	p.logger.Debug().
		Str("message_id", message.MessageID).
		Str("event_id", envelope.EventID).
		Str("event_type", envelope.EventType).
		Str("auction_id", event.AuctionID()).
		Msg("Processing message")

	if err := p.applier.Apply(ctx, event); err != nil {
		p.metrics.EventApplied(envelope.EventType, metrics.OutcomeFailed)
		txn.NoticeError(err)
		return errors.Wrapf(err, "failed to apply %s for auction %s", envelope.EventType, event.AuctionID())
	}

	return nil
}
