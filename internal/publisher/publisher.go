package publisher

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"example.com/backstage/services/auction/internal/contracts"
	"example.com/backstage/services/auction/internal/metrics"
	"example.com/backstage/services/auction/internal/models"
)

// Outbox durably queues an envelope inside the caller's transaction
type Outbox interface {
	Enqueue(ctx context.Context, tx *gorm.DB, aggregateID string, env contracts.Envelope) error
}

// Publisher turns auction mutations into events. Each method must be called
// with the transaction that performs the mutation; the event is queued only
// if that transaction commits.
type Publisher struct {
	outbox  Outbox
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a new publisher
func New(outbox Outbox, m *metrics.Metrics, logger zerolog.Logger) *Publisher {
	return &Publisher{
		outbox:  outbox,
		metrics: m,
		logger:  logger.With().Str("component", "publisher").Logger(),
		now:     time.Now,
	}
}

// Created queues a full snapshot of a new auction
func (p *Publisher) Created(ctx context.Context, tx *gorm.DB, auction models.Auction) error {
	createdAt := auction.CreatedAt.UTC()
	updatedAt := auction.UpdatedAt.UTC()

	return p.publish(ctx, tx, contracts.AuctionCreated{
		ID:        auction.ID,
		Seller:    auction.Seller,
		Make:      auction.Make,
		Model:     auction.Model,
		Color:     auction.Color,
		Mileage:   auction.Mileage,
		Year:      auction.Year,
		CreatedAt: &createdAt,
		UpdatedAt: &updatedAt,
	})
}

// Updated queues the fields that differ between before and after. It reports
// false and queues nothing when no field changed.
func (p *Publisher) Updated(ctx context.Context, tx *gorm.DB, before, after models.Auction) (bool, error) {
	evt := BuildUpdated(before, after)
	if evt.Empty() {
		p.metrics.EventPublished(contracts.AuctionUpdatedType, metrics.OutcomeSkipped)
		return false, nil
	}
	if err := p.publish(ctx, tx, evt); err != nil {
		return false, err
	}
	return true, nil
}

// Deleted queues the removal of an auction
func (p *Publisher) Deleted(ctx context.Context, tx *gorm.DB, id string) error {
	return p.publish(ctx, tx, contracts.AuctionDeleted{ID: id})
}

func (p *Publisher) publish(ctx context.Context, tx *gorm.DB, evt contracts.Event) error {
	env, err := contracts.NewEnvelope(evt, p.now())
	if err != nil {
		return errors.Wrapf(err, "failed to build %s", evt.EventType())
	}

	if err := p.outbox.Enqueue(ctx, tx, evt.AuctionID(), env); err != nil {
		p.metrics.EventPublished(evt.EventType(), metrics.OutcomeFailed)
		return err
	}

	p.metrics.EventPublished(evt.EventType(), metrics.OutcomeQueued)
	p.logger.Debug().
		Str("event_id", env.EventID).
		Str("event_type", env.EventType).
		Str("auction_id", evt.AuctionID()).
		Msg("Queued event")
	return nil
}

// BuildUpdated diffs the mutable attributes. Seller and timestamps are not
// carried by updates.
func BuildUpdated(before, after models.Auction) contracts.AuctionUpdated {
	evt := contracts.AuctionUpdated{ID: after.ID}

	if before.Make != after.Make {
		evt.Make = &after.Make
	}
	if before.Model != after.Model {
		evt.Model = &after.Model
	}
	if before.Color != after.Color {
		evt.Color = &after.Color
	}
	if before.Mileage != after.Mileage {
		evt.Mileage = &after.Mileage
	}
	if before.Year != after.Year {
		evt.Year = &after.Year
	}
	return evt
}
