package outbox

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"example.com/backstage/services/auction/internal/messaging"
	"example.com/backstage/services/auction/internal/metrics"
	"example.com/backstage/services/auction/internal/models"
)

// Sender hands one message to the bus
type Sender interface {
	Send(ctx context.Context, msg messaging.OutboundMessage) error
}

// Relay forwards committed outbox rows to the bus
type Relay struct {
	store     *Store
	sender    Sender
	batchSize int
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewRelay creates a new relay
func NewRelay(store *Store, sender Sender, batchSize int, interval time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	return &Relay{
		store:     store,
		sender:    sender,
		batchSize: batchSize,
		interval:  interval,
		metrics:   m,
		logger:    logger.With().Str("component", "outbox_relay").Logger(),
	}
}

// RunOnce relays up to one batch and returns how many rows reached the bus.
// Each pass sends only the oldest pending row of every auction, so a later
// row goes out only after its predecessor was published. An auction whose
// row fails is skipped for the rest of the run.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	published, attempted := 0, 0
	var blocked []string

	for attempted < r.batchSize && ctx.Err() == nil {
		rows, err := r.store.FetchPending(ctx, r.batchSize-attempted, blocked)
		if err != nil {
			return published, err
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			if ctx.Err() != nil {
				break
			}
			attempted++

			if err := r.send(ctx, row); err != nil {
				blocked = append(blocked, row.AggregateID)
				r.metrics.EventPublished(row.EventType, metrics.OutcomeFailed)
				r.logger.Error().
					Err(err).
					Str("event_id", row.EventID).
					Str("auction_id", row.AggregateID).
					Int("attempt", row.AttemptCount+1).
					Msg("Failed to relay event")

				if markErr := r.store.MarkFailed(ctx, row.ID, err); markErr != nil {
					r.logger.Error().Err(markErr).Uint("row_id", row.ID).Msg("Failed to record relay failure")
				}
				continue
			}

			// a crash before this mark republishes the row; consumers tolerate duplicates
			if err := r.store.MarkPublished(ctx, row.ID); err != nil {
				return published, err
			}
			published++
			r.metrics.EventPublished(row.EventType, metrics.OutcomePublished)
		}
	}

	if pending, err := r.store.CountPending(ctx); err == nil {
		r.metrics.OutboxPending(pending)
	}

	if published > 0 {
		r.logger.Info().Int("count", published).Msg("Relayed events")
	}
	return published, nil
}

func (r *Relay) send(ctx context.Context, row models.OutboxEvent) error {
	err := r.sender.Send(ctx, messaging.OutboundMessage{
		MessageID:   row.EventID,
		Subject:     row.EventType,
		AggregateID: row.AggregateID,
		Body:        row.Payload,
	})
	return errors.Wrapf(err, "failed to send %s", row.EventID)
}

// Start runs the relay on its interval until ctx is done
func (r *Relay) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "failed to create scheduler")
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Outbox relay run failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return errors.Wrap(err, "failed to schedule outbox relay")
	}

	r.logger.Info().Dur("interval", r.interval).Msg("Starting outbox relay")
	scheduler.Start()

	<-ctx.Done()

	return scheduler.Shutdown()
}
