package projection

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"example.com/backstage/services/auction/internal/contracts"
	"example.com/backstage/services/auction/internal/metrics"
	"example.com/backstage/services/auction/internal/readstore"
)

// Applier projects auction events onto the search read store.
//
// Every operation is idempotent: a Created replaces the whole entry, an
// Updated only overwrites the fields it carries and a Deleted of an absent
// entry is a no-op. Redelivery after a lost settlement is therefore safe.
type Applier struct {
	store   readstore.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewApplier creates a new applier over store
func NewApplier(store readstore.Store, m *metrics.Metrics, logger zerolog.Logger) *Applier {
	return &Applier{
		store:   store,
		metrics: m,
		logger:  logger.With().Str("component", "projection").Logger(),
	}
}

// Apply projects one event
func (a *Applier) Apply(ctx context.Context, event contracts.Event) error {
	switch evt := event.(type) {
	case contracts.AuctionCreated:
		return a.applyCreated(ctx, evt)
	case contracts.AuctionUpdated:
		return a.applyUpdated(ctx, evt)
	case contracts.AuctionDeleted:
		return a.applyDeleted(ctx, evt)
	default:
		return errors.Errorf("unsupported event %T", event)
	}
}

func (a *Applier) applyCreated(ctx context.Context, evt contracts.AuctionCreated) error {
	if err := a.store.Upsert(ctx, readstore.ItemFromCreated(evt)); err != nil {
		return errors.Wrapf(err, "failed to upsert auction %s", evt.ID)
	}

	a.metrics.EventApplied(evt.EventType(), metrics.OutcomeApplied)
	a.logger.Info().Str("auction_id", evt.ID).Msg("Indexed auction")
	return nil
}

func (a *Applier) applyUpdated(ctx context.Context, evt contracts.AuctionUpdated) error {
	if evt.Empty() {
		a.metrics.EventApplied(evt.EventType(), metrics.OutcomeSkipped)
		a.logger.Debug().Str("auction_id", evt.ID).Msg("Update carries no fields")
		return nil
	}

	created, err := a.store.ApplyPartial(ctx, evt.ID, readstore.FieldsFromUpdated(evt))
	if err != nil {
		return errors.Wrapf(err, "failed to update auction %s", evt.ID)
	}

	if created {
		// update arrived before the create, or the entry was never seeded
		a.metrics.EventApplied(evt.EventType(), metrics.OutcomeSelfHealed)
		a.logger.Warn().Str("auction_id", evt.ID).Msg("Update for unknown auction, created partial entry")
		return nil
	}

	a.metrics.EventApplied(evt.EventType(), metrics.OutcomeApplied)
	a.logger.Info().Str("auction_id", evt.ID).Msg("Updated auction")
	return nil
}

func (a *Applier) applyDeleted(ctx context.Context, evt contracts.AuctionDeleted) error {
	found, err := a.store.Delete(ctx, evt.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to delete auction %s", evt.ID)
	}

	if !found {
		a.metrics.EventApplied(evt.EventType(), metrics.OutcomeAbsent)
		a.logger.Info().Str("auction_id", evt.ID).Msg("Delete for unknown auction, nothing to remove")
		return nil
	}

	a.metrics.EventApplied(evt.EventType(), metrics.OutcomeApplied)
	a.logger.Info().Str("auction_id", evt.ID).Msg("Removed auction")
	return nil
}
