package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"example.com/backstage/services/auction/internal/contracts"
	"example.com/backstage/services/auction/internal/metrics"
	"example.com/backstage/services/auction/internal/readstore"
)

// State is a bootstrap lifecycle state
type State string

const (
	StateNotStarted State = "not_started"
	StateFetching   State = "fetching"
	StateSeeding    State = "seeding"
	StateRetryWait  State = "retry_wait"
	StateComplete   State = "complete"
)

const leaseName = "search-bootstrap"

var errLeaseHeld = errors.New("bootstrap lease held by another replica")

// Source lists auctions from the primary store
type Source interface {
	ListAuctions(ctx context.Context, since *time.Time) ([]contracts.AuctionRecord, error)
}

// Store is the part of the read store the reconciler writes through
type Store interface {
	Count(ctx context.Context) (int64, error)
	Upsert(ctx context.Context, item readstore.Item) error
}

// Locker guards seeding so replicas do not seed concurrently
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Options tune the bootstrap loop
type Options struct {
	// Interval is the fixed wait between failed attempts
	Interval time.Duration
	// AttemptTimeout bounds one listing call
	AttemptTimeout time.Duration
	// MaxElapsed is how long to retry before escalating. Retries continue
	// after escalation. Zero disables it.
	MaxElapsed time.Duration
	// LockTTL is the lease lifetime when a Locker is set
	LockTTL time.Duration
	// Force seeds even when the read store already has entries
	Force bool
	// Since limits the listing to auctions updated after it
	Since *time.Time
}

// Option customizes a Reconciler
type Option func(*Reconciler)

// WithClock replaces the wall clock
func WithClock(clock Clock) Option {
	return func(r *Reconciler) { r.clock = clock }
}

// WithLocker makes seeding take a lease first
func WithLocker(locker Locker) Option {
	return func(r *Reconciler) { r.locker = locker }
}

// Reconciler seeds an empty read store from the primary store. It retries
// forever at a fixed interval until one attempt succeeds or ctx ends.
type Reconciler struct {
	source  Source
	store   Store
	locker  Locker
	clock   Clock
	opts    Options
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu        sync.RWMutex
	state     State
	attempts  int
	escalated bool
}

// New creates a new reconciler
func New(source Source, store Store, opts Options, m *metrics.Metrics, logger zerolog.Logger, options ...Option) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 30 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}

	r := &Reconciler{
		source:  source,
		store:   store,
		clock:   systemClock{},
		opts:    opts,
		metrics: m,
		logger:  logger.With().Str("component", "reconciler").Logger(),
		state:   StateNotStarted,
	}
	for _, o := range options {
		o(r)
	}
	r.metrics.BootstrapState(string(StateNotStarted))
	return r
}

// State returns the current state
func (r *Reconciler) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Escalated reports whether the retry ceiling has been crossed
func (r *Reconciler) Escalated() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.escalated
}

// Attempts returns how many attempts have run
func (r *Reconciler) Attempts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attempts
}

// Run blocks until the read store is seeded or ctx is done
func (r *Reconciler) Run(ctx context.Context) error {
	start := r.clock.Now()

	for {
		r.mu.Lock()
		r.attempts++
		attempt := r.attempts
		r.mu.Unlock()

		seeded, err := r.attempt(ctx)
		if err == nil {
			r.metrics.BootstrapAttempt(metrics.OutcomeSucceeded)
			r.setState(StateComplete)
			r.logger.Info().Int("attempt", attempt).Int("seeded", seeded).Msg("Bootstrap complete")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.metrics.BootstrapAttempt(metrics.OutcomeFailed)
		r.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", r.opts.Interval).
			Msg("Bootstrap attempt failed")

		r.escalateIfOverdue(start, attempt, err)

		r.setState(StateRetryWait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(r.opts.Interval):
		}
	}
}

// attempt runs one probe, fetch and seed pass and returns the number of entries written
func (r *Reconciler) attempt(ctx context.Context) (int, error) {
	if r.locker != nil {
		ok, err := r.locker.Acquire(ctx, leaseName, r.opts.LockTTL)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, errLeaseHeld
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := r.locker.Release(releaseCtx, leaseName); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to release bootstrap lease")
			}
		}()
	}

	count, err := r.store.Count(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to probe read store")
	}
	if count > 0 && !r.opts.Force {
		r.logger.Info().Int64("entries", count).Msg("Read store already populated, skipping seed")
		return 0, nil
	}

	r.setState(StateFetching)
	records, err := r.fetch(ctx)
	if err != nil {
		return 0, err
	}

	r.setState(StateSeeding)
	seeded := 0
	defer func() { r.metrics.BootstrapSeeded(seeded) }()

	for _, rec := range records {
		if err := r.store.Upsert(ctx, readstore.ItemFromRecord(rec)); err != nil {
			return seeded, errors.Wrapf(err, "failed to seed auction %s", rec.ID)
		}
		seeded++
	}
	return seeded, nil
}

func (r *Reconciler) fetch(ctx context.Context) ([]contracts.AuctionRecord, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.opts.AttemptTimeout)
	defer cancel()

	records, err := r.source.ListAuctions(attemptCtx, r.opts.Since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list auctions")
	}
	r.logger.Info().Int("count", len(records)).Msg("Fetched auctions from primary store")
	return records, nil
}

func (r *Reconciler) escalateIfOverdue(start time.Time, attempt int, cause error) {
	if r.opts.MaxElapsed <= 0 {
		return
	}
	elapsed := r.clock.Now().Sub(start)
	if elapsed < r.opts.MaxElapsed {
		return
	}

	r.mu.Lock()
	already := r.escalated
	r.escalated = true
	r.mu.Unlock()
	if already {
		return
	}

	r.metrics.BootstrapEscalated()
	r.logger.Error().
		Err(cause).
		Int("attempt", attempt).
		Dur("elapsed", elapsed).
		Msg("Bootstrap still failing past its retry ceiling, search results are incomplete")
}

func (r *Reconciler) setState(state State) {
	r.mu.Lock()
	prev := r.state
	r.state = state
	r.mu.Unlock()

	if prev != state {
		r.metrics.BootstrapState(string(state))
		r.logger.Info().Str("from", string(prev)).Str("state", string(state)).Msg("Bootstrap state changed")
	}
}
