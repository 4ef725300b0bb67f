package cmd

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/auction/internal/api"
	"example.com/backstage/services/auction/internal/auctionclient"
	"example.com/backstage/services/auction/internal/cache"
	"example.com/backstage/services/auction/internal/messaging"
	"example.com/backstage/services/auction/internal/metrics"
	"example.com/backstage/services/auction/internal/projection"
	"example.com/backstage/services/auction/internal/readstore"
	"example.com/backstage/services/auction/internal/reconcile"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the search worker",
	Long:  `Consume auction events from Azure Service Bus into the search read store, bootstrap the store when empty and serve read lookups`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	tracer := initTracer()
	defer tracer.Shutdown(10 * time.Second)

	reg, m := newMetrics()
	logger := log.Logger

	store, err := openReadStore(ctx)
	if err != nil {
		return err
	}

	azureClient, err := messaging.NewAzureClient(cfg.Azure)
	if err != nil {
		return err
	}
	defer azureClient.Close(context.Background())

	receiver, err := azureClient.NewReceiver()
	if err != nil {
		return err
	}
	defer receiver.Close(context.Background())

	applier := projection.NewApplier(store, m, logger)
	processor := messaging.NewProcessor(applier, tracer, m, logger)
	consumer := messaging.NewConsumer(receiver, processor, cfg.Consumer, logger)

	var status api.BootstrapStatus
	var reconciler *reconcile.Reconciler
	if cfg.Reconcile.Enabled {
		r, closeLocker, err := newReconciler(store, reconcile.Options{}, m, logger)
		if err != nil {
			return err
		}
		defer closeLocker()

		reconciler = r
		status = r
	} else {
		log.Info().Msg("Bootstrap reconciler disabled")
	}

	server := api.NewServer(cfg.Server, tracer, logger)
	server.RegisterSearchRoutes(store, status)
	if cfg.MetricsEnabled {
		server.RegisterMetrics(reg)
	}

	// nothing past this point returns before g.Wait
	g, ctx := errgroup.WithContext(ctx)

	if reconciler != nil {
		g.Go(func() error {
			if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		return consumer.Run(ctx)
	})

	g.Go(func() error {
		return server.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

// newReconciler wires the reconciler to the auction service listing and, when
// Redis is enabled, to a lease shared by all worker replicas
func newReconciler(store readstore.Store, opts reconcile.Options, m *metrics.Metrics, logger zerolog.Logger) (*reconcile.Reconciler, func(), error) {
	opts.Interval = cfg.Reconcile.Interval
	opts.AttemptTimeout = cfg.Reconcile.AttemptTimeout
	opts.MaxElapsed = cfg.Reconcile.MaxElapsed
	opts.LockTTL = cfg.Reconcile.LockTTL

	source := auctionclient.New(cfg.Reconcile.AuctionURL)

	var options []reconcile.Option
	closeLocker := func() {}
	if cfg.Redis.Enabled {
		locker, err := cache.NewLocker(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		options = append(options, reconcile.WithLocker(locker))
		closeLocker = func() { _ = locker.Close() }
	}

	return reconcile.New(source, store, opts, m, logger, options...), closeLocker, nil
}
