package cmd

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/auction/config"
	"example.com/backstage/services/auction/internal/api"
	"example.com/backstage/services/auction/internal/database"
	"example.com/backstage/services/auction/internal/messaging"
	"example.com/backstage/services/auction/internal/metrics"
	"example.com/backstage/services/auction/internal/outbox"
	"example.com/backstage/services/auction/internal/publisher"
	"example.com/backstage/services/auction/internal/repository"
	"example.com/backstage/services/auction/internal/service"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the auction API and outbox relay",
	Long:  `Start the auction HTTP API over the primary store and relay committed auction events to Azure Service Bus`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if cfg.DB.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			return err
		}
	}

	tracer := initTracer()
	defer tracer.Shutdown(10 * time.Second)

	reg, m := newMetrics()
	logger := log.Logger

	outboxStore := outbox.NewStore(db)
	pub := publisher.New(outboxStore, m, logger)
	auctionService := service.NewAuctionService(db, repository.NewAuctionRepository(db), pub, logger)

	server := api.NewServer(cfg.Server, tracer, logger)
	server.RegisterAuctionRoutes(auctionService)
	if cfg.MetricsEnabled {
		server.RegisterMetrics(reg)
	}

	relay, closeRelay, err := newOutboxRelay(cfg.Azure, cfg.Outbox, outboxStore, m, logger)
	if err != nil {
		return err
	}
	defer closeRelay()
	if relay == nil {
		log.Warn().Msg("Azure Service Bus is not configured, events stay queued in the outbox")
	}

	// nothing past this point returns before g.Wait
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(ctx)
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Start(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	log.Info().Msg("Server shut down gracefully")
	return nil
}

// newOutboxRelay connects the relay to the bus. It returns a nil relay when no
// connection string is configured.
func newOutboxRelay(azureCfg config.AzureConfig, outboxCfg config.OutboxConfig, store *outbox.Store, m *metrics.Metrics, logger zerolog.Logger) (*outbox.Relay, func(), error) {
	if azureCfg.ConnStr == "" {
		return nil, func() {}, nil
	}

	azureClient, err := messaging.NewAzureClient(azureCfg)
	if err != nil {
		return nil, nil, err
	}

	sender, err := azureClient.NewSender()
	if err != nil {
		_ = azureClient.Close(context.Background())
		return nil, nil, err
	}

	closeFn := func() {
		_ = sender.Close(context.Background())
		_ = azureClient.Close(context.Background())
	}
	return outbox.NewRelay(store, sender, outboxCfg.BatchSize, outboxCfg.Interval, m, logger), closeFn, nil
}
