package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/auction/config"
	"example.com/backstage/services/auction/internal/metrics"
	"example.com/backstage/services/auction/internal/readstore"
	"example.com/backstage/services/auction/internal/tracing"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newMetrics() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.New(reg)
}

func initTracer() *tracing.Tracer {
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		return &tracing.Tracer{}
	}
	return tracer
}

// openReadStore builds the configured read store backend
func openReadStore(ctx context.Context) (readstore.Store, error) {
	switch cfg.ReadStore.Driver {
	case "memory":
		log.Warn().Msg("Using in-memory read store, entries are lost on restart")
		return readstore.NewMemoryStore(), nil

	case "", "elasticsearch":
		client, err := readstore.NewElasticsearchClient(cfg.Elastic)
		if err != nil {
			return nil, err
		}
		store := readstore.NewElasticStore(client, config.FormatIndex(cfg.Elastic, cfg.Elastic.Index))
		if err := store.EnsureIndex(ctx); err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, errors.Errorf("unknown read store driver %q", cfg.ReadStore.Driver)
	}
}
