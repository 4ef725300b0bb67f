package tracing

import (
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/auction/config"
)

// Tracer wraps the New Relic application. A Tracer without a license key (or a
// nil *Tracer) hands out nil transactions, which the agent treats as no-ops.
type Tracer struct {
	app *newrelic.Application
}

// NewTracer creates a new tracer
func NewTracer(cfg config.TracingConfig) (*Tracer, error) {
	if cfg.LicenseKey == "" {
		log.Warn().Msg("New Relic license key not provided, tracing will be disabled")
		return &Tracer{}, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(cfg.DistribTracing),
		newrelic.ConfigAppLogForwardingEnabled(cfg.LogEnabled),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize New Relic")
	}

	return &Tracer{app: app}, nil
}

// Application returns the agent application, nil when tracing is disabled
func (t *Tracer) Application() *newrelic.Application {
	if t == nil {
		return nil
	}
	return t.app
}

// StartTransaction starts a new transaction
func (t *Tracer) StartTransaction(name string) *newrelic.Transaction {
	if t == nil || t.app == nil {
		return nil
	}
	return t.app.StartTransaction(name)
}

// Shutdown flushes pending data to New Relic
func (t *Tracer) Shutdown(timeout time.Duration) {
	if t == nil || t.app == nil {
		return
	}
	t.app.Shutdown(timeout)
}
