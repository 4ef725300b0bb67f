package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := []byte(`
read_store:
  driver: memory
reconcile:
  interval: 5s
  auction_url: http://auction-svc
consumer:
  concurrency: 4
`)
	require.NoError(t, os.WriteFile(file, content, 0o600))

	SetConfigFile(file)
	t.Cleanup(func() { SetConfigFile("") })

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "memory", cfg.ReadStore.Driver)
	require.Equal(t, 5*time.Second, cfg.Reconcile.Interval)
	require.Equal(t, "http://auction-svc", cfg.Reconcile.AuctionURL)
	require.Equal(t, 4, cfg.Consumer.Concurrency)

	// untouched keys keep their defaults
	require.Equal(t, 30*time.Second, cfg.Reconcile.AttemptTimeout)
	require.Equal(t, "auction-events", cfg.Azure.TopicName)
	require.Equal(t, "items", cfg.Elastic.Index)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("environment: test\n"), 0o600))

	SetConfigFile(file)
	t.Cleanup(func() { SetConfigFile("") })
	t.Setenv("AUCTION_CONSUMER_CONCURRENCY", "32")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "test", cfg.Environment)
	require.Equal(t, 32, cfg.Consumer.Concurrency)
}

func TestFormatIndex(t *testing.T) {
	require.Equal(t, "search-items", FormatIndex(ElasticConfig{Prefix: "search"}, "items"))
	require.Equal(t, "items", FormatIndex(ElasticConfig{}, "items"))
}
