package cmd

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/auction/internal/reconcile"
)

var (
	reconcileForce bool
	reconcileSince string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Seed the search read store from the auction service once",
	Long: `Seed the search read store from the auction listing, retrying until it succeeds.
An already populated store is left alone unless --force is given. --since limits the
listing to auctions updated after an RFC3339 timestamp for an incremental catch-up.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileForce, "force", false, "seed even when the read store has entries")
	reconcileCmd.Flags().StringVar(&reconcileSince, "since", "", "only auctions updated after this RFC3339 time")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	opts := reconcile.Options{Force: reconcileForce}
	if reconcileSince != "" {
		since, err := time.Parse(time.RFC3339, reconcileSince)
		if err != nil {
			return errors.Wrap(err, "--since must be RFC3339")
		}
		opts.Since = &since
	}

	ctx, stop := signalContext()
	defer stop()

	_, m := newMetrics()

	store, err := openReadStore(ctx)
	if err != nil {
		return err
	}

	reconciler, closeLocker, err := newReconciler(store, opts, m, log.Logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	if err := reconciler.Run(ctx); err != nil {
		return err
	}

	log.Info().Int("attempts", reconciler.Attempts()).Msg("Reconcile finished")
	return nil
}
