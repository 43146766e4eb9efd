package cli

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"quiz-room-service/internal/config"
)

// NewReconcileCmd replays results parked after finalization gave up.
func NewReconcileCmd(configPath *string) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay pending session results against the result store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), *configPath, batch)
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 100, "pending results to replay per pass")
	return cmd
}

func runReconcile(ctx context.Context, configPath string, batch int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	total := 0
	for {
		n, err := rt.finalizer.Reconcile(ctx, batch)
		total += n
		if err != nil {
			log.Printf("reconciled %d results before failing", total)
			return err
		}
		if n < batch {
			break
		}
	}
	log.Printf("reconciled %d results", total)
	return nil
}
