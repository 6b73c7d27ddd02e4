package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/agentgate/pkg/threadindex"
	"github.com/spf13/cobra"
)

var threadsCmd = &cobra.Command{
	Use:   "threads [user_id]",
	Short: "List indexed users or a user's threads",
	Long: `Read the thread index directly. Without arguments, list every known
user id. With a user id, list that user's thread ids in creation order.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runThreads,
}

func init() {
	rootCmd.AddCommand(threadsCmd)
}

func runThreads(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	store, err := threadindex.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open thread index: %w", err)
	}
	defer store.Close()

	var ids []string
	if len(args) == 0 {
		ids, err = store.Users(ctx)
	} else {
		ids, err = store.Threads(ctx, args[0])
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}
