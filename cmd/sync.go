package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hoshi0/hoshi/internal/app"
	"github.com/hoshi0/hoshi/internal/config"
	"github.com/hoshi0/hoshi/internal/syncer"
)

var (
	syncCheckOnly  bool
	syncTenantFlag string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror the document repository into the file-search index",
	Long: `sync crawls the configured repository folder, diffs the discovered
files against the already-synced set and uploads only the new ones.

Re-running after a completed sync with no remote changes is a no-op.
Use --check to report drift (new or deleted remote files) without
uploading anything.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncCheckOnly, "check", false, "report drift without syncing")
	syncCmd.Flags().StringVar(&syncTenantFlag, "tenant", "", "tenant id (default from config)")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Syncer == nil {
		return fmt.Errorf("sync requires both drive_enabled and index_enabled")
	}

	tenantID := syncTenantFlag
	if tenantID == "" {
		tenantID = cfg.TenantID
	}

	if syncCheckOnly {
		drift, err := a.Syncer.CheckDrift(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("drift check failed: %w", err)
		}
		if !drift.NeedsSync {
			fmt.Println("In sync: no new or deleted remote files.")
			return nil
		}
		fmt.Printf("Drift detected: %d new file(s), %d deleted remotely.\n",
			drift.NewCount, drift.DeletedCount)
		fmt.Println("Run `hoshi sync` to index the new files.")
		return nil
	}

	st, err := a.Syncer.Run(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	switch st.Status {
	case syncer.StatusCompleted:
		fmt.Printf("Sync complete: %d/%d files indexed (store %s).\n",
			st.TotalSynced, st.TotalDiscovered, st.StoreID)
	default:
		fmt.Printf("Sync finished with status %s: %s\n", st.Status, st.LastError)
	}
	return nil
}
