package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hoshi0/hoshi/internal/app"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Inspect the indexed-document records",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents indexed for the configured tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			docs, err := a.SyncStates.Documents(ctx, a.Config.TenantID)
			if err != nil {
				return fmt.Errorf("failed to list documents: %w", err)
			}
			if len(docs) == 0 {
				fmt.Println("No indexed documents. Run `hoshi sync` first.")
				return nil
			}
			for _, d := range docs {
				fmt.Printf("%s  %s  %s\n", d.ID, d.CreatedAt.Format("2006-01-02"), d.OriginalFileName)
			}
			return nil
		})
	},
}

var docsForgetCmd = &cobra.Command{
	Use:   "forget [id]",
	Short: "Remove a document record (the indexed content is untouched)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid document id: %w", err)
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.SyncStates.DeleteDocument(ctx, id); err != nil {
				return fmt.Errorf("failed to forget document: %w", err)
			}
			fmt.Println("Forgotten.")
			return nil
		})
	},
}

func init() {
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsForgetCmd)
	rootCmd.AddCommand(docsCmd)
}
