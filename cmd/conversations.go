package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hoshi0/hoshi/internal/app"
	"github.com/hoshi0/hoshi/internal/config"
	"github.com/hoshi0/hoshi/internal/retrieval"
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Manage saved conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved conversations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			convs, err := a.Conversations.List(ctx, 50)
			if err != nil {
				return fmt.Errorf("failed to list conversations: %w", err)
			}
			if len(convs) == 0 {
				fmt.Println("No conversations yet.")
				return nil
			}
			for _, c := range convs {
				title := c.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s  %s  %s\n", c.ID, c.UpdatedAt.Format("2006-01-02 15:04"), title)
			}
			return nil
		})
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a conversation and its turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid conversation id: %w", err)
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.Conversations.Delete(ctx, id); err != nil {
				return fmt.Errorf("failed to delete conversation: %w", err)
			}
			fmt.Println("Deleted.")
			return nil
		})
	},
}

func init() {
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
	rootCmd.AddCommand(conversationsCmd)
}

// withApp loads config, sets up the application and runs fn with it.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
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

	return fn(ctx, a)
}

// printCitations renders an answer's citations, one per line.
func printCitations(citations []retrieval.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Sources:")
	for i, c := range citations {
		line := fmt.Sprintf("  [%d] %s", i+1, c.Title)
		if c.SourceURI != "" {
			line += " <" + c.SourceURI + ">"
		}
		fmt.Println(line)
	}
}
