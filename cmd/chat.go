package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hoshi0/hoshi/internal/app"
	"github.com/hoshi0/hoshi/internal/config"
	"github.com/hoshi0/hoshi/internal/conversation"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
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

	tenant, err := a.Tenant(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve tenant scope: %w", err)
	}

	conv, err := a.Conversations.Create(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	fmt.Println("hoshi interactive chat. /help lists commands, /exit quits.")
	fmt.Println("Ctrl+C during an answer stops the reveal and keeps the shown text.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	var lastAssistant uuid.UUID

	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/exit" || line == "/quit":
			return nil

		case line == "/help":
			printChatHelp()

		case line == "/regen":
			if lastAssistant == uuid.Nil {
				fmt.Println("Nothing to regenerate yet.")
				continue
			}
			turn, err := a.Machine.Regenerate(ctx, conv.ID, lastAssistant, tenant)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				continue
			}
			streamTurn(ctx, a, conv.ID, turn.ID)

		case line == "/prev" || line == "/next":
			if lastAssistant == uuid.Nil {
				fmt.Println("No answer to switch yet.")
				continue
			}
			delta := 1
			if line == "/prev" {
				delta = -1
			}
			turn, err := a.Machine.SwitchAlternative(ctx, conv.ID, lastAssistant, delta)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				continue
			}
			fmt.Printf("hoshi (%d/%d)> %s\n",
				turn.ActiveAlternative+1, len(turn.Alternatives), turn.Content)

		case strings.HasPrefix(line, "/"):
			fmt.Println("Unknown command; /help lists commands.")

		default:
			turn, err := a.Machine.Submit(ctx, conv.ID, line, tenant)
			if errors.Is(err, conversation.ErrTurnInFlight) {
				fmt.Println("An answer is still streaming; wait for it to finish.")
				continue
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				continue
			}
			lastAssistant = turn.ID
			streamTurn(ctx, a, conv.ID, turn.ID)
		}
	}
}

// streamTurn prints the answer as the machine reveals it. Ctrl+C cancels the
// reveal; the text shown so far settles as the turn's content.
func streamTurn(ctx context.Context, a *app.App, conversationID, turnID uuid.UUID) {
	fmt.Print("hoshi> ")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	defer signal.Stop(sigc)

	done := a.Machine.Wait(turnID)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	printed := 0
	for {
		select {
		case <-sigc:
			if err := a.Machine.Cancel(turnID); err == nil {
				fmt.Print(" [stopped]")
			}

		case <-ticker.C:
			turn, err := a.Machine.View(ctx, conversationID, turnID)
			if err == nil && len(turn.Content) > printed {
				fmt.Print(turn.Content[printed:])
				printed = len(turn.Content)
			}

		case <-done:
			turn, err := a.Machine.View(ctx, conversationID, turnID)
			if err != nil {
				fmt.Println()
				return
			}
			if len(turn.Content) > printed {
				fmt.Print(turn.Content[printed:])
			}
			fmt.Println()
			printCitations(turn.Citations)
			return
		}
	}
}

func printChatHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /regen     Regenerate the last answer (previous one is kept)")
	fmt.Println("  /prev      Show the previous alternative of the last answer")
	fmt.Println("  /next      Show the next alternative of the last answer")
	fmt.Println("  /help      Show this help")
	fmt.Println("  /exit      Quit")
	fmt.Println()
	fmt.Println("Ctrl+C while an answer streams keeps the revealed text as the answer.")
}
