package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/relay/internal/channel"
	"github.com/soyeahso/relay/internal/config"
	"github.com/soyeahso/relay/internal/conversation"
	"github.com/soyeahso/relay/internal/router"
	"github.com/soyeahso/relay/internal/store"
	"github.com/soyeahso/relay/internal/tools"
	"github.com/soyeahso/relay/internal/upstream"
)

func newChatCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := store.Open(cfg.Store.Path, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			up := upstream.NewAssistantsClient(
				cfg.Upstream.BaseURL,
				cfg.Upstream.APIKey,
				time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second,
				log,
			)

			toolReg := tools.NewRegistry()
			tools.RegisterBuiltins(toolReg)
			truncator, err := tools.NewTruncator(cfg.Tools.Model, cfg.Tools.BudgetTokens)
			if err != nil {
				return fmt.Errorf("initializing tokenizer: %w", err)
			}
			invoker := tools.NewInvoker(toolReg, truncator, time.Duration(cfg.Tools.TimeoutSeconds)*time.Second, log)

			conversations := conversation.NewManager(cfg.History.Capacity, log)
			channels := channel.NewRegistry(log)
			console := channel.NewConsole(os.Stdout, log)
			channels.Register(console)

			rt := router.New(up, invoker, conversations, channels,
				store.NewTranscriptStore(db), cfg.Upstream.AgentID, log)

			fmt.Printf("chatting with %s as %s — /quit to exit\n", cfg.Upstream.AgentID, user)

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					fmt.Println()
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/quit" || line == "/exit" {
					return nil
				}

				if err := rt.DispatchAndWait(ctx, user, line); err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					fmt.Printf("[error: %v]\n", err)
				}
			}
		},
	}

	cmd.Flags().StringVar(&user, "user", "local", "user ID for the conversation")

	return cmd
}
