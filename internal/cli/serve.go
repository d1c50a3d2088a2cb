package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/soyeahso/relay/internal/channel"
	"github.com/soyeahso/relay/internal/config"
	"github.com/soyeahso/relay/internal/conversation"
	"github.com/soyeahso/relay/internal/gateway"
	"github.com/soyeahso/relay/internal/logging"
	"github.com/soyeahso/relay/internal/router"
	"github.com/soyeahso/relay/internal/store"
	"github.com/soyeahso/relay/internal/stream"
	"github.com/soyeahso/relay/internal/tools"
	"github.com/soyeahso/relay/internal/upstream"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}
			if logLevel == "" && cfg.Logging.Level != "" {
				log = logging.New(nil, cfg.Logging.Level)
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
			transcripts := store.NewTranscriptStore(db)

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
			mux := stream.NewMux(cfg.Channels.Push.QueueSize, log)
			channels.Register(mux)
			if cfg.Channels.Console {
				channels.Register(channel.NewConsole(nil, log))
			}
			if cfg.Channels.Redis != nil {
				client := redis.NewClient(&redis.Options{
					Addr:     cfg.Channels.Redis.Addr,
					Password: cfg.Channels.Redis.Password,
					DB:       cfg.Channels.Redis.DB,
				})
				channels.Register(channel.NewRedis(client, cfg.Channels.Redis.Channel, log))
			}

			if err := channels.StartAll(ctx); err != nil {
				return err
			}
			defer channels.StopAll(context.Background())

			rt := router.New(up, invoker, conversations, channels, transcripts, cfg.Upstream.AgentID, log)

			srv := gateway.New(cfg.Server, cfg.Upstream.AgentID, rt, conversations, mux, channels, log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind address")

	return cmd
}
