package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soyeahso/relay/internal/config"
	"github.com/soyeahso/relay/internal/domain"
	"github.com/soyeahso/relay/internal/store"
)

func newLogCmd() *cobra.Command {
	var (
		user  string
		limit int
		list  bool
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the stored transcript of a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			db, err := store.Open(cfg.Store.Path, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()
			transcripts := store.NewTranscriptStore(db)

			ctx := cmd.Context()

			if list {
				ids, err := transcripts.Conversations(ctx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Println(id)
				}
				return nil
			}

			convID := cfg.Upstream.AgentID + ":" + user
			events, err := transcripts.RecentEvents(ctx, convID, limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Printf("no transcript for %s\n", convID)
				return nil
			}

			for _, evt := range events {
				ts := evt.Timestamp.Local().Format("2006-01-02 15:04:05")
				switch evt.Kind {
				case domain.KindFinalized:
					fmt.Printf("%s  %s\n", ts, evt.Text)
				case domain.KindToolCall:
					fmt.Printf("%s  [tool: %s]\n", ts, evt.ToolName)
				case domain.KindStatus:
					fmt.Printf("%s  [run %s]\n", ts, evt.Status)
				case domain.KindError:
					fmt.Printf("%s  [error: %s]\n", ts, evt.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "local", "user ID for the conversation")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events to show (0 for all)")
	cmd.Flags().BoolVar(&list, "list", false, "list stored conversations instead")

	return cmd
}
