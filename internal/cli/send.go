package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/relay/internal/config"
)

func newSendCmd() *cobra.Command {
	var (
		user   string
		server string
	)

	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send a message to a running relay server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			base := server
			if base == "" {
				base = fmt.Sprintf("http://%s:%d", cfg.Server.Bind, cfg.Server.Port)
			}
			text := strings.Join(args, " ")

			payload, _ := json.Marshal(map[string]string{"text": text})
			req, err := http.NewRequest(http.MethodPost,
				fmt.Sprintf("%s/v1/users/%s/messages", strings.TrimRight(base, "/"), user),
				bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if cfg.Server.AuthToken != "" {
				req.Header.Set("Authorization", "Bearer "+cfg.Server.AuthToken)
			}

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("sending message: %w", err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			switch resp.StatusCode {
			case http.StatusAccepted:
				fmt.Println("accepted")
				return nil
			case http.StatusConflict:
				return fmt.Errorf("a run is already active for %s", user)
			default:
				return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
		},
	}

	cmd.Flags().StringVar(&user, "user", "local", "user ID for the conversation")
	cmd.Flags().StringVar(&server, "server", "", "relay server base URL (default from config)")

	return cmd
}
