package cli

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/getmockd/wsclient/pkg/client"
	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect [url]",
	Short: "Interactive WebSocket client (REPL mode)",
	Long: `Start an interactive WebSocket session. Type messages to send, press Enter
to send. Ctrl+C or EOF disconnects.`,
	Example: `  # Connect to a WebSocket endpoint
  wsclient connect ws://localhost:4280/ws

  # Connect with custom headers
  wsclient connect -H "Authorization:Bearer token" ws://localhost:4280/ws

  # Connect using a profile
  wsclient connect --config staging.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var argURL string
		if len(args) > 0 {
			argURL = args[0]
		}
		opts, err := resolveOptions(argURL)
		if err != nil {
			return err
		}

		mgr, err := newManager(opts, client.Config{
			OnMessage: printMessage,
			OnState: func(old, state client.ConnectionState) {
				printEvent("* %s", state)
			},
			OnError: func(err error) {
				printEvent("* error: %v", err)
			},
		})
		if err != nil {
			return err
		}
		defer mgr.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := mgr.Connect(opts.url, http.MethodGet); err != nil {
			return err
		}
		defer mgr.Disconnect()
		if err := waitConnected(mgr, opts.timeout); err != nil {
			return err
		}
		if err := mgr.StartReceiving(); err != nil {
			return err
		}

		lines := make(chan string)
		scanErr := make(chan error, 1)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				select {
				case lines <- scanner.Text():
				case <-ctx.Done():
					return
				}
			}
			scanErr <- scanner.Err()
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-scanErr:
				return err
			case line := <-lines:
				if line == "" {
					continue
				}
				if err := mgr.SendText(ctx, line); err != nil {
					printEvent("* send failed: %v", err)
					if mgr.State() != client.StateConnected {
						return err
					}
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
}
