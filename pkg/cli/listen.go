package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/getmockd/wsclient/pkg/client"
	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen [url]",
	Short: "Stream incoming messages",
	Long:  `Connect and print every incoming message until interrupted or the peer closes.`,
	Example: `  # Stream messages as plain text
  wsclient listen ws://localhost:4280/feed

  # Stream as JSON lines for piping
  wsclient listen --json ws://localhost:4280/feed | jq .type`,
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

		closed := make(chan error, 1)
		mgr, err := newManager(opts, client.Config{
			OnMessage: printMessage,
			OnState: func(old, state client.ConnectionState) {
				printEvent("* %s", state)
			},
			OnError: func(err error) {
				select {
				case closed <- err:
				default:
				}
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

		select {
		case <-ctx.Done():
			return nil
		case err := <-closed:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)
}
