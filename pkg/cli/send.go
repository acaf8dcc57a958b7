package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/getmockd/wsclient/pkg/client"
	"github.com/spf13/cobra"
)

var (
	sendBinary bool
	sendWait   time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send [url] <message>",
	Short: "Send a single message and exit",
	Long: `Connect, send one message, and disconnect. With --wait, block for one reply
and print it before disconnecting.`,
	Example: `  # Fire-and-forget
  wsclient send ws://localhost:4280/ws '{"op":"ping"}'

  # Send and print one reply
  wsclient send --wait 5s ws://localhost:4280/ws '{"op":"ping"}'

  # Binary payload, base64-encoded
  wsclient send --binary ws://localhost:4280/ws AQIDBA==`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var argURL, payload string
		if len(args) == 2 {
			argURL, payload = args[0], args[1]
		} else {
			payload = args[0]
		}
		opts, err := resolveOptions(argURL)
		if err != nil {
			return err
		}

		msg := client.Text(payload)
		if sendBinary {
			data, err := base64.StdEncoding.DecodeString(payload)
			if err != nil {
				return fmt.Errorf("--binary expects base64 data: %w", err)
			}
			msg = client.Binary(data)
		}

		mgr, err := newManager(opts, client.Config{})
		if err != nil {
			return err
		}
		defer mgr.Close()

		if err := mgr.Connect(opts.url, http.MethodGet); err != nil {
			return err
		}
		defer mgr.Disconnect()
		if err := waitConnected(mgr, opts.timeout); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		if err := mgr.Send(ctx, msg); err != nil {
			return err
		}

		if sendWait > 0 {
			waitCtx, cancelWait := context.WithTimeout(context.Background(), sendWait)
			defer cancelWait()
			if err := mgr.ReceiveOnce(waitCtx); err != nil {
				return fmt.Errorf("waiting for reply: %w", err)
			}
			if reply := mgr.LastMessage(); reply != nil {
				printMessage(*reply)
			} else if err := mgr.LastError(); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().BoolVar(&sendBinary, "binary", false, "Treat the message as base64-encoded binary data")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 0, "Wait this long for one reply and print it")
	rootCmd.AddCommand(sendCmd)
}
