package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/getmockd/wsclient/pkg/client"
	"github.com/getmockd/wsclient/pkg/logging"
)

// sessionOptions is the merge of profile values and command-line flags, flags
// winning.
type sessionOptions struct {
	url          string
	header       http.Header
	subprotocols []string
	timeout      time.Duration
	transport    string
	logLevel     string
	logFormat    string
}

// resolveOptions loads the profile (when given) and applies flag overrides.
// argURL is the positional URL argument, empty when omitted.
func resolveOptions(argURL string) (*sessionOptions, error) {
	opts := &sessionOptions{
		url:       argURL,
		header:    http.Header{},
		transport: "coder",
		logLevel:  "info",
		logFormat: "text",
	}

	if profilePath != "" {
		prof, err := LoadProfile(profilePath)
		if err != nil {
			return nil, err
		}
		if opts.url == "" {
			opts.url = prof.URL
		}
		for k, v := range prof.Headers {
			opts.header.Set(k, v)
		}
		opts.subprotocols = prof.Subprotocols
		if prof.Transport != "" {
			opts.transport = prof.Transport
		}
		if prof.Log.Level != "" {
			opts.logLevel = prof.Log.Level
		}
		if prof.Log.Format != "" {
			opts.logFormat = prof.Log.Format
		}
		d, err := prof.timeoutDuration()
		if err != nil {
			return nil, err
		}
		opts.timeout = d
	}

	for _, h := range headerFlags {
		key, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, expected key:value", h)
		}
		opts.header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if len(subprotocols) > 0 {
		opts.subprotocols = subprotocols
	}
	if timeout > 0 {
		opts.timeout = timeout
	}
	if opts.timeout == 0 {
		opts.timeout = 30 * time.Second
	}
	if transportName != "" {
		opts.transport = transportName
	}
	if logLevel != "" {
		opts.logLevel = logLevel
	}
	if logFormat != "" {
		opts.logFormat = logFormat
	}

	if opts.url == "" {
		return nil, fmt.Errorf("url is required (argument or profile)")
	}
	return opts, nil
}

// newManager assembles a Manager from resolved options and observer hooks.
func newManager(opts *sessionOptions, cfg client.Config) (*client.Manager, error) {
	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(opts.logLevel),
		Format: logging.ParseFormat(opts.logFormat),
	})

	var transport client.Transport
	switch opts.transport {
	case "coder", "":
		transport = client.NewCoderTransport(logger)
	case "gorilla":
		transport = client.NewGorillaTransport(logger)
	default:
		return nil, fmt.Errorf("unknown transport %q (coder, gorilla)", opts.transport)
	}

	cfg.Header = opts.header
	cfg.Subprotocols = opts.subprotocols
	cfg.HandshakeTimeout = opts.timeout
	cfg.Logger = logger
	return client.NewManager(transport, &cfg), nil
}

// waitConnected polls until the handshake completes or the deadline expires.
func waitConnected(m *client.Manager, deadline time.Duration) error {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		switch m.State() {
		case client.StateConnected:
			return nil
		case client.StateNotConnected:
			return fmt.Errorf("connection attempt abandoned")
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("handshake did not complete within %s", deadline)
}

// messageEnvelope is the JSON output shape for received messages.
type messageEnvelope struct {
	Type string `json:"type"`
	Data string `json:"data"`
	// Base64 marks Data as base64-encoded binary.
	Base64 bool `json:"base64,omitempty"`
}

// printMessage renders an incoming message to stdout.
func printMessage(msg client.Message) {
	if jsonOutput {
		env := messageEnvelope{Type: msg.Type.String()}
		if msg.Type == client.MessageBinary || !utf8.Valid(msg.Data) {
			env.Data = base64.StdEncoding.EncodeToString(msg.Data)
			env.Base64 = true
		} else {
			env.Data = string(msg.Data)
		}
		data, _ := json.Marshal(env)
		fmt.Println(string(data))
		return
	}
	if msg.Type == client.MessageBinary {
		fmt.Printf("<binary %d bytes> %s\n", len(msg.Data), base64.StdEncoding.EncodeToString(msg.Data))
		return
	}
	fmt.Println(string(msg.Data))
}

// printEvent renders a lifecycle event to stderr so it never interleaves with
// message output on stdout.
func printEvent(format string, args ...interface{}) {
	if jsonOutput {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
