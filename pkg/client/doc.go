// Package client manages the lifecycle of a single client-side WebSocket
// connection.
//
// The Manager owns one logical connection to a remote endpoint: it mediates
// concurrent send and receive operations, tracks state transitions driven by
// asynchronous network events, and classifies failures so callers can tell
// expected closure apart from real errors.
//
// Key features:
//   - Explicit state machine: not connected -> connecting -> connected
//   - One-shot receive and a cancellable background receive loop
//   - Out-of-band handshake/close notifications serialized onto one consumer
//   - Connection-epoch staleness checks for operations resuming after a suspend
//   - Close-code aware error classification with duplicate-report suppression
//
// Usage:
//
//	mgr := client.NewManager(client.NewCoderTransport(logger), &client.Config{
//		OnMessage: func(msg client.Message) { fmt.Println(string(msg.Data)) },
//	})
//	defer mgr.Close()
//
//	if err := mgr.Connect("ws://localhost:4280/ws", "GET"); err != nil {
//		return err
//	}
//	_ = mgr.StartReceiving()
//	_ = mgr.SendText(ctx, "hello")
//
// Two Transport implementations are provided: CoderTransport, backed by
// github.com/coder/websocket (context-based reads, default), and
// GorillaTransport, backed by github.com/gorilla/websocket.
package client
