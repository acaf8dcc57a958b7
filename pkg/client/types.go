package client

// MessageType represents the type of WebSocket message.
type MessageType int

const (
	// MessageText indicates a UTF-8 encoded text message.
	MessageText MessageType = 1
	// MessageBinary indicates a binary message.
	MessageBinary MessageType = 2
)

// String returns the string representation of the message type.
func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is an opaque text or binary payload exchanged with the peer.
type Message struct {
	Type MessageType
	Data []byte
}

// Text builds a text message from a string.
func Text(s string) Message {
	return Message{Type: MessageText, Data: []byte(s)}
}

// Binary builds a binary message from raw bytes.
func Binary(b []byte) Message {
	return Message{Type: MessageBinary, Data: b}
}

// CloseCode represents a WebSocket close status code per RFC 6455.
type CloseCode int

const (
	// CloseInvalid indicates no valid close code was available (0).
	CloseInvalid CloseCode = 0
	// CloseNormalClosure indicates a normal closure (1000).
	CloseNormalClosure CloseCode = 1000
	// CloseGoingAway indicates the endpoint is going away (1001).
	CloseGoingAway CloseCode = 1001
	// CloseProtocolError indicates a protocol error (1002).
	CloseProtocolError CloseCode = 1002
	// CloseUnsupportedData indicates an unsupported data type (1003).
	CloseUnsupportedData CloseCode = 1003
	// CloseNoStatusReceived indicates no status code was received (1005).
	CloseNoStatusReceived CloseCode = 1005
	// CloseAbnormalClosure indicates the connection dropped without a close frame (1006).
	CloseAbnormalClosure CloseCode = 1006
	// CloseInvalidFramePayloadData indicates invalid payload data such as non-UTF-8 text (1007).
	CloseInvalidFramePayloadData CloseCode = 1007
	// ClosePolicyViolation indicates a policy violation (1008).
	ClosePolicyViolation CloseCode = 1008
	// CloseMessageTooBig indicates the message was too large (1009).
	CloseMessageTooBig CloseCode = 1009
	// CloseMandatoryExtensionMissing indicates a required extension was not negotiated (1010).
	CloseMandatoryExtensionMissing CloseCode = 1010
	// CloseInternalServerError indicates the peer hit an internal error (1011).
	CloseInternalServerError CloseCode = 1011
	// CloseTLSHandshakeFailure indicates the TLS handshake failed (1015).
	CloseTLSHandshakeFailure CloseCode = 1015
)

// String returns the stable symbolic name of the close code, used in
// diagnostics and in CloseError messages.
func (c CloseCode) String() string {
	switch c {
	case CloseInvalid:
		return "invalid"
	case CloseNormalClosure:
		return "normalClosure"
	case CloseGoingAway:
		return "goingAway"
	case CloseProtocolError:
		return "protocolError"
	case CloseUnsupportedData:
		return "unsupportedData"
	case CloseNoStatusReceived:
		return "noStatusReceived"
	case CloseAbnormalClosure:
		return "abnormalClosure"
	case CloseInvalidFramePayloadData:
		return "invalidFramePayloadData"
	case ClosePolicyViolation:
		return "policyViolation"
	case CloseMessageTooBig:
		return "messageTooBig"
	case CloseMandatoryExtensionMissing:
		return "mandatoryExtensionMissing"
	case CloseInternalServerError:
		return "internalServerError"
	case CloseTLSHandshakeFailure:
		return "tlsHandshakeFailure"
	default:
		return "unrecognized"
	}
}
