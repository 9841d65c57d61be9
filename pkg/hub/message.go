// Package hub fans websocket messages out to many viewers.
//
// A single goroutine (Run) owns the client set. Clients are added and
// removed through channels, and each client has its own writer goroutine,
// so a slow viewer never blocks the broadcaster: when its send buffer is
// full it is dropped.
package hub

// MessageType indicates the websocket message format
type MessageType int

const (
	// JSONMessage is a JSON-encoded message
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data (e.g., JPEG frames)
	BinaryMessage
)

// Message is one websocket message to broadcast.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage creates a JSON message from pre-encoded bytes
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage creates a binary message
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
