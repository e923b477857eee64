// Package hub fans messages out to websocket clients through a single
// owner goroutine.
package hub

import "encoding/json"

// MessageType selects the websocket frame type.
type MessageType int

const (
	JSONMessage   MessageType = iota // text frame
	BinaryMessage                    // binary frame, e.g. a JPEG preview
)

// Message is one broadcast payload. Data is shared by every client and
// must not be modified after broadcast.
type Message struct {
	Type MessageType
	Data []byte
}

func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// EncodeJSON marshals v into a text-frame message.
func EncodeJSON(v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(data), nil
}
