package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// inbound and outbound event types on the wire
const (
	EventHistory = "history"
	EventJoin    = "join"
	EventPart    = "part"
	EventMessage = "message"
)

var (
	errFrameMalformed = errors.New("malformed frame")
	errRoomRequired   = errors.New("room is required")
)

// Message is the relayed chat message. Field order matches the serialized form.
type Message struct {
	Type   string `json:"type"`
	Room   string `json:"room"`
	Time   int64  `json:"time"`
	Text   string `json:"text"`
	Author string `json:"author"`
}

// InboundEvent is one client frame. Spoof stays raw so any JSON value can be
// judged for truthiness.
type InboundEvent struct {
	Type   string          `json:"type"`
	Room   string          `json:"room"`
	Text   string          `json:"text"`
	Author string          `json:"author"`
	Spoof  json.RawMessage `json:"spoof"`
}

// HistoryReply is sent only to the connection that asked for a room's scrollback.
type HistoryReply struct {
	Type    string   `json:"type"`
	History []string `json:"history"`
}

// Spoofed reports whether the client asked to override the author field.
func (event InboundEvent) Spoofed() bool {
	return truthy(event.Spoof)
}

// DecodeEvent parses one inbound frame.
func DecodeEvent(frame []byte) (InboundEvent, error) {
	var event InboundEvent
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return event, errFrameMalformed
	}
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return event, fmt.Errorf("%w: %v", errFrameMalformed, err)
	}
	if event.Type == "" {
		return event, fmt.Errorf("%w: missing type", errFrameMalformed)
	}
	return event, nil
}

// EncodeMessage serializes a message exactly as it is stored and broadcast.
func EncodeMessage(message Message) ([]byte, error) {
	message.Type = EventMessage
	return encodeJSON(message)
}

// EncodeHistory builds the history reply. An empty history encodes as [].
func EncodeHistory(history []string) ([]byte, error) {
	if history == nil {
		history = []string{}
	}
	return encodeJSON(HistoryReply{Type: EventHistory, History: history})
}

// encodeJSON marshals without HTML escaping and without the trailing newline
// json.Encoder adds.
func encodeJSON(value any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// truthy follows JavaScript rules for JSON values: false, 0, "", null and
// absence are falsy.
func truthy(raw json.RawMessage) bool {
	if len(bytes.TrimSpace(raw)) == 0 {
		return false
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return false
	}
	switch typed := value.(type) {
	case nil:
		return false
	case bool:
		return typed
	case float64:
		return typed != 0
	case string:
		return typed != ""
	default:
		return true
	}
}
