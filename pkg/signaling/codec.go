/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-12
 *
 * 信令编解码
 * 线上格式: {"id": "...", "event": "offer", "data": {...}}
 */
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrUnknownEvent indicates an event name outside the call contract
	ErrUnknownEvent = errors.New("unknown signaling event")

	// ErrInvalidMessage indicates a message without room or sender
	ErrInvalidMessage = errors.New("invalid signaling message")
)

// Envelope is the JSON frame exchanged with the relay
type Envelope struct {
	ID    string          `json:"id,omitempty"`
	Event MessageType     `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode serializes msg into an envelope with a fresh id
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, ErrInvalidMessage
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Type(), err)
	}
	return json.Marshal(Envelope{
		ID:    uuid.NewString(),
		Event: msg.Type(),
		Data:  data,
	})
}

// Decode parses an envelope into its concrete message type
func Decode(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return DecodeEvent(env.Event, env.Data)
}

// DecodeEvent parses data for a known event name. The FFI layer uses it
// directly when the host already split event and payload.
func DecodeEvent(event MessageType, data []byte) (Message, error) {
	var msg Message
	switch event {
	case MessageTypeOffer:
		msg = &Offer{}
	case MessageTypeAnswer:
		msg = &Answer{}
	case MessageTypeICECandidate:
		msg = &ICECandidate{}
	case MessageTypeCallEnded:
		msg = &CallEnded{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", event, err)
	}
	h := msg.Head()
	if h.ChatSessionID == "" || h.From == "" {
		return nil, fmt.Errorf("%w: %s without chatSessionId/from", ErrInvalidMessage, event)
	}
	return msg, nil
}
