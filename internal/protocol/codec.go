package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage is returned for zero-length frames.
	ErrEmptyMessage = errors.New("empty message")
	// ErrUnknownEvent is returned for event names no handler understands.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrInvalidIntent wraps decoding and validation failures of a payload.
	ErrInvalidIntent = errors.New("invalid intent")
)

// Encode wraps payload in an envelope named event.
func Encode(event string, payload any) ([]byte, error) {
	if event == "" {
		return nil, fmt.Errorf("encode: empty event name")
	}
	if payload == nil {
		return nil, fmt.Errorf("encode %s: nil payload", event)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// DecodeEnvelope parses a raw frame.
func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, ErrEmptyMessage
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: %w", ErrUnknownEvent)
	}
	return env, nil
}

// DecodePayload unmarshals the envelope data into T.
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return out, fmt.Errorf("%w: empty payload for %q", ErrInvalidIntent, env.Event)
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrInvalidIntent, env.Event, err)
	}
	return out, nil
}

// DecodeIntent decodes and validates the payload of an inbound envelope,
// returning one of the intent types declared in intents.go.
func DecodeIntent(env Envelope) (any, error) {
	switch env.Event {
	case MsgHello:
		return decodeValid[Hello](env)
	case MsgLocationUpdate:
		return decodeValid[LocationUpdate](env)
	case MsgDraggableUpdate:
		return decodeValid[DraggableUpdate](env)
	case MsgVisitedSet:
		return decodeValid[VisitedSet](env)
	case MsgVosCreate:
		return decodeValid[VosCreate](env)
	case MsgVosUpdate:
		return decodeValid[VosUpdate](env)
	case MsgVosRemove:
		return decodeValid[VosRemove](env)
	case MsgPeerLeave:
		return decodeValid[PeerLeave](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decodeValid[T any](env Envelope) (T, error) {
	out, err := DecodePayload[T](env)
	if err != nil {
		return out, err
	}
	if err := Validate(out); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrInvalidIntent, env.Event, err)
	}
	return out, nil
}
