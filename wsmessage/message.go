// Package wsmessage implements the subscriptions-transport-ws message
// envelope.
package wsmessage

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Type identifies a protocol message.
type Type string

const (
	ConnectionInitType      = Type("connection_init")
	ConnectionAckType       = Type("connection_ack")
	ConnectionErrorType     = Type("connection_error")
	ConnectionTerminateType = Type("connection_terminate")
	StartType               = Type("start")
	DataType                = Type("data")
	ErrorType               = Type("error")
	CompleteType            = Type("complete")
	StopType                = Type("stop")
	KeepAliveType           = Type("ka")
)

// Message is the envelope exchanged over the socket. The payload stays
// raw until the receiver knows what to decode it into.
//
// The field names are a compatibility contract with existing
// subscriptions-transport-ws clients.
type Message struct {
	Id      string          `json:"id,omitempty"`
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeError reports a frame that cannot be interpreted as a protocol
// message.
type DecodeError struct {
	Reason string
	Err    error
}

func (e DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Reason, e.Err.Error())
	}

	return e.Reason
}

func (e DecodeError) Unwrap() error {
	return e.Err
}

// Encode serializes a message. It never fails for a well-formed
// message.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a frame and validates the envelope: the type must be
// known and type-specific required fields must be present.
func Decode(data []byte) (*Message, error) {
	var msg Message

	dec := json.NewDecoder(bytes.NewReader(data))

	if err := dec.Decode(&msg); err != nil {
		return nil, DecodeError{
			Reason: "invalid message",
			Err:    err,
		}
	}

	if err := msg.validate(); err != nil {
		return nil, err
	}

	return &msg, nil
}

func (m *Message) validate() error {
	switch m.Type {
	case "":
		return DecodeError{Reason: "missing message type"}
	case ConnectionInitType,
		ConnectionAckType,
		ConnectionErrorType,
		ConnectionTerminateType,
		CompleteType,
		KeepAliveType:
	case StartType:
		if m.Id == "" {
			return DecodeError{Reason: "start without operation id"}
		}

		var payload struct {
			Query string `json:"query"`
		}

		err := DecodePayload(m.Payload, &payload)
		if err != nil || payload.Query == "" {
			return DecodeError{
				Reason: "start without query",
				Err:    err,
			}
		}
	case StopType, DataType, ErrorType:
		if m.Id == "" {
			return DecodeError{Reason: fmt.Sprintf("%s without operation id", m.Type)}
		}
	default:
		return DecodeError{Reason: fmt.Sprintf("unknown message type %q", m.Type)}
	}

	return nil
}

// EncodePayload serializes a message payload. Nil payloads and payloads
// serializing to JSON null are elided from the envelope.
func EncodePayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	if string(data) == "null" {
		return nil, nil
	}

	return data, nil
}

// DecodePayload deserializes a message payload into dst. A nil payload
// leaves dst untouched.
func DecodePayload(data []byte, dst interface{}, opts ...func(*json.Decoder)) error {
	if data == nil {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for _, fn := range opts {
		fn(dec)
	}

	return dec.Decode(dst)
}

// UseNumber configures a payload decoder to keep numbers as
// json.Number instead of float64.
func UseNumber(dec *json.Decoder) {
	dec.UseNumber()
}
