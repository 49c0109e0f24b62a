package realtime

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Subprotocols offered during the upgrade, in preference order.
const (
	ProtocolMsgpack = "msgpack"
	ProtocolJSON    = "json"
)

var errEmptyEvent = errors.New("missing event name")

// Codec frames envelopes of the form {event, data}.
type Codec interface {
	Name() string
	FrameType() int
	Encode(event string, data any) ([]byte, error)
	Decode(frame []byte) (Message, error)
	Unmarshal(data []byte, v any) error
}

// Message is a decoded inbound envelope. Data stays raw until Bind.
type Message struct {
	Event string
	data  []byte
	codec Codec
}

func (m Message) Bind(v any) error {
	if len(m.data) == 0 {
		return nil
	}
	return m.codec.Unmarshal(m.data, v)
}

func codecFor(subprotocol string) Codec {
	if subprotocol == ProtocolMsgpack {
		return msgpackCodec{}
	}
	return jsonCodec{}
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type jsonCodec struct{}

type jsonEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (jsonCodec) Name() string   { return ProtocolJSON }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Encode(event string, data any) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Event: event, Data: data})
}

func (c jsonCodec) Decode(frame []byte) (Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Message{}, err
	}
	if env.Event == "" {
		return Message{}, errEmptyEvent
	}
	return Message{Event: env.Event, data: env.Data, codec: c}, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// msgpackCodec reads the json struct tags so payload field names match on
// both protocols.
type msgpackCodec struct{}

type msgpackEnvelope struct {
	Event string             `json:"event"`
	Data  msgpack.RawMessage `json:"data"`
}

func (msgpackCodec) Name() string   { return ProtocolMsgpack }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(event string, data any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(outboundEnvelope{Event: event, Data: data}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c msgpackCodec) Decode(frame []byte) (Message, error) {
	var env msgpackEnvelope
	if err := c.Unmarshal(frame, &env); err != nil {
		return Message{}, err
	}
	if env.Event == "" {
		return Message{}, errEmptyEvent
	}
	return Message{Event: env.Event, data: env.Data, codec: c}, nil
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
