package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Websocket subprotocols, one per frame codec.
const (
	SubprotocolJSON    = "meshcall.json.v1"
	SubprotocolMsgpack = "meshcall.msgpack.v1"
)

var errMissingEvent = errors.New("frame without event name")

// Codec encodes {event, data} envelopes.
type Codec interface {
	// Name is the websocket subprotocol that selects this codec.
	Name() string
	// MessageType is the websocket frame type used on the wire.
	MessageType() int
	Encode(event string, payload any) ([]byte, error)
	Decode(data []byte) (Frame, error)
}

// Frame is a decoded envelope whose payload is decoded on demand.
type Frame struct {
	Event string
	data  []byte
	codec payloadDecoder
}

type payloadDecoder func(data []byte, v any) error

// Decode unmarshals the payload into v.
func (f Frame) Decode(v any) error {
	if len(f.data) == 0 {
		return fmt.Errorf("%s: empty payload", f.Event)
	}
	return f.codec(f.data, v)
}

// Subprotocols lists every supported subprotocol, preferred first.
func Subprotocols() []string {
	return []string{SubprotocolMsgpack, SubprotocolJSON}
}

// CodecByName returns the codec for "json", "msgpack" or a subprotocol name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "json", SubprotocolJSON:
		return JSON(), nil
	case "msgpack", SubprotocolMsgpack:
		return Msgpack(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// CodecForSubprotocol returns the codec negotiated on a connection. Peers
// that negotiated nothing speak JSON.
func CodecForSubprotocol(proto string) Codec {
	if proto == SubprotocolMsgpack {
		return Msgpack()
	}
	return JSON()
}

// JSON returns the text-frame codec.
func JSON() Codec { return jsonCodec{} }

// Msgpack returns the binary-frame codec.
func Msgpack() Codec { return msgpackCodec{} }

type jsonCodec struct{}

type jsonEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (jsonCodec) Name() string     { return SubprotocolJSON }
func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event, err)
	}
	return json.Marshal(jsonEnvelope{Event: event, Data: data})
}

func (jsonCodec) Decode(data []byte) (Frame, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Event == "" {
		return Frame{}, errMissingEvent
	}
	return Frame{Event: env.Event, data: env.Data, codec: json.Unmarshal}, nil
}

// msgpack payloads reuse the json struct tags so both codecs share one
// set of wire names.
const msgpackStructTag = "json"

type msgpackCodec struct{}

type msgpackEnvelope struct {
	Event string             `msgpack:"event"`
	Data  msgpack.RawMessage `msgpack:"data"`
}

func (msgpackCodec) Name() string     { return SubprotocolMsgpack }
func (msgpackCodec) MessageType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(event string, payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag(msgpackStructTag)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event, err)
	}
	return msgpack.Marshal(&msgpackEnvelope{Event: event, Data: buf.Bytes()})
}

func (msgpackCodec) Decode(data []byte) (Frame, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Event == "" {
		return Frame{}, errMissingEvent
	}
	return Frame{Event: env.Event, data: env.Data, codec: msgpackUnmarshal}, nil
}

func msgpackUnmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag(msgpackStructTag)
	return dec.Decode(v)
}
