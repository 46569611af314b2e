// Envelope is the three-field wire shape shared by requests, responses,
// and broadcasts. Binary framing is one message per
// WebSocket binary frame; JSON framing is used by browser/CLI clients
// that prefer text frames.
package wire

import (
	"encoding/json"
	"fmt"
)

// EnvelopeMagic tags a binary envelope; decode rejects a frame before
// trusting anything else in it.
const EnvelopeMagic uint32 = 0x44495254 // "DIRT"

const EnvelopeVersion uint8 = 1

// BroadcastID is the reserved id meaning "unsolicited broadcast"; any
// non-zero id pairs a response to the request that carried it.
const BroadcastID uint64 = 0

// ResponseName is the message_type every binary-framed response carries;
// the correlation id, not the name, pairs it to its request.
const ResponseName = "Response"

// ResponseOk and ResponseErr are the tagged-sum discriminant byte that
// opens every binary response payload: ok is followed by the okay body
// (field-encoded or JSON, per the command's descriptor), err by the
// error body.
const (
	ResponseOk  uint8 = 0
	ResponseErr uint8 = 1
)

// EncodeBinaryErrorBody writes an ApiError's fields in declaration
// order.
func EncodeBinaryErrorBody(w *Writer, apiErr *ApiError) {
	w.WriteString(string(apiErr.Kind))
	w.WriteString(apiErr.Message)
}

// DecodeBinaryErrorBody is the inverse of EncodeBinaryErrorBody.
func DecodeBinaryErrorBody(r *Reader) (*ApiError, error) {
	kind, err := r.ReadString()
	if err != nil {
		return nil, FieldError("kind", err)
	}
	message, err := r.ReadString()
	if err != nil {
		return nil, FieldError("message", err)
	}
	return &ApiError{Kind: Kind(kind), Message: message}, nil
}

// Envelope is the decoded in-memory form of one wire message.
type Envelope struct {
	MessageType string
	ID          uint64
	Payload     []byte
}

func (e Envelope) IsBroadcast() bool { return e.ID == BroadcastID }

// EncodeBinary serializes an Envelope to its binary wire form:
// magic(u32) version(u8) message_type(string) id(u64) payload(bytes).
func EncodeBinary(env Envelope) ([]byte, error) {
	if len(env.Payload) > MaxPayloadBytes {
		return nil, ErrTooLarge
	}
	w := NewWriter()
	w.WriteUint32(EnvelopeMagic)
	w.WriteUint8(EnvelopeVersion)
	w.WriteString(env.MessageType)
	w.WriteUint64(env.ID)
	w.WriteBytes(env.Payload)
	return w.Bytes(), nil
}

// DecodeBinary parses a binary envelope, validating the magic and
// version before trusting the rest of the frame.
func DecodeBinary(buf []byte) (Envelope, error) {
	r := NewReader(buf)
	magic, err := r.ReadUint32()
	if err != nil {
		return Envelope{}, FieldError("magic", err)
	}
	if magic != EnvelopeMagic {
		return Envelope{}, fmt.Errorf("wire: bad envelope magic %#x", magic)
	}
	version, err := r.ReadUint8()
	if err != nil {
		return Envelope{}, FieldError("version", err)
	}
	if version != EnvelopeVersion {
		return Envelope{}, fmt.Errorf("wire: unsupported envelope version %d", version)
	}
	name, err := r.ReadString()
	if err != nil {
		return Envelope{}, FieldError("message_type", err)
	}
	id, err := r.ReadUint64()
	if err != nil {
		return Envelope{}, FieldError("id", err)
	}
	payload, err := r.ReadBytes()
	if err != nil {
		return Envelope{}, FieldError("payload", err)
	}
	if r.Remaining() != 0 {
		return Envelope{}, fmt.Errorf("wire: %d trailing bytes in envelope", r.Remaining())
	}
	return Envelope{MessageType: name, ID: id, Payload: payload}, nil
}

// jsonRequest is the wire shape {"command": name, ...fields}.
type jsonRequest struct {
	Command string          `json:"command"`
	Fields  json.RawMessage `json:"-"`
}

// jsonResponseOk / jsonResponseErr are the two response shapes:
// {"id":.., "value":{...}} or {"id":.., "error":{"message":...}}.
type jsonResponseOk struct {
	ID    uint64          `json:"id"`
	Value json.RawMessage `json:"value"`
}

type jsonResponseErr struct {
	ID    uint64        `json:"id"`
	Error jsonErrorBody `json:"error"`
}

type jsonErrorBody struct {
	Message string `json:"message"`
	Kind    Kind   `json:"kind,omitempty"`
}

// EncodeJSONRequest marshals body's fields flattened alongside "command".
func EncodeJSONRequest(name string, body interface{}) ([]byte, error) {
	fields, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	merged := map[string]json.RawMessage{}
	if len(fields) > 0 && string(fields) != "null" {
		if err := json.Unmarshal(fields, &merged); err != nil {
			return nil, err
		}
	}
	out := map[string]json.RawMessage{}
	for k, v := range merged {
		out[k] = v
	}
	cmdJSON, err := json.Marshal(name)
	if err != nil {
		return nil, err
	}
	out["command"] = cmdJSON
	return json.Marshal(out)
}

// DecodeJSONRequest extracts the command name and returns the remaining
// fields as a raw object the caller re-decodes into its concrete type.
func DecodeJSONRequest(data []byte) (name string, fields json.RawMessage, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", nil, err
	}
	cmdRaw, ok := raw["command"]
	if !ok {
		return "", nil, fmt.Errorf("wire: json request missing %q field", "command")
	}
	if err := json.Unmarshal(cmdRaw, &name); err != nil {
		return "", nil, fmt.Errorf("wire: json request %q field not a string", "command")
	}
	delete(raw, "command")
	fields, err = json.Marshal(raw)
	if err != nil {
		return "", nil, err
	}
	return name, fields, nil
}

// EncodeJSONOk encodes a successful response envelope.
func EncodeJSONOk(id uint64, value interface{}) ([]byte, error) {
	valJSON, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonResponseOk{ID: id, Value: valJSON})
}

// EncodeJSONErr encodes a failed response envelope.
func EncodeJSONErr(id uint64, apiErr *ApiError) ([]byte, error) {
	return json.Marshal(jsonResponseErr{ID: id, Error: jsonErrorBody{Message: apiErr.Message, Kind: apiErr.Kind}})
}

// DecodeJSONResponse decodes either response shape.
func DecodeJSONResponse(data []byte) (id uint64, value json.RawMessage, apiErr *ApiError, err error) {
	var probe struct {
		ID    uint64          `json:"id"`
		Value json.RawMessage `json:"value"`
		Error *jsonErrorBody  `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, nil, nil, err
	}
	if probe.Error != nil {
		return probe.ID, nil, &ApiError{Kind: probe.Error.Kind, Message: probe.Error.Message}, nil
	}
	return probe.ID, probe.Value, nil, nil
}

// EncodeJSONBroadcast marshals a broadcast as {"_type": name, ...fields}.
func EncodeJSONBroadcast(name string, body interface{}) ([]byte, error) {
	fields, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	merged := map[string]json.RawMessage{}
	if len(fields) > 0 && string(fields) != "null" {
		if err := json.Unmarshal(fields, &merged); err != nil {
			return nil, err
		}
	}
	typeJSON, err := json.Marshal(name)
	if err != nil {
		return nil, err
	}
	merged["_type"] = typeJSON
	return json.Marshal(merged)
}

// EncodeBinaryJSON appends v, JSON-encoded, as the remainder of a
// binary payload. Most command bodies are simple, rarely-hot-path
// structs (population specs, summaries, candidate lists); rather than
// hand-write per-field binary encoders for every one of them, they
// share this single JSON-in-binary-payload encoding. The envelope
// itself, the response framing (status byte + error body), and the
// hot-path commands (CellSet, CellGet, StatusGet, SimRun) use genuine
// field-by-field binary encoding via Writer/Reader and the
// BodyMarshaler/BodyUnmarshaler pair.
func EncodeBinaryJSON(w *Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.buf = append(w.buf, data...)
	return nil
}

// DecodeBinaryJSON decodes the remainder of r's buffer as JSON into out.
func DecodeBinaryJSON(r *Reader, out interface{}) error {
	remaining := r.buf[r.pos:]
	if err := json.Unmarshal(remaining, out); err != nil {
		return err
	}
	r.pos = len(r.buf)
	return nil
}

// DecodeJSONBroadcast extracts the broadcast name and remaining fields.
func DecodeJSONBroadcast(data []byte) (name string, fields json.RawMessage, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", nil, err
	}
	typeRaw, ok := raw["_type"]
	if !ok {
		return "", nil, fmt.Errorf("wire: json broadcast missing %q field", "_type")
	}
	if err := json.Unmarshal(typeRaw, &name); err != nil {
		return "", nil, err
	}
	delete(raw, "_type")
	fields, err = json.Marshal(raw)
	if err != nil {
		return "", nil, err
	}
	return name, fields, nil
}
