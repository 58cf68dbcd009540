package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// DecodeError reports a payload that is not a well-formed envelope.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return "decode envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

type envelopeWire struct {
	Type    Kind            `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
	Create  json.RawMessage `json:"create,omitempty"`
	Rename  json.RawMessage `json:"rename,omitempty"`
}

type operationWire struct {
	Type OperationKind   `json:"type"`
	File json.RawMessage `json:"file,omitempty"`
	Path json.RawMessage `json:"path,omitempty"`
}

// Encode serializes an envelope to its wire JSON.
func Encode(env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses wire JSON. Any malformed input, unknown tag or tag/payload
// mismatch yields a *DecodeError.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if IsDecodeError(err) {
			return Envelope{}, err
		}
		return Envelope{}, &DecodeError{Reason: "malformed json", Err: err}
	}
	return env, nil
}

// Validate checks that Kind matches exactly one populated variant.
func (e Envelope) Validate() error {
	populated := 0
	for _, set := range []bool{e.Message != nil, e.Create != nil, e.Rename != nil} {
		if set {
			populated++
		}
	}
	if populated != 1 {
		return &DecodeError{Reason: fmt.Sprintf("expected exactly one payload, found %d", populated)}
	}
	// JSON would rewrite invalid bytes as U+FFFD and the envelope would not
	// survive a round trip.
	for _, field := range e.text() {
		if !utf8.ValidString(field) {
			return &DecodeError{Reason: "string fields must be valid UTF-8"}
		}
	}

	switch e.Kind {
	case KindChannelMessage:
		if e.Message == nil {
			return &DecodeError{Reason: "tag ChannelMessage without message payload"}
		}
		if e.Message.ID == "" || e.Message.SendTo.ID == "" {
			return &DecodeError{Reason: "message requires id and recipient channel"}
		}
		return nil
	case KindCreate:
		if e.Create == nil {
			return &DecodeError{Reason: "tag Create without create payload"}
		}
		if e.Create.Previous != nil {
			return &DecodeError{Reason: "create must not carry a previous location"}
		}
		return e.Create.validate()
	case KindRename:
		if e.Rename == nil {
			return &DecodeError{Reason: "tag Rename without rename payload"}
		}
		if e.Rename.Previous == nil {
			return &DecodeError{Reason: "rename requires a previous location"}
		}
		return e.Rename.validate()
	default:
		return &DecodeError{Reason: fmt.Sprintf("unknown envelope tag %q", e.Kind)}
	}
}

// text lists every string the envelope carries.
func (e Envelope) text() []string {
	var out []string
	if m := e.Message; m != nil {
		out = append(out, m.ID, m.Message,
			m.SendTo.ID, m.SendTo.Name, m.SendTo.Description,
			m.SendFrom.ID, m.SendFrom.Name, m.SendFrom.EmailAddress)
		out = append(out, m.SendFrom.Roles...)
	}
	for _, m := range []*SyncMessage{e.Create, e.Rename} {
		if m == nil {
			continue
		}
		out = append(out, string(m.OperationType))
		if f := m.Operation.File; f != nil {
			out = append(out, f.Basename, f.Name, f.Extension, f.Path)
		}
		if p := m.Operation.Path; p != nil {
			out = append(out, p.Basename, p.Name, p.Path)
		}
		if m.Previous != nil {
			out = append(out, m.Previous.Name, m.Previous.Path)
		}
	}
	return out
}

func (m *SyncMessage) validate() error {
	if err := m.Operation.validate(); err != nil {
		return err
	}
	switch m.OperationType {
	case ObjectFile:
		if m.Operation.Kind != OperationFile {
			return &DecodeError{Reason: "operation_type File requires a File operation"}
		}
	case ObjectFolder:
		if m.Operation.Kind != OperationPath {
			return &DecodeError{Reason: "operation_type Folder requires a Path operation"}
		}
	default:
		return &DecodeError{Reason: fmt.Sprintf("unknown operation_type %q", m.OperationType)}
	}
	return nil
}

func (o Operation) validate() error {
	switch o.Kind {
	case OperationFile:
		if o.File == nil || o.Path != nil {
			return &DecodeError{Reason: "tag File requires exactly a file payload"}
		}
	case OperationPath:
		if o.Path == nil || o.File != nil {
			return &DecodeError{Reason: "tag Path requires exactly a path payload"}
		}
	default:
		return &DecodeError{Reason: fmt.Sprintf("unknown operation tag %q", o.Kind)}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	wire := envelopeWire{Type: e.Kind}
	var err error
	switch e.Kind {
	case KindChannelMessage:
		wire.Message, err = json.Marshal(e.Message)
	case KindCreate:
		wire.Create, err = json.Marshal(e.Create)
	case KindRename:
		wire.Rename, err = json.Marshal(e.Rename)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return &DecodeError{Reason: "malformed envelope", Err: err}
	}

	out := Envelope{Kind: wire.Type}
	if present(wire.Message) {
		out.Message = &ChannelMessage{}
		if err := strictUnmarshal(wire.Message, out.Message); err != nil {
			return &DecodeError{Reason: "malformed message payload", Err: err}
		}
	}
	if present(wire.Create) {
		out.Create = &SyncMessage{}
		if err := strictUnmarshal(wire.Create, out.Create); err != nil {
			return wrapDecode("malformed create payload", err)
		}
	}
	if present(wire.Rename) {
		out.Rename = &SyncMessage{}
		if err := strictUnmarshal(wire.Rename, out.Rename); err != nil {
			return wrapDecode("malformed rename payload", err)
		}
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*e = out
	return nil
}

// MarshalJSON implements json.Marshaler.
func (o Operation) MarshalJSON() ([]byte, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	wire := operationWire{Type: o.Kind}
	var err error
	switch o.Kind {
	case OperationFile:
		wire.File, err = json.Marshal(o.File)
	case OperationPath:
		wire.Path, err = json.Marshal(o.Path)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var wire operationWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return &DecodeError{Reason: "malformed operation", Err: err}
	}
	out := Operation{Kind: wire.Type}
	if present(wire.File) {
		out.File = &FileOperation{}
		if err := strictUnmarshal(wire.File, out.File); err != nil {
			return &DecodeError{Reason: "malformed file operation", Err: err}
		}
	}
	if present(wire.Path) {
		out.Path = &PathOperation{}
		if err := strictUnmarshal(wire.Path, out.Path); err != nil {
			return &DecodeError{Reason: "malformed path operation", Err: err}
		}
	}
	if err := out.validate(); err != nil {
		return err
	}
	*o = out
	return nil
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// strictUnmarshal rejects payloads that are not JSON objects.
func strictUnmarshal(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.New("payload is not an object")
	}
	return json.Unmarshal(trimmed, v)
}

func wrapDecode(reason string, err error) error {
	if IsDecodeError(err) {
		return err
	}
	return &DecodeError{Reason: reason, Err: err}
}
