// Package json is a drop-in subset of encoding/json backed by bytedance/sonic.
// Wire frames are marshalled on every streamed event, so the hot path matters.
package json

import (
	stdjson "encoding/json"
	"io"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
)

// Marshal returns the JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// MarshalIndent returns the indented JSON encoding of v.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return sonic.MarshalIndent(v, prefix, indent)
}

// Unmarshal parses the JSON-encoded data and stores the result in v.
func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return sonic.Valid(data)
}

// Compatibility aliases so callers can keep stdlib signatures.
type (
	// RawMessage is a raw encoded JSON value.
	RawMessage = stdjson.RawMessage

	// Number represents a JSON number literal.
	Number = stdjson.Number

	// Marshaler is implemented by types that marshal themselves.
	Marshaler = stdjson.Marshaler

	// Unmarshaler is implemented by types that unmarshal themselves.
	Unmarshaler = stdjson.Unmarshaler

	// SyntaxError describes a JSON syntax error.
	SyntaxError = stdjson.SyntaxError
)

// Encoder writes JSON values to an output stream.
type Encoder struct {
	enc *encoder.StreamEncoder
}

// NewEncoder returns a new encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: encoder.NewStreamEncoder(w)}
}

// Encode writes the JSON encoding of v to the stream.
func (e *Encoder) Encode(v any) error {
	return e.enc.Encode(v)
}

// SetIndent instructs the encoder to indent each subsequent value.
func (e *Encoder) SetIndent(prefix, indent string) {
	e.enc.SetIndent(prefix, indent)
}

// SetEscapeHTML controls escaping of problematic HTML characters.
func (e *Encoder) SetEscapeHTML(on bool) {
	e.enc.SetEscapeHTML(on)
}

// Decoder reads and decodes JSON values from an input stream.
type Decoder struct {
	dec *decoder.StreamDecoder
}

// NewDecoder returns a new decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: decoder.NewStreamDecoder(r)}
}

// Decode reads the next JSON-encoded value from the input into v.
func (d *Decoder) Decode(v any) error {
	return d.dec.Decode(v)
}

// More reports whether there is another element in the current array or object.
func (d *Decoder) More() bool {
	return d.dec.More()
}

// UseNumber decodes numbers into Number instead of float64.
func (d *Decoder) UseNumber() {
	d.dec.UseNumber()
}
