package datum

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformed marks payloads that cannot be decoded into a valid Datum.
// Stages treat it as a per-record drop, never as a batch failure.
var ErrMalformed = errors.New("datum: malformed payload")

// Codec converts datums to and from wire payloads.
type Codec interface {
	Name() string
	Encode(d Datum) ([]byte, error)
	Decode(data []byte) (Datum, error)
}

// Codec names accepted by CodecByName.
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case CodecJSON, "":
		return JSONCodec{}, nil
	case CodecCBOR:
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// wireDatum is the on-the-wire shape shared by both codecs.
// Pointer fields distinguish "absent" from zero values.
type wireDatum struct {
	UUID   *string `json:"uuid" cbor:"uuid"`
	Doc    *string `json:"doc" cbor:"doc"`
	Hashes *int64  `json:"hashes" cbor:"hashes"`
	Hash   *string `json:"hash" cbor:"hash"`
}

func toWire(d Datum) wireDatum {
	hashes := int64(d.TargetIterations)
	id, doc := d.ID, d.Document
	return wireDatum{UUID: &id, Doc: &doc, Hashes: &hashes, Hash: d.Digest}
}

func fromWire(w wireDatum) (Datum, error) {
	switch {
	case w.UUID == nil:
		return Datum{}, fmt.Errorf("%w: missing uuid", ErrMalformed)
	case w.Doc == nil:
		return Datum{}, fmt.Errorf("%w: missing doc", ErrMalformed)
	case w.Hashes == nil:
		return Datum{}, fmt.Errorf("%w: missing hashes", ErrMalformed)
	case *w.Hashes < 0 || *w.Hashes > MaxIterations:
		return Datum{}, fmt.Errorf("%w: hashes %d out of range", ErrMalformed, *w.Hashes)
	}

	d := Datum{
		ID:               *w.UUID,
		Document:         *w.Doc,
		TargetIterations: uint16(*w.Hashes),
		Digest:           w.Hash,
	}
	if err := d.Validate(); err != nil {
		return Datum{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return d, nil
}

// JSONCodec encodes datums as JSON objects. An absent digest is written as null.
type JSONCodec struct{}

// Name returns "json".
func (JSONCodec) Name() string { return CodecJSON }

// Encode serializes d. HTML escaping is disabled so documents survive byte for byte.
// Datums that fail Validate are refused.
func (JSONCodec) Encode(d Datum) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("encode datum: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(toWire(d)); err != nil {
		return nil, fmt.Errorf("encode datum %s: %w", d.ID, err)
	}
	// Encoder appends a newline
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses a JSON payload. Any failure wraps ErrMalformed.
// Invalid UTF-8 is rejected rather than replaced, matching CBORCodec.
func (JSONCodec) Decode(data []byte) (Datum, error) {
	if !utf8.Valid(data) {
		return Datum{}, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformed)
	}
	var w wireDatum
	if err := json.Unmarshal(data, &w); err != nil {
		return Datum{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromWire(w)
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("datum: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("datum: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec encodes datums with RFC 8949 core deterministic encoding.
type CBORCodec struct{}

// Name returns "cbor".
func (CBORCodec) Name() string { return CodecCBOR }

// Encode serializes d. Datums that fail Validate are refused.
func (CBORCodec) Encode(d Datum) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("encode datum: %w", err)
	}
	data, err := cborEnc.Marshal(toWire(d))
	if err != nil {
		return nil, fmt.Errorf("encode datum %s: %w", d.ID, err)
	}
	return data, nil
}

// Decode parses a CBOR payload. Any failure wraps ErrMalformed.
func (CBORCodec) Decode(data []byte) (Datum, error) {
	var w wireDatum
	if err := cborDec.Unmarshal(data, &w); err != nil {
		return Datum{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromWire(w)
}
