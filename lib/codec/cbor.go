// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Marshal encodes v with Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, shortest integer forms, no indefinite-length
// items. Equal values always produce identical bytes.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes CBOR data into v. Unknown fields are ignored so
// older workers tolerate newer coordinator payloads.
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// Encoder and Decoder alias the underlying stream types so callers
// import only this package.
type (
	Encoder = cbor.Encoder
	Decoder = cbor.Decoder
)

// RawMessage holds an encoded CBOR item verbatim, for delayed
// decoding or pre-encoded output.
type RawMessage = cbor.RawMessage

// NewEncoder returns a stream encoder writing deterministic CBOR to w.
func NewEncoder(w io.Writer) *Encoder { return encMode.NewEncoder(w) }

// NewDecoder returns a stream decoder reading from r.
func NewDecoder(r io.Reader) *Decoder { return decMode.NewDecoder(r) }

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	options := cbor.CoreDetEncOptions()
	// jobref's ID types carry their value behind TextMarshaler.
	// Encoded as anything but text strings they would flatten to
	// empty maps.
	options.TextMarshaler = cbor.TextMarshalerTextString
	// Step timing needs sub-second precision; the deterministic
	// default of integer Unix seconds would round start and finish
	// times to the second.
	options.Time = cbor.TimeRFC3339Nano
	options.TimeTag = cbor.EncTagRequired
	mode, err := options.EncMode()
	if err != nil {
		panic("codec: building CBOR encode mode: " + err.Error())
	}
	return mode
}

func mustDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{
		// Untyped targets (map[string]any values in artifact
		// properties and the like) must decode to map[string]any, not
		// CBOR's default map[any]any, or they cannot round-trip
		// through encoding/json. Struct fields are unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Mirror of the encode-side text string setting so jobref IDs
		// round-trip through UnmarshalText.
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: building CBOR decode mode: " + err.Error())
	}
	return mode
}
