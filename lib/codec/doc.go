// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Drover's standard CBOR encoding configuration.
//
// All worker↔coordinator exchanges are CBOR bodies over HTTP, and this
// package holds the shared encoding and decoding modes so every
// package encodes identically without duplicating configuration. The
// encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. Same
// logical data always produces identical bytes.
//
// For buffer-oriented operations (request and response bodies):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: the type is ONLY ever serialized as CBOR (internal
//     envelopes that never surface in logs or CLI output).
//   - `json` tag: the type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. The timeline schema types use
//     this convention because they also appear in debug output.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract, and doubling up obscures whether a
// type participates in JSON serialization.
package codec
