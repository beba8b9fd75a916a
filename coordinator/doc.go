// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinator is the HTTP client for the Drover coordinator.
//
// The wire protocol is CBOR over HTTP: request and response bodies
// are CBOR (lib/codec's deterministic encoding), authenticated with a
// bearer token read once from a file at client construction. Upload
// endpoints are the exception: they carry raw bytes, with metadata in
// headers.
//
// Every operation here is idempotent at the record or key level.
// Timeline record updates merge by record ID, log creation is keyed
// by path, and container uploads replace by item path, so the
// delivery layer may safely re-send after partial failures without
// coordinating with the server.
//
// Errors: a non-2xx response decodes into [ServiceError] carrying the
// operation name, HTTP status, and the server's message. Transport
// and encoding failures are returned as plain wrapped errors.
package coordinator
