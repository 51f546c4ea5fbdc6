// Copyright 2021-2024 The Connect Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package triproto is a client-side RPC engine that speaks the Connect,
// gRPC, and gRPC-Web protocols interchangeably over HTTP against a single
// service definition. It implements the interceptor pipeline, envelope
// codec, per-protocol request/response translators, compression layer, and
// unary/bidirectional streaming state machines that generated service stubs
// build on.
package triproto

import (
	"net/http"
	"net/url"
)

// Version is reported in the User-Agent header of every request.
const Version = "0.1.0-dev"

// StreamType describes whether the client, server, neither, or both sides
// of an RPC stream messages.
type StreamType uint8

const (
	StreamTypeUnary  StreamType = 0b00
	StreamTypeClient StreamType = 0b01
	StreamTypeServer StreamType = 0b10
	StreamTypeBidi   StreamType = StreamTypeClient | StreamTypeServer
)

func (t StreamType) String() string {
	switch t {
	case StreamTypeUnary:
		return "unary"
	case StreamTypeClient:
		return "client_streaming"
	case StreamTypeServer:
		return "server_streaming"
	case StreamTypeBidi:
		return "bidi_streaming"
	default:
		return "unknown"
	}
}

// Spec describes a single RPC: its procedure path, the protocol-independent
// streaming shape, and whether it's declared safe to retry idempotently.
type Spec struct {
	StreamType StreamType
	Procedure  string // e.g. "/acme.foo.v1.FooService/Bar"
	IsClient   bool
	Idempotent Idempotency
}

// Idempotency describes what a generated stub knows about an RPC's side
// effects. Only IdempotencyNoSideEffects, combined with WithHTTPGet,
// unlocks the Connect GET transformation.
type Idempotency int8

const (
	IdempotencyUnknown Idempotency = iota
	IdempotencyNoSideEffects
	IdempotencyIdempotent
)

// Peer describes the other party to an RPC.
type Peer struct {
	Addr     string
	Protocol string
}

func newPeerFromURL(rawURL, protocol string) Peer {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Peer{Protocol: protocol}
	}
	return Peer{Addr: u.Host, Protocol: protocol}
}

// HTTPClient is the transport seam the engine consumes. *http.Client
// satisfies it; so does anything else that can round-trip an *http.Request.
// Retry policy, connection pooling, and TLS configuration all live below
// this interface and are explicitly out of scope for the engine.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// AnyRequest is the common method set of every *Request[T], used by unary
// interceptors that don't know (or care about) the concrete message type.
type AnyRequest interface {
	Any() any
	Spec() Spec
	Peer() Peer
	Header() http.Header

	internalOnly()
}

// Request wraps a generated request message with the metadata an
// interceptor or protocol translator needs: headers, the call spec, and the
// resolved peer.
type Request[T any] struct {
	Msg *T

	spec   Spec
	peer   Peer
	header http.Header
}

// NewRequest wraps a generated request message for a unary call.
func NewRequest[T any](message *T) *Request[T] {
	return &Request[T]{Msg: message}
}

func (r *Request[_]) Any() any      { return r.Msg }
func (r *Request[_]) Spec() Spec    { return r.spec }
func (r *Request[_]) Peer() Peer    { return r.peer }
func (r *Request[_]) internalOnly() {}

// Header returns the outgoing HTTP headers for this request, initializing
// them lazily.
func (r *Request[_]) Header() http.Header {
	if r.header == nil {
		r.header = make(http.Header)
	}
	return r.header
}

// AnyResponse is the common method set of every *Response[T].
type AnyResponse interface {
	Any() any
	Header() http.Header
	Trailer() http.Header

	internalOnly()
}

// Response wraps a generated response message together with the headers
// and trailers the peer sent back. "Trailers" here is whatever each
// protocol calls trailing metadata: real HTTP trailers for gRPC, a
// synthesized final envelope for gRPC-Web, or the JSON end-stream object's
// metadata field for Connect streaming.
type Response[T any] struct {
	Msg *T

	header  http.Header
	trailer http.Header
}

// NewResponse wraps a generated response message.
func NewResponse[T any](message *T) *Response[T] {
	return &Response[T]{Msg: message}
}

func (r *Response[_]) Any() any      { return r.Msg }
func (r *Response[_]) internalOnly() {}

func (r *Response[_]) Header() http.Header {
	if r.header == nil {
		r.header = make(http.Header)
	}
	return r.header
}

func (r *Response[_]) Trailer() http.Header {
	if r.trailer == nil {
		r.trailer = make(http.Header)
	}
	return r.trailer
}

// TrailerMetadata returns the response trailer as a Metadata, for callers
// that want case-insensitive lookups and "-bin" helpers instead of raw
// http.Header access.
func (r *Response[_]) TrailerMetadata() *Metadata {
	return metadataFromHTTPHeader(r.Trailer())
}

// StreamingClientConn is the client's view of a bidirectional message
// exchange, as seen by a StreamInterceptor. In order to support
// bidirectional streaming, implementations must support limited
// concurrency: the Send/RequestHeader/CloseRequest group may race with the
// Receive/ResponseHeader/ResponseTrailer/CloseResponse group, but not with
// themselves, and Spec/Peer are always safe to call from either side.
type StreamingClientConn interface {
	Spec() Spec
	Peer() Peer

	Send(any) error
	RequestHeader() http.Header
	CloseRequest() error

	Receive(any) error
	ResponseHeader() http.Header
	ResponseTrailer() http.Header
	CloseResponse() error
}
