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

package triproto

import (
	"context"
	"io"
	"net/http"
)

// A Client calls a single RPC method, in whichever of the four shapes
// (unary, client-streaming, server-streaming, bidi-streaming) that method
// supports. It's the interface between this engine and the code a protoc
// plugin would generate; most callers won't construct one directly, but
// through a generated stub.
//
// The type parameters match the method's request and response message
// types, so CallUnary and friends are fully typed without a cast at the
// call site.
type Client[Req, Res any] struct {
	httpClient HTTPClient
	url        string
	procedure  string
	config     *clientConfig

	unary     UnaryFunc
	newStream StreamingClientFunc
}

// NewClient constructs a Client for one RPC method. url must be the full,
// method-specific URL (e.g. "https://api.acme.com/acme.foo.v1.Foo/Bar");
// procedure is the fully-qualified protobuf method name generated code
// already knows ("acme.foo.v1.Foo/Bar"), used as Spec.Procedure so
// interceptors can tell calls apart.
func NewClient[Req, Res any](httpClient HTTPClient, url, procedure string, opts ...ClientOption) *Client[Req, Res] {
	config := newClientConfig(opts)
	client := &Client[Req, Res]{
		httpClient: httpClient,
		url:        url,
		procedure:  procedure,
		config:     config,
	}

	protocolStream := func(ctx context.Context, spec Spec) StreamingClientConn {
		params := &clientParams{
			httpClient: client.httpClient,
			url:        client.url,
			spec:       spec,
			config:     client.config,
			header:     make(http.Header),
		}
		return newClientConn(ctx, params)
	}
	protocolUnary := func(ctx context.Context, req AnyRequest) (AnyResponse, error) {
		conn := protocolStream(ctx, req.Spec())
		if err := mergeRequestHeaders(conn.RequestHeader(), req.Header()); err != nil {
			_ = conn.CloseRequest()
			_ = conn.CloseResponse()
			return nil, err
		}
		if err := conn.Send(req.Any()); err != nil {
			_ = conn.CloseRequest()
			return nil, err
		}
		if err := conn.CloseRequest(); err != nil {
			return nil, err
		}
		msg := new(Res)
		if err := conn.Receive(msg); err != nil {
			_ = conn.CloseResponse()
			return nil, err
		}
		// Read on to the end of the response, so trailers (and any error
		// status they carry) are seen before the call is reported.
		if err := conn.Receive(new(Res)); err != io.EOF {
			_ = conn.CloseResponse()
			if err == nil {
				err = errorf(CodeUnknown, "unary response has multiple messages")
			}
			return nil, err
		}
		response := NewResponse(msg)
		mergeHeaders(response.Header(), conn.ResponseHeader())
		mergeHeaders(response.Trailer(), conn.ResponseTrailer())
		return response, conn.CloseResponse()
	}

	client.unary, client.newStream = applyInterceptors(protocolUnary, protocolStream, config.Interceptor)
	return client
}

func (c *Client[Req, Res]) spec(streamType StreamType) Spec {
	return Spec{StreamType: streamType, Procedure: c.procedure, IsClient: true, Idempotent: c.config.Idempotent}
}

func (c *Client[Req, Res]) peer() Peer {
	return newPeerFromURL(c.url, protocolDisplayName(c.config.Protocol))
}

func protocolDisplayName(k protocolKind) string {
	switch k {
	case protocolGRPC:
		return "grpc"
	case protocolGRPCWeb:
		return "grpcweb"
	default:
		return "connect"
	}
}

// withDeadline applies the client's configured WithTimeout, if any, on top
// of whatever deadline ctx already carries. Per WithTimeout's doc, the
// earlier deadline wins, matching context.Context's own composition.
func (c *Client[Req, Res]) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}

// CallUnary performs a single request/response call.
func (c *Client[Req, Res]) CallUnary(ctx context.Context, msg *Req) (*Response[Res], error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	req := NewRequest(msg)
	req.spec = c.spec(StreamTypeUnary)
	req.peer = c.peer()
	anyRes, err := c.unary(ctx, req)
	if err != nil {
		return nil, err
	}
	return anyRes.(*Response[Res]), nil
}

// CallClientStream starts a client-streaming call: the caller sends zero or
// more messages, then calls CloseAndReceive to get the method's single
// response.
func (c *Client[Req, Res]) CallClientStream(ctx context.Context) *ClientStreamForClient[Req, Res] {
	ctx, cancel := c.withDeadline(ctx)
	conn := c.newStream(ctx, c.spec(StreamTypeClient))
	return &ClientStreamForClient[Req, Res]{conn: conn, cancel: cancel}
}

// CallServerStream sends the single request message and returns a
// ServerStreamForClient the caller pulls responses from.
func (c *Client[Req, Res]) CallServerStream(ctx context.Context, msg *Req) (*ServerStreamForClient[Res], error) {
	ctx, cancel := c.withDeadline(ctx)
	conn := c.newStream(ctx, c.spec(StreamTypeServer))
	if err := conn.Send(msg); err != nil {
		cancel()
		return nil, err
	}
	if err := conn.CloseRequest(); err != nil {
		cancel()
		return nil, err
	}
	return &ServerStreamForClient[Res]{conn: conn, cancel: cancel}, nil
}

// CallBidiStream starts a full-duplex call: the caller interleaves Send and
// Receive however the method's semantics require.
func (c *Client[Req, Res]) CallBidiStream(ctx context.Context) *BidiStreamForClient[Req, Res] {
	ctx, cancel := c.withDeadline(ctx)
	conn := c.newStream(ctx, c.spec(StreamTypeBidi))
	return &BidiStreamForClient[Req, Res]{conn: conn, cancel: cancel}
}

// ClientStreamForClient is the caller's view of a client-streaming call.
type ClientStreamForClient[Req, Res any] struct {
	conn   StreamingClientConn
	cancel context.CancelFunc
}

// Send sends one request message. Send may be called any number of times
// before CloseAndReceive.
func (s *ClientStreamForClient[Req, Res]) Send(msg *Req) error {
	if msg == nil {
		return nil
	}
	return s.conn.Send(msg)
}

// RequestHeader returns the headers that will be sent with the request.
// Callers (and interceptors) must set any custom headers before the first
// call to Send.
func (s *ClientStreamForClient[Req, Res]) RequestHeader() http.Header {
	return s.conn.RequestHeader()
}

// CloseAndReceive half-closes the request stream and waits for the method's
// single response.
func (s *ClientStreamForClient[Req, Res]) CloseAndReceive() (*Response[Res], error) {
	defer s.cancel()
	if err := s.conn.CloseRequest(); err != nil {
		return nil, err
	}
	msg := new(Res)
	if err := s.conn.Receive(msg); err != nil {
		return nil, err
	}
	// Read on to the end of the stream, so trailers (and any error status
	// they carry) are seen before the response is returned.
	if err := s.conn.Receive(new(Res)); err != io.EOF {
		_ = s.conn.CloseResponse()
		if err == nil {
			err = errorf(CodeUnknown, "client-streaming response has multiple messages")
		}
		return nil, err
	}
	response := NewResponse(msg)
	mergeHeaders(response.Header(), s.conn.ResponseHeader())
	mergeHeaders(response.Trailer(), s.conn.ResponseTrailer())
	return response, s.conn.CloseResponse()
}

// ServerStreamForClient is the caller's view of a server-streaming call:
// Receive advances to the next message, Msg returns it, and Err reports
// whatever stopped iteration (nil after a clean end-of-stream).
type ServerStreamForClient[Res any] struct {
	conn   StreamingClientConn
	cancel context.CancelFunc
	msg    *Res
	err    error
}

// Receive advances the stream and reports whether a message is available.
// The loop idiom is:
//
//	for stream.Receive() {
//	    handle(stream.Msg())
//	}
//	if err := stream.Err(); err != nil { ... }
func (s *ServerStreamForClient[Res]) Receive() bool {
	if s.err != nil {
		return false
	}
	msg := new(Res)
	if err := s.conn.Receive(msg); err != nil {
		if err != io.EOF {
			s.err = err
		}
		return false
	}
	s.msg = msg
	return true
}

// Msg returns the most recently received message.
func (s *ServerStreamForClient[Res]) Msg() *Res { return s.msg }

// Err returns the error, if any, that ended the stream.
func (s *ServerStreamForClient[Res]) Err() error { return s.err }

// ResponseHeader returns the headers received from the server. It's only
// populated once the first message (or the end of the stream) arrives.
func (s *ServerStreamForClient[Res]) ResponseHeader() http.Header { return s.conn.ResponseHeader() }

// ResponseTrailer returns the trailers received from the server, populated
// once the stream ends.
func (s *ServerStreamForClient[Res]) ResponseTrailer() http.Header { return s.conn.ResponseTrailer() }

// ResponseTrailerMetadata returns the same trailers as a Metadata.
func (s *ServerStreamForClient[Res]) ResponseTrailerMetadata() *Metadata {
	return metadataFromHTTPHeader(s.ResponseTrailer())
}

// Close releases resources held by the stream. Callers should call Close
// once they're done receiving, whether or not Receive ever returned false
// naturally.
func (s *ServerStreamForClient[Res]) Close() error {
	s.cancel()
	return s.conn.CloseResponse()
}

// BidiStreamForClient is the caller's view of a full-duplex call.
type BidiStreamForClient[Req, Res any] struct {
	conn   StreamingClientConn
	cancel context.CancelFunc
}

// Send sends one request message.
func (s *BidiStreamForClient[Req, Res]) Send(msg *Req) error {
	return s.conn.Send(msg)
}

// RequestHeader returns the headers that will be sent with the request.
func (s *BidiStreamForClient[Req, Res]) RequestHeader() http.Header {
	return s.conn.RequestHeader()
}

// CloseRequest half-closes the request side of the stream; the caller may
// continue to Receive responses afterward.
func (s *BidiStreamForClient[Req, Res]) CloseRequest() error {
	return s.conn.CloseRequest()
}

// Receive reads the next response message.
func (s *BidiStreamForClient[Req, Res]) Receive() (*Res, error) {
	msg := new(Res)
	if err := s.conn.Receive(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ResponseHeader returns the headers received from the server.
func (s *BidiStreamForClient[Req, Res]) ResponseHeader() http.Header { return s.conn.ResponseHeader() }

// ResponseTrailer returns the trailers received from the server.
func (s *BidiStreamForClient[Req, Res]) ResponseTrailer() http.Header {
	return s.conn.ResponseTrailer()
}

// ResponseTrailerMetadata returns the same trailers as a Metadata.
func (s *BidiStreamForClient[Req, Res]) ResponseTrailerMetadata() *Metadata {
	return metadataFromHTTPHeader(s.ResponseTrailer())
}

// CloseResponse releases resources held by the response side of the
// stream. Callers should call this once done with the call, including
// after a final Receive has returned io.EOF: Receive itself releases
// nothing.
func (s *BidiStreamForClient[Req, Res]) CloseResponse() error {
	s.cancel()
	return s.conn.CloseResponse()
}
