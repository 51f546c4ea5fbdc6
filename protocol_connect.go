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
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/protobuf/types/known/anypb"
)

const connectProtocolVersion = "1"

// connectWireError is the JSON shape Connect unary and streaming both use to
// report a failed call: unary as the whole response body on a non-200
// status, streaming as the "error" field of the end-stream message.
type connectWireError struct {
	Code    string              `json:"code"`
	Message string              `json:"message,omitempty"`
	Details []connectWireDetail `json:"details,omitempty"`
}

type connectWireDetail struct {
	Type  string `json:"type"`
	Value string `json:"value"` // base64-encoded protobuf bytes
}

func (e *Error) toWireError() *connectWireError {
	wire := &connectWireError{Code: connectCodeString(e.Code()), Message: e.Message()}
	for _, d := range e.Details() {
		wire.Details = append(wire.Details, connectWireDetail{
			Type:  d.Type(),
			Value: base64.StdEncoding.EncodeToString(d.Bytes()),
		})
	}
	return wire
}

func connectErrorFromWire(wire *connectWireError) *Error {
	code, ok := connectCodeFromString(wire.Code)
	if !ok {
		code = CodeUnknown
	}
	connectErr := NewWireError(code, errors.New(wire.Message))
	var details []*ErrorDetail
	for _, d := range wire.Details {
		value, err := base64.StdEncoding.DecodeString(d.Value)
		if err != nil {
			continue
		}
		details = append(details, newErrorDetailFromAny(&anypb.Any{TypeUrl: "type.googleapis.com/" + d.Type, Value: value}))
	}
	connectErr.setDetails(details)
	return connectErr
}

// connectEndStreamMessage is the JSON object a Connect stream sends as the
// payload of its final, connectFlagEndStream-flagged frame: there is no
// such thing as an HTTP trailer in this protocol, so trailers and any
// terminal error are smuggled into this one value instead.
type connectEndStreamMessage struct {
	Error    *connectWireError   `json:"error,omitempty"`
	Metadata map[string][]string `json:"metadata,omitempty"`
}

// Connect-specific header names. headerConnectAcceptEncoding/
// headerConnectContentEncoding name the headers Connect streaming uses for
// negotiated compression. They're
// distinct from the plain Content-Encoding/Accept-Encoding pair unary calls
// use, because a streaming body's compression applies per envelope, not to
// the HTTP body as a whole.
const (
	headerConnectProtocolVersion = "Connect-Protocol-Version"
	headerConnectTimeoutMs       = "Connect-Timeout-Ms"
	headerConnectContentEncoding = "Connect-Content-Encoding"
	headerConnectAcceptEncoding  = "Connect-Accept-Encoding"
)

// connectUnaryClientConn implements StreamingClientConn for a single
// request/response Connect call. Unlike gRPC and Connect streaming, the
// unary wire format has no envelope: the HTTP body is exactly one
// (optionally whole-body-compressed) serialized message.
type connectUnaryClientConn struct {
	ctx    context.Context
	spec   Spec
	config *clientConfig
	call   *duplexHTTPCall

	header          http.Header
	responseHeader  http.Header
	responseTrailer http.Header

	sendCompression *compressionPool
	useGET          bool
	sent            bool
	received        bool
}

func newConnectUnaryClientConn(ctx context.Context, params *clientParams) *connectUnaryClientConn {
	header := params.header
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Type", contentTypeConnectUnaryPrefix+params.config.CodecName)
	header.Set("User-Agent", userAgent())
	header.Set(headerConnectProtocolVersion, connectProtocolVersion)
	if names := params.config.Compressions.names(); len(names) > 0 {
		header.Set("Accept-Encoding", strings.Join(names, ","))
	}
	var sendPool *compressionPool
	if pool := params.config.Compressions.pool(params.config.SendCompressionName); pool != nil {
		sendPool = pool
	}
	if deadline, ok := ctx.Deadline(); ok {
		header.Set(headerConnectTimeoutMs, encodeTimeoutMs(timeUntil(deadline)))
	}

	conn := &connectUnaryClientConn{
		ctx:             ctx,
		spec:            params.spec,
		config:          params.config,
		header:          header,
		sendCompression: sendPool,
	}

	// The GET transformation needs the marshaled message before it knows the
	// final request URL (the message becomes a query parameter), so the
	// initial request is always built as a POST; Send swaps it out for a GET
	// if useGET is set, once the message is in hand.
	conn.useGET = params.config.EnableGet && params.config.Idempotent == IdempotencyNoSideEffects

	call, err := newDuplexHTTPCall(ctx, params.httpClient, http.MethodPost, params.url, header)
	if err != nil {
		conn.call = failedDuplexCall(err)
		return conn
	}
	call.SetValidateResponse(conn.validateResponse)
	conn.call = call
	return conn
}

func (c *connectUnaryClientConn) Spec() Spec { return c.spec }
func (c *connectUnaryClientConn) Peer() Peer {
	if c.call.request == nil {
		return newPeerFromURL("", "connect")
	}
	return newPeerFromURL(c.call.request.URL.String(), "connect")
}
func (c *connectUnaryClientConn) RequestHeader() http.Header { return c.header }

func (c *connectUnaryClientConn) Send(msg any) error {
	if c.sent {
		return errorf(CodeInternal, "unary call already sent a message")
	}
	c.sent = true
	data, err := c.config.Codec.Marshal(msg)
	if err != nil {
		return errorf(CodeInternal, "marshal message: %w", err)
	}
	compressed := false
	if c.sendCompression != nil && len(data) >= c.config.Compressions.requestMinBytes {
		out, err := c.sendCompression.compress(data)
		if err != nil {
			return err
		}
		data = out
		compressed = true
	}
	if c.useGET {
		return c.sendAsGET(data, compressed)
	}
	if compressed {
		c.call.request.Header.Set("Content-Encoding", c.sendCompression.name)
	}
	if err := c.call.Send(data); err != nil {
		return err
	}
	return c.call.CloseSend()
}

// sendAsGET rebuilds the pending request as an HTTP GET with the message
// encoded into the query string, for idempotent unary calls that opt into
// the GET transformation: base64url message, explicit
// encoding/compression/connect version, and base64=1 so servers know to
// base64-decode the message parameter.
func (c *connectUnaryClientConn) sendAsGET(data []byte, compressed bool) error {
	parsed, err := url.Parse(c.call.request.URL.String())
	if err != nil {
		return errorf(CodeInternal, "parse request URL: %w", err)
	}
	q := parsed.Query()
	q.Set("connect", "v"+connectProtocolVersion)
	q.Set("encoding", c.config.CodecName)
	q.Set("base64", "1")
	q.Set("message", base64.RawURLEncoding.EncodeToString(data))
	if compressed {
		q.Set("compression", c.sendCompression.name)
	}
	parsed.RawQuery = q.Encode()

	header := c.header.Clone()
	header.Del("Content-Type")
	header.Set("get-request", "true")
	header.Del("Content-Encoding")

	call, err := newDuplexHTTPCall(c.ctx, c.call.client, http.MethodGet, parsed.String(), header)
	if err != nil {
		return errorf(CodeInternal, "build GET request: %w", err)
	}
	call.SetValidateResponse(c.validateResponse)
	c.call = call
	return c.call.CloseSend()
}

func (c *connectUnaryClientConn) CloseRequest() error {
	return nil
}

func (c *connectUnaryClientConn) validateResponse(resp *http.Response) *Error {
	c.responseHeader = resp.Header
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		var wire connectWireError
		if len(body) > 0 && json.Unmarshal(body, &wire) == nil && wire.Code != "" {
			err := connectErrorFromWire(&wire)
			mergeHeaders(err.Meta(), resp.Header)
			return err
		}
		return errorf(codeFromHTTP(resp.StatusCode), "HTTP status %v", resp.Status)
	}
	return nil
}

func (c *connectUnaryClientConn) Receive(msg any) error {
	if c.received {
		return io.EOF
	}
	c.received = true
	resp, err := c.call.BlockUntilResponseReady()
	if err != nil {
		return err
	}
	c.responseHeader = resp.Header
	c.responseTrailer = make(http.Header)
	// Any response header prefixed "Trailer-" is a unary "trailer" per the
	// Connect unary wire format, which has no true HTTP trailers to lean on.
	for key, values := range resp.Header {
		const prefix = "Trailer-"
		if strings.HasPrefix(key, prefix) {
			c.responseTrailer[key[len(prefix):]] = values
		}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrap(CodeUnavailable, err)
	}
	if encoding := resp.Header.Get("Content-Encoding"); encoding != "" && encoding != compressionIdentity {
		pool := c.config.Compressions.pool(encoding)
		if pool == nil {
			return errorf(CodeInternal, "unknown Content-Encoding %q in response", encoding)
		}
		body, err = pool.decompress(body, c.config.ReadMaxBytes)
		if err != nil {
			return err
		}
	}
	if err := c.config.Codec.Unmarshal(body, msg); err != nil {
		return errorf(CodeInvalidArgument, "unmarshal response: %w", err)
	}
	return nil
}

func (c *connectUnaryClientConn) ResponseHeader() http.Header {
	if c.responseHeader == nil {
		return make(http.Header)
	}
	return c.responseHeader
}

func (c *connectUnaryClientConn) ResponseTrailer() http.Header {
	if c.responseTrailer == nil {
		return make(http.Header)
	}
	return c.responseTrailer
}

func (c *connectUnaryClientConn) CloseResponse() error {
	resp, err := c.call.BlockUntilResponseReady()
	if err != nil {
		return nil //nolint:nilerr // nothing to close
	}
	discardBody(resp.Body)
	return resp.Body.Close()
}

// connectStreamClientConn implements StreamingClientConn for Connect's
// streaming variants (client/server/bidi), which unlike unary calls use the
// same length-prefixed envelope framing as gRPC, plus a synthesized final
// frame carrying trailers and any terminal error as a JSON object.
type connectStreamClientConn struct {
	ctx    context.Context
	spec   Spec
	config *clientConfig
	call   *duplexHTTPCall

	writer envelopeWriter
	reader envelopeReader

	header          http.Header
	responseHeader  http.Header
	responseTrailer http.Header
	recvState       recvState
}

func newConnectStreamClientConn(ctx context.Context, params *clientParams) *connectStreamClientConn {
	header := params.header
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Type", contentTypeConnectStreamPrefix+params.config.CodecName)
	header.Set("User-Agent", userAgent())
	header.Set(headerConnectProtocolVersion, connectProtocolVersion)
	if names := params.config.Compressions.names(); len(names) > 0 {
		header.Set(headerConnectAcceptEncoding, strings.Join(names, ","))
	}
	var sendCompression *envelopeCompression
	if pool := params.config.Compressions.pool(params.config.SendCompressionName); pool != nil {
		header.Set(headerConnectContentEncoding, pool.name)
		sendCompression = &envelopeCompression{pool: pool, minBytes: params.config.Compressions.requestMinBytes}
	}
	if deadline, ok := ctx.Deadline(); ok {
		header.Set(headerConnectTimeoutMs, encodeTimeoutMs(timeUntil(deadline)))
	}

	conn := &connectStreamClientConn{
		ctx:    ctx,
		spec:   params.spec,
		config: params.config,
		header: header,
		writer: envelopeWriter{
			codec:        params.config.Codec,
			compression:  sendCompression,
			sendMaxBytes: params.config.SendMaxBytes,
		},
		reader: envelopeReader{codec: params.config.Codec, readMaxBytes: params.config.ReadMaxBytes},
	}
	call, err := newDuplexHTTPCall(ctx, params.httpClient, http.MethodPost, params.url, header)
	if err != nil {
		conn.call = failedDuplexCall(err)
		return conn
	}
	call.SetValidateResponse(conn.validateResponse)
	conn.call = call
	return conn
}

func (c *connectStreamClientConn) validateResponse(resp *http.Response) *Error {
	c.responseHeader = resp.Header
	if resp.StatusCode != http.StatusOK {
		return errorf(codeFromHTTP(resp.StatusCode), "HTTP status %v", resp.Status)
	}
	encoding := resp.Header.Get(headerConnectContentEncoding)
	if encoding != "" && encoding != compressionIdentity && c.config.Compressions.pool(encoding) == nil {
		return errorf(CodeInternal, "unknown %s %q in response", headerConnectContentEncoding, encoding)
	}
	return nil
}

func (c *connectStreamClientConn) Spec() Spec { return c.spec }
func (c *connectStreamClientConn) Peer() Peer {
	if c.call.request == nil {
		return newPeerFromURL("", "connect")
	}
	return newPeerFromURL(c.call.request.URL.String(), "connect")
}
func (c *connectStreamClientConn) RequestHeader() http.Header { return c.header }

func (c *connectStreamClientConn) Send(msg any) error {
	frame, err := c.writer.Marshal(msg)
	if err != nil {
		return err
	}
	return c.call.Send(frame)
}

func (c *connectStreamClientConn) CloseRequest() error {
	return c.call.CloseSend()
}

func (c *connectStreamClientConn) Receive(msg any) error {
	resp, err := c.call.BlockUntilResponseReady()
	if err != nil {
		return err
	}
	if c.recvState == recvPending {
		c.recvState = recvHeaders
		c.responseHeader = resp.Header
	}
	if c.recvState == recvTerminal {
		return io.EOF
	}
	flags, frame, err := readOneEnvelope(resp.Body)
	if err != nil {
		if err == io.EOF {
			c.recvState = recvTerminal
			return errorf(CodeInternal, "stream ended without an end-stream message")
		}
		c.recvState = recvTerminal
		return errorf(CodeUnknown, "corrupt envelope: %w", err)
	}
	if isConnectEndStreamEnvelope(flags) {
		return c.finishStream(resp.Header, frame)
	}
	payload := frame
	if flags&flagCompressed != 0 {
		encoding := resp.Header.Get(headerConnectContentEncoding)
		pool := c.config.Compressions.pool(encoding)
		if pool == nil {
			c.recvState = recvTerminal
			return errorf(CodeInternal, "compressed message but no %s negotiated", headerConnectContentEncoding)
		}
		payload, err = pool.decompress(frame, c.reader.readMaxBytes)
		if err != nil {
			c.recvState = recvTerminal
			return err
		}
	}
	c.recvState = recvMessaging
	return c.reader.Unmarshal(payload, msg)
}

// finishStream parses the synthesized end-stream JSON object (the payload
// of the connectFlagEndStream frame) into trailer metadata and, if present,
// a terminal error.
func (c *connectStreamClientConn) finishStream(respHeader http.Header, payload []byte) error {
	c.recvState = recvTerminal
	var end connectEndStreamMessage
	if err := json.Unmarshal(payload, &end); err != nil {
		return errorf(CodeInternal, "corrupt end-stream message: %w", err)
	}
	trailer := make(http.Header, len(end.Metadata))
	for k, values := range end.Metadata {
		trailer[http.CanonicalHeaderKey(k)] = values
	}
	c.responseTrailer = trailer
	if end.Error != nil {
		err := connectErrorFromWire(end.Error)
		mergeHeaders(err.Meta(), trailer)
		return err
	}
	return io.EOF
}

func (c *connectStreamClientConn) ResponseHeader() http.Header {
	if c.responseHeader == nil {
		return make(http.Header)
	}
	return c.responseHeader
}

func (c *connectStreamClientConn) ResponseTrailer() http.Header {
	if c.responseTrailer == nil {
		return make(http.Header)
	}
	return c.responseTrailer
}

func (c *connectStreamClientConn) CloseResponse() error {
	resp, err := c.call.BlockUntilResponseReady()
	if err != nil {
		return nil //nolint:nilerr // nothing to close
	}
	discardBody(resp.Body)
	return resp.Body.Close()
}
