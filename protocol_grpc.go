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
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/triproto/triproto/internal/statuspb"
)

// grpcClientConn implements StreamingClientConn for both gRPC and gRPC-Web.
// The two protocols share identical envelope framing and request
// headers apart from Content-Type and TE; they differ only in how trailers
// reach the client — real HTTP trailers for gRPC, a synthesized final
// envelope for gRPC-Web, which is why `web` is the only branch in
// Receive/trailer handling.
type grpcClientConn struct {
	ctx    context.Context
	spec   Spec
	web    bool
	call   *duplexHTTPCall
	writer envelopeWriter
	reader envelopeReader

	compressions *compressionRegistry

	header          http.Header
	responseHeader  http.Header
	responseTrailer http.Header
	recvState       recvState
}

type recvState int

const (
	recvPending recvState = iota
	recvHeaders
	recvMessaging
	recvTerminal
)

func newGRPCClientConn(ctx context.Context, params *clientParams, web bool) *grpcClientConn {
	header := params.header
	if header == nil {
		header = make(http.Header)
	}
	prefix := contentTypeGRPCPrefix
	if web {
		prefix = contentTypeGRPCWebPrefix
	}
	header.Set("Content-Type", prefix+params.config.CodecName)
	header.Set("User-Agent", userAgent())
	if !web {
		header.Set("Te", "trailers")
	}
	acceptNames := params.config.Compressions.names()
	if len(acceptNames) > 0 {
		header.Set("Grpc-Accept-Encoding", strings.Join(acceptNames, ","))
	}
	var sendCompression *envelopeCompression
	if pool := params.config.Compressions.pool(params.config.SendCompressionName); pool != nil {
		header.Set("Grpc-Encoding", pool.name)
		sendCompression = &envelopeCompression{pool: pool, minBytes: params.config.Compressions.requestMinBytes}
	}
	if deadline, ok := ctx.Deadline(); ok {
		if encoded, err := encodeTimeout(timeUntil(deadline)); err == nil {
			header.Set("Grpc-Timeout", encoded)
		}
	}

	call, err := newDuplexHTTPCall(ctx, params.httpClient, http.MethodPost, params.url, header)
	conn := &grpcClientConn{
		ctx:          ctx,
		spec:         params.spec,
		web:          web,
		compressions: params.config.Compressions,
		header:       header,
		writer: envelopeWriter{
			codec:        params.config.Codec,
			compression:  sendCompression,
			sendMaxBytes: params.config.SendMaxBytes,
		},
		reader: envelopeReader{codec: params.config.Codec, readMaxBytes: params.config.ReadMaxBytes},
	}
	if err != nil {
		conn.call = failedDuplexCall(err)
		return conn
	}
	call.SetValidateResponse(conn.validateResponse)
	conn.call = call
	return conn
}

func (c *grpcClientConn) validateResponse(resp *http.Response) *Error {
	c.responseHeader = resp.Header
	if resp.StatusCode != http.StatusOK {
		if status := c.statusFromHeader(resp.Header); status != nil {
			return status
		}
		return errorf(codeFromHTTP(resp.StatusCode), "HTTP status %v", resp.Status)
	}
	compression := resp.Header.Get("Grpc-Encoding")
	if compression != "" && compression != compressionIdentity && c.compressions.pool(compression) == nil {
		return errorf(CodeInternal, "unknown grpc-encoding %q in response", compression)
	}
	return nil
}

func (c *grpcClientConn) Spec() Spec { return c.spec }
func (c *grpcClientConn) Peer() Peer {
	if c.call.request == nil {
		return newPeerFromURL("", c.protocolName())
	}
	return newPeerFromURL(c.call.request.URL.String(), c.protocolName())
}

func (c *grpcClientConn) protocolName() string {
	if c.web {
		return "grpcweb"
	}
	return "grpc"
}

func (c *grpcClientConn) RequestHeader() http.Header { return c.header }

func (c *grpcClientConn) Send(msg any) error {
	frame, err := c.writer.Marshal(msg)
	if err != nil {
		return err
	}
	return c.call.Send(frame)
}

func (c *grpcClientConn) CloseRequest() error {
	return c.call.CloseSend()
}

func (c *grpcClientConn) Receive(msg any) error {
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
	body := resp.Body
	flags, frame, err := readOneEnvelope(body)
	if err != nil {
		if err == io.EOF {
			return c.finishGRPC(resp)
		}
		c.recvState = recvTerminal
		return errorf(CodeUnknown, "corrupt envelope: %w", err)
	}
	if c.web && isEndStreamEnvelope(flags) {
		return c.finishGRPCWeb(frame)
	}
	payload := frame
	if flags&flagCompressed != 0 {
		encoding := resp.Header.Get("Grpc-Encoding")
		pool := c.compressions.pool(encoding)
		if pool == nil {
			c.recvState = recvTerminal
			return errorf(CodeInternal, "compressed message but unknown grpc-encoding %q", encoding)
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

// finishGRPC is called once readOneEnvelope reports a clean EOF on the
// response body: real HTTP trailers (populated by net/http only after the
// body is fully drained) now hold the final status.
func (c *grpcClientConn) finishGRPC(resp *http.Response) error {
	c.recvState = recvTerminal
	c.responseTrailer = resp.Trailer
	if status := c.statusFromHeader(resp.Trailer); status != nil {
		return status
	}
	return io.EOF
}

// finishGRPCWeb is called when the terminal, high-bit-flagged envelope
// arrives: its payload is an HTTP/1.1-style header block carrying
// the synthesized trailers, since gRPC-Web has no real HTTP trailers to
// read.
func (c *grpcClientConn) finishGRPCWeb(payload []byte) error {
	c.recvState = recvTerminal
	trailer, err := parseGRPCWebTrailerBlock(payload)
	if err != nil {
		return errorf(CodeUnknown, "corrupt gRPC-Web trailer block: %w", err)
	}
	c.responseTrailer = trailer
	if status := c.statusFromHeader(trailer); status != nil {
		return status
	}
	return io.EOF
}

func (c *grpcClientConn) statusFromHeader(h http.Header) *Error {
	codeHeader := h.Get("Grpc-Status")
	if codeHeader == "" || codeHeader == "0" {
		return nil
	}
	code, err := strconv.ParseUint(codeHeader, 10, 32)
	if err != nil {
		return errorf(CodeUnknown, "invalid grpc-status %q", codeHeader)
	}
	message := percentDecode(h.Get("Grpc-Message"))
	connectErr := NewWireError(Code(code), errors.New(message))
	if detailsEncoded := h.Get("Grpc-Status-Details-Bin"); detailsEncoded != "" {
		if raw, err := decodeBinaryHeader(detailsEncoded); err == nil {
			var status statuspb.Status
			if status.Unmarshal(raw) == nil {
				// Prefer the protobuf-encoded status to the plain-text
				// headers, matching grpc-go's own behavior.
				connectErr = NewWireError(Code(status.Code), errors.New(status.Message))
				details := make([]*ErrorDetail, len(status.Details))
				for i, detail := range status.Details {
					details[i] = newErrorDetailFromAny(detail)
				}
				connectErr.setDetails(details)
			}
		}
	}
	for k, v := range h {
		connectErr.Meta()[k] = v
	}
	return connectErr
}

func (c *grpcClientConn) ResponseHeader() http.Header {
	if c.responseHeader == nil {
		return make(http.Header)
	}
	return c.responseHeader
}

func (c *grpcClientConn) ResponseTrailer() http.Header {
	if c.responseTrailer == nil {
		return make(http.Header)
	}
	return c.responseTrailer
}

func (c *grpcClientConn) CloseResponse() error {
	resp, err := c.call.BlockUntilResponseReady()
	if err != nil {
		return nil //nolint:nilerr // nothing to close
	}
	discardBody(resp.Body)
	return resp.Body.Close()
}

// parseGRPCWebTrailerBlock parses the HTTP/1.1-style header block gRPC-Web
// uses for its synthesized trailers:
//
//	key: v1, v2\r\n
//	key2: v3\r\n
//
// Keys are matched case-insensitively and stored in http.Header's canonical
// form (e.g. "Grpc-Status"); values are split on ',' with a single leading
// space stripped.
func parseGRPCWebTrailerBlock(payload []byte) (http.Header, error) {
	trailer := make(http.Header)
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, errors.New("malformed trailer line: " + line)
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		rawValues := strings.Split(line[idx+1:], ",")
		for _, v := range rawValues {
			v = strings.TrimPrefix(v, " ")
			trailer.Add(key, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return trailer, nil
}

func discardBody(r io.Reader) {
	lr := &io.LimitedReader{R: r, N: 4 << 20}
	_, _ = io.Copy(io.Discard, lr)
}
