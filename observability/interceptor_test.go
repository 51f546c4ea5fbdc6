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

package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/triproto/triproto"
)

func TestNewLoggingInterceptorNilLoggerDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		interceptor := NewLoggingInterceptor(nil)
		next := func(ctx context.Context, req triproto.AnyRequest) (triproto.AnyResponse, error) {
			return nil, nil
		}
		_, _ = interceptor.WrapUnary(next)(context.Background(), triproto.NewRequest(new(int)))
	})
}

func TestLoggingInterceptorWrapUnarySuccess(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	interceptor := NewLoggingInterceptor(zap.New(core))

	next := func(ctx context.Context, req triproto.AnyRequest) (triproto.AnyResponse, error) {
		return triproto.NewResponse(new(int)), nil
	}
	_, err := interceptor.WrapUnary(next)(context.Background(), triproto.NewRequest(new(int)))
	assert.NoError(t, err)

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "unary call completed", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Contains(t, fields, "procedure")
	assert.Contains(t, fields, "duration")
	assert.Contains(t, fields, "code")
	assert.Equal(t, "OK", fields["code"])
}

func TestLoggingInterceptorWrapUnaryFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	interceptor := NewLoggingInterceptor(zap.New(core))

	callErr := triproto.NewError(triproto.CodeNotFound, errors.New("no such widget"))
	next := func(ctx context.Context, req triproto.AnyRequest) (triproto.AnyResponse, error) {
		return nil, callErr
	}
	_, err := interceptor.WrapUnary(next)(context.Background(), triproto.NewRequest(new(int)))
	assert.Equal(t, callErr, err)

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "unary call failed", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "NotFound", fields["code"])
	assert.Contains(t, fields, "error")
	assert.Equal(t, false, fields["from_wire"], "NewError-constructed errors aren't wire-originated")
}

func TestLoggingInterceptorWrapUnaryFailureFromWire(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	interceptor := NewLoggingInterceptor(zap.New(core))

	callErr := triproto.NewWireError(triproto.CodeNotFound, errors.New("no such widget"))
	next := func(ctx context.Context, req triproto.AnyRequest) (triproto.AnyResponse, error) {
		return nil, callErr
	}
	_, err := interceptor.WrapUnary(next)(context.Background(), triproto.NewRequest(new(int)))
	assert.Equal(t, callErr, err)

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, true, fields["from_wire"])
}

// fakeStreamingClientConn is a minimal no-op StreamingClientConn double, just
// enough to let the logging wrapper observe Spec()/CloseResponse().
type fakeStreamingClientConn struct {
	spec     triproto.Spec
	closeErr error
}

func (c *fakeStreamingClientConn) Spec() triproto.Spec         { return c.spec }
func (c *fakeStreamingClientConn) Peer() triproto.Peer         { return triproto.Peer{} }
func (c *fakeStreamingClientConn) Send(any) error               { return nil }
func (c *fakeStreamingClientConn) RequestHeader() http.Header   { return make(http.Header) }
func (c *fakeStreamingClientConn) CloseRequest() error          { return nil }
func (c *fakeStreamingClientConn) Receive(any) error            { return nil }
func (c *fakeStreamingClientConn) ResponseHeader() http.Header  { return make(http.Header) }
func (c *fakeStreamingClientConn) ResponseTrailer() http.Header { return make(http.Header) }
func (c *fakeStreamingClientConn) CloseResponse() error         { return c.closeErr }

func TestLoggingInterceptorWrapStreamingClient(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	interceptor := NewLoggingInterceptor(zap.New(core))

	spec := triproto.Spec{StreamType: triproto.StreamTypeBidi, Procedure: "/acme.foo.v1.FooService/Stream"}
	fake := &fakeStreamingClientConn{spec: spec, closeErr: errors.New("boom")}

	next := func(ctx context.Context, s triproto.Spec) triproto.StreamingClientConn { return fake }
	conn := interceptor.WrapStreamingClient(next)(context.Background(), spec)

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "stream opened", entries[0].Message)

	err := conn.CloseResponse()
	assert.Error(t, err)

	entries = logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, "stream closed", entries[1].Message)
	assert.Contains(t, entries[1].ContextMap(), "duration")
}
