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
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// roundTripFunc adapts a function to the HTTPClient interface, standing in
// for a real transport in these tests.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// drainBody reads and discards a request body so the duplexHTTPCall's pipe
// writer (running on the calling goroutine) never blocks waiting for a
// reader that never shows up.
func drainBody(req *http.Request) []byte {
	if req.Body == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func packGRPCWebEndStreamFrame(trailerBlock string) []byte {
	payload := []byte(trailerBlock)
	out := make([]byte, envelopePrefixLength+len(payload))
	out[0] = flagEnvelopeEndStream
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[5:], payload)
	return out
}

func packConnectEndStreamFrame(t *testing.T, json string) []byte {
	t.Helper()
	payload := []byte(json)
	out := make([]byte, envelopePrefixLength+len(payload))
	out[0] = connectFlagEndStream
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[5:], payload)
	return out
}

func TestClientCallUnaryGRPCSuccess(t *testing.T) {
	reply := &wrapperspb.StringValue{Value: "pong"}
	data, err := proto.Marshal(reply)
	assert.NoError(t, err)
	frame, err := packEnvelope(data, nil)
	assert.NoError(t, err)

	httpClient := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		drainBody(req)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/grpc+proto"}},
			Body:       io.NopCloser(bytes.NewReader(frame)),
			Trailer:    http.Header{"Grpc-Status": {"0"}},
		}, nil
	})

	client := NewClient[wrapperspb.StringValue, wrapperspb.StringValue](httpClient, "https://api.acme.test/acme.Ping/Call", "acme.Ping/Call", WithGRPC())
	res, err := client.CallUnary(context.Background(), &wrapperspb.StringValue{Value: "ping"})
	assert.NoError(t, err)
	assert.Equal(t, "pong", res.Msg.Value)
}

func TestClientCallUnaryGRPCError(t *testing.T) {
	httpClient := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		drainBody(req)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/grpc+proto"}},
			Body:       io.NopCloser(bytes.NewReader(nil)),
			Trailer: http.Header{
				"Grpc-Status":  {"5"},
				"Grpc-Message": {percentEncode("no such widget")},
			},
		}, nil
	})

	client := NewClient[wrapperspb.StringValue, wrapperspb.StringValue](httpClient, "https://api.acme.test/acme.Ping/Call", "acme.Ping/Call", WithGRPC())
	_, err := client.CallUnary(context.Background(), &wrapperspb.StringValue{Value: "ping"})
	assert.Error(t, err)
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Contains(t, err.Error(), "no such widget")
}

func TestClientCallUnaryGRPCWebSuccess(t *testing.T) {
	reply := &wrapperspb.StringValue{Value: "pong-web"}
	data, err := proto.Marshal(reply)
	assert.NoError(t, err)
	dataFrame, err := packEnvelope(data, nil)
	assert.NoError(t, err)
	endFrame := packGRPCWebEndStreamFrame("grpc-status: 0\r\n")

	var body bytes.Buffer
	body.Write(dataFrame)
	body.Write(endFrame)

	httpClient := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		drainBody(req)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/grpc-web+proto"}},
			Body:       io.NopCloser(bytes.NewReader(body.Bytes())),
		}, nil
	})

	client := NewClient[wrapperspb.StringValue, wrapperspb.StringValue](httpClient, "https://api.acme.test/acme.Ping/Call", "acme.Ping/Call", WithGRPCWeb())
	res, err := client.CallUnary(context.Background(), &wrapperspb.StringValue{Value: "ping"})
	assert.NoError(t, err)
	assert.Equal(t, "pong-web", res.Msg.Value)
}

func TestClientCallUnaryGRPCWebError(t *testing.T) {
	endFrame := packGRPCWebEndStreamFrame("grpc-status: 7\r\ngrpc-message: permission denied\r\n")

	httpClient := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		drainBody(req)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/grpc-web+proto"}},
			Body:       io.NopCloser(bytes.NewReader(endFrame)),
		}, nil
	})

	client := NewClient[wrapperspb.StringValue, wrapperspb.StringValue](httpClient, "https://api.acme.test/acme.Ping/Call", "acme.Ping/Call", WithGRPCWeb())
	_, err := client.CallUnary(context.Background(), &wrapperspb.StringValue{Value: "ping"})
	assert.Error(t, err)
	assert.Equal(t, CodePermissionDenied, CodeOf(err))
}

func TestClientCallUnaryConnectSuccess(t *testing.T) {
	reply := &wrapperspb.StringValue{Value: "pong-connect"}
	data, err := proto.Marshal(reply)
	assert.NoError(t, err)

	httpClient := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		drainBody(req)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/proto"}},
			Body:       io.NopCloser(bytes.NewReader(data)),
		}, nil
	})

	client := NewClient[wrapperspb.StringValue, wrapperspb.StringValue](httpClient, "https://api.acme.test/acme.Ping/Call", "acme.Ping/Call")
	res, err := client.CallUnary(context.Background(), &wrapperspb.StringValue{Value: "ping"})
	assert.NoError(t, err)
	assert.Equal(t, "pong-connect", res.Msg.Value)
}

func TestClientCallUnaryConnectError(t *testing.T) {
	wireBody, err := json.Marshal(NewError(CodeNotFound, errors.New("no such widget")).toWireError())
	assert.NoError(t, err)

	httpClient := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		drainBody(req)
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       io.NopCloser(bytes.NewReader(wireBody)),
		}, nil
	})

	client := NewClient[wrapperspb.StringValue, wrapperspb.StringValue](httpClient, "https://api.acme.test/acme.Ping/Call", "acme.Ping/Call")
	_, callErr := client.CallUnary(context.Background(), &wrapperspb.StringValue{Value: "ping"})
	assert.Error(t, callErr)
	assert.Equal(t, CodeNotFound, CodeOf(callErr))
	assert.Contains(t, callErr.Error(), "no such widget")
}

func TestClientCallServerStreamGRPC(t *testing.T) {
	first, err := proto.Marshal(&wrapperspb.StringValue{Value: "one"})
	assert.NoError(t, err)
	second, err := proto.Marshal(&wrapperspb.StringValue{Value: "two"})
	assert.NoError(t, err)
	firstFrame, err := packEnvelope(first, nil)
	assert.NoError(t, err)
	secondFrame, err := packEnvelope(second, nil)
	assert.NoError(t, err)

	var body bytes.Buffer
	body.Write(firstFrame)
	body.Write(secondFrame)

	httpClient := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		drainBody(req)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/grpc+proto"}},
			Body:       io.NopCloser(bytes.NewReader(body.Bytes())),
			Trailer:    http.Header{"Grpc-Status": {"0"}},
		}, nil
	})

	client := NewClient[wrapperspb.StringValue, wrapperspb.StringValue](httpClient, "https://api.acme.test/acme.Ping/Stream", "acme.Ping/Stream", WithGRPC())
	stream, err := client.CallServerStream(context.Background(), &wrapperspb.StringValue{Value: "req"})
	assert.NoError(t, err)

	var values []string
	for stream.Receive() {
		values = append(values, stream.Msg().Value)
	}
	assert.NoError(t, stream.Err())
	assert.Equal(t, []string{"one", "two"}, values)
	assert.NoError(t, stream.Close())
}

func TestClientCallClientStreamConnect(t *testing.T) {
	reply := &wrapperspb.StringValue{Value: "summed"}
	replyData, err := proto.Marshal(reply)
	assert.NoError(t, err)
	replyFrame, err := packEnvelope(replyData, nil)
	assert.NoError(t, err)
	endFrame := packConnectEndStreamFrame(t, `{}`)

	var body bytes.Buffer
	body.Write(replyFrame)
	body.Write(endFrame)

	httpClient := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		drainBody(req)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/connect+proto"}},
			Body:       io.NopCloser(bytes.NewReader(body.Bytes())),
		}, nil
	})

	client := NewClient[wrapperspb.StringValue, wrapperspb.StringValue](httpClient, "https://api.acme.test/acme.Ping/Sum", "acme.Ping/Sum")
	stream := client.CallClientStream(context.Background())
	assert.NoError(t, stream.Send(&wrapperspb.StringValue{Value: "a"}))
	assert.NoError(t, stream.Send(&wrapperspb.StringValue{Value: "b"}))

	res, err := stream.CloseAndReceive()
	assert.NoError(t, err)
	assert.Equal(t, "summed", res.Msg.Value)
}

func TestClientCallUnaryConnectJSONCodec(t *testing.T) {
	jsonCodec, ok := codecForName(codecNameJSON)
	assert.True(t, ok)
	reply := &wrapperspb.StringValue{Value: "pong-json"}
	data, err := jsonCodec.Marshal(reply)
	assert.NoError(t, err)

	var gotContentType string
	httpClient := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		gotContentType = req.Header.Get("Content-Type")
		drainBody(req)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       io.NopCloser(bytes.NewReader(data)),
		}, nil
	})

	client := NewClient[wrapperspb.StringValue, wrapperspb.StringValue](
		httpClient, "https://api.acme.test/acme.Ping/Call", "acme.Ping/Call",
		WithProtoJSON(),
	)
	res, err := client.CallUnary(context.Background(), &wrapperspb.StringValue{Value: "ping"})
	assert.NoError(t, err)
	assert.Equal(t, "pong-json", res.Msg.Value)
	assert.Equal(t, "application/json", gotContentType)
}

func TestClientCallUnaryRejectsInvalidRequestHeader(t *testing.T) {
	httpClient := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatal("transport should never be reached for an invalid header")
		return nil, nil
	})

	badHeaderInterceptor := UnaryInterceptorFunc(func(next UnaryFunc) UnaryFunc {
		return func(ctx context.Context, req AnyRequest) (AnyResponse, error) {
			req.Header().Set("bad header", "value")
			return next(ctx, req)
		}
	})

	client := NewClient[wrapperspb.StringValue, wrapperspb.StringValue](
		httpClient, "https://api.acme.test/acme.Ping/Call", "acme.Ping/Call",
		WithInterceptors(badHeaderInterceptor),
	)
	_, err := client.CallUnary(context.Background(), &wrapperspb.StringValue{Value: "ping"})
	assert.Error(t, err)
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))
}

func TestClientCallUnaryAppliesInterceptor(t *testing.T) {
	reply := &wrapperspb.StringValue{Value: "pong"}
	data, err := proto.Marshal(reply)
	assert.NoError(t, err)

	httpClient := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		drainBody(req)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/proto"}},
			Body:       io.NopCloser(bytes.NewReader(data)),
		}, nil
	})

	var log []string
	interceptor := recordingInterceptor{name: "logging", log: &log}
	client := NewClient[wrapperspb.StringValue, wrapperspb.StringValue](
		httpClient, "https://api.acme.test/acme.Ping/Call", "acme.Ping/Call",
		WithInterceptors(interceptor),
	)
	_, err = client.CallUnary(context.Background(), &wrapperspb.StringValue{Value: "ping"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"logging:before", "logging:after"}, log)
}
