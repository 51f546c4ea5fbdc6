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
	"errors"
	"io"
	"net/http"
	"sync"
)

// duplexHTTPCall drives a single HTTP request/response pair over the
// HTTPClient transport, exposing the
// request body as an io.Writer callers fill in as messages are ready to
// send, and the response body as an io.Reader once headers arrive. It's the
// lowest layer every protocol's StreamingClientConn is built on.
//
// Request and response are genuinely concurrent: net/http starts reading
// the request body and streaming the response before the caller has
// finished writing, which is what makes true bidirectional streaming
// (gRPC/gRPC-Web full-duplex) possible over HTTP/2. Over HTTP/1.1 the
// transport will simply buffer, and callers don't need to know the
// difference.
type duplexHTTPCall struct {
	ctx    context.Context
	client HTTPClient
	request *http.Request

	requestBodyWriter *io.PipeWriter
	requestBodyReader *io.PipeReader

	validateResponse func(*http.Response) *Error

	mu           sync.Mutex
	response     *http.Response
	responseErr  error
	responseOnce sync.Once
	responseDone chan struct{}
}

// newDuplexHTTPCall begins preparing (but does not yet send) an HTTP
// request to url using method. Sending occurs lazily, the first time the
// caller writes to or closes the request body, so that interceptors get a
// chance to mutate headers first.
func newDuplexHTTPCall(ctx context.Context, client HTTPClient, method, url string, header http.Header) (*duplexHTTPCall, error) {
	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, method, url, pr)
	if err != nil {
		return nil, errorf(CodeInternal, "construct request: %w", err)
	}
	req.Header = header
	call := &duplexHTTPCall{
		ctx:               ctx,
		client:            client,
		request:           req,
		requestBodyWriter: pw,
		requestBodyReader: pr,
		responseDone:      make(chan struct{}),
	}
	return call, nil
}

// SetValidateResponse installs a hook run once, as soon as response headers
// arrive, before any caller goroutine is unblocked. Protocol translators use
// it to turn an unexpected HTTP status into an *Error early, so Receive
// callers don't need to duplicate that logic.
func (d *duplexHTTPCall) SetValidateResponse(validate func(*http.Response) *Error) {
	d.validateResponse = validate
}

// Send starts the request (on first call) and writes body to the request
// pipe. It blocks if the transport's write buffer is full, providing the
// backpressure a pull-based consumption style needs.
func (d *duplexHTTPCall) Send(body []byte) error {
	if d.request == nil {
		return d.responseErr
	}
	d.ensureRequestStarted()
	if _, err := d.requestBodyWriter.Write(body); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			// The transport closed our pipe because the response already
			// arrived (often with an error). Surface that instead of the
			// generic pipe error.
			<-d.responseDone
			if d.responseErr != nil {
				return d.responseErr
			}
		}
		return wrap(CodeUnavailable, err)
	}
	return nil
}

// CloseSend half-closes the request body, signaling to the transport (and
// ultimately the peer) that no more messages are coming.
func (d *duplexHTTPCall) CloseSend() error {
	if d.request == nil {
		return d.responseErr
	}
	d.ensureRequestStarted()
	if err := d.requestBodyWriter.Close(); err != nil {
		return wrap(CodeUnknown, err)
	}
	return nil
}

// CancelSend aborts the request body immediately, without a clean
// half-close. Used when a caller cancels an in-flight stream.
func (d *duplexHTTPCall) CancelSend(cause error) {
	_ = d.requestBodyWriter.CloseWithError(cause)
}

func (d *duplexHTTPCall) ensureRequestStarted() {
	d.responseOnce.Do(func() {
		go d.do()
	})
}

func (d *duplexHTTPCall) do() {
	defer close(d.responseDone)
	resp, err := d.client.Do(d.request)
	if err != nil {
		d.responseErr = classifyTransportError(d.ctx, err)
		d.requestBodyReader.CloseWithError(d.responseErr)
		return
	}
	if d.validateResponse != nil {
		if connectErr := d.validateResponse(resp); connectErr != nil {
			d.responseErr = connectErr
		}
	}
	d.mu.Lock()
	d.response = resp
	d.mu.Unlock()
}

// BlockUntilResponseReady waits for headers to arrive (or the request to
// fail outright) and returns the response. This is the only suspension
// point before streaming responses begin.
func (d *duplexHTTPCall) BlockUntilResponseReady() (*http.Response, error) {
	d.ensureRequestStarted()
	<-d.responseDone
	if d.responseErr != nil {
		return nil, d.responseErr
	}
	return d.response, nil
}

// failedDuplexCall builds a duplexHTTPCall that never sends anything and
// immediately fails every operation with err. Protocol constructors use this
// when request setup (URL parsing, header construction) fails before there's
// an HTTP request to drive, so callers still get a StreamingClientConn that
// behaves consistently rather than a nil pointer.
func failedDuplexCall(err error) *duplexHTTPCall {
	call := &duplexHTTPCall{
		responseErr:  err,
		responseDone: make(chan struct{}),
	}
	close(call.responseDone)
	call.responseOnce.Do(func() {})
	return call
}

// classifyTransportError maps generic transport failures (context
// cancellation, deadline expiry) onto the matching Code value.
func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		return NewError(CodeCanceled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeDeadlineExceeded, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.Canceled) {
			return NewError(CodeCanceled, err)
		}
		return NewError(CodeDeadlineExceeded, err)
	}
	return NewError(CodeUnavailable, err)
}
