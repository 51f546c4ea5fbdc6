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

import "context"

// UnaryFunc is the continuation a unary interceptor wraps: given a context
// and a request, it eventually produces a response or an error. Both user
// interceptors and the protocol's own unary translation are expressed as
// UnaryFuncs, so they compose uniformly.
type UnaryFunc func(context.Context, AnyRequest) (AnyResponse, error)

// StreamingClientFunc wraps the construction of a StreamingClientConn,
// letting an interceptor observe or replace the context before the
// underlying stream is created.
type StreamingClientFunc func(context.Context, Spec) StreamingClientConn

// Interceptor adds logic to a client (or, symmetrically, a handler) without
// it needing to know about the RPC protocol in use. Interceptors wrap the
// continuation they're given: they may inspect or mutate the request/stream
// before calling it, and inspect or mutate the response/error after.
//
// WrapUnary governs unary calls; WrapStreamingClient governs the
// three streaming shapes, all of which share a single StreamingClientConn
// abstraction over send/receive.
type Interceptor interface {
	WrapUnary(UnaryFunc) UnaryFunc
	WrapStreamingClient(StreamingClientFunc) StreamingClientFunc
}

// UnaryInterceptorFunc adapts an ordinary function to the Interceptor
// interface, leaving streaming calls untouched. Most interceptors that only
// care about unary calls use this instead of implementing the full
// Interceptor interface.
type UnaryInterceptorFunc func(UnaryFunc) UnaryFunc

func (f UnaryInterceptorFunc) WrapUnary(next UnaryFunc) UnaryFunc { return f(next) }
func (f UnaryInterceptorFunc) WrapStreamingClient(next StreamingClientFunc) StreamingClientFunc {
	return next
}

// chain composes a list of Interceptors into one: the first interceptor in
// the list is outermost. It acts first
// on an outgoing request/frame and last on an incoming response/frame — the
// "onion" composition documented on WithInterceptors.
type chain struct {
	interceptors []Interceptor
}

// newChain returns an Interceptor equivalent to applying each of
// interceptors in order, outermost first. A nil/empty list yields a no-op
// Interceptor.
func newChain(interceptors []Interceptor) *chain {
	// Flatten nested chains so repeated WithInterceptors calls compose
	// exactly as if passed to a single call (documented in option.go).
	flat := make([]Interceptor, 0, len(interceptors))
	for _, interceptor := range interceptors {
		if nested, ok := interceptor.(*chain); ok {
			flat = append(flat, nested.interceptors...)
			continue
		}
		if interceptor != nil {
			flat = append(flat, interceptor)
		}
	}
	return &chain{interceptors: flat}
}

func (c *chain) WrapUnary(next UnaryFunc) UnaryFunc {
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		next = c.interceptors[i].WrapUnary(next)
	}
	return next
}

func (c *chain) WrapStreamingClient(next StreamingClientFunc) StreamingClientFunc {
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		next = c.interceptors[i].WrapStreamingClient(next)
	}
	return next
}

// applyInterceptors wraps a protocol's own unary/stream implementation with
// the user-configured interceptor chain, building the full pipeline
// described above: user interceptors (outermost, in configured order),
// then the protocol interceptor (innermost). Because WrapUnary/
// WrapStreamingClient nest the continuation they're given, handing the
// protocol implementation to chain.WrapUnary as `next` automatically puts
// it innermost.
func applyInterceptors(protocolUnary UnaryFunc, protocolStream StreamingClientFunc, interceptor Interceptor) (UnaryFunc, StreamingClientFunc) {
	if interceptor == nil {
		return protocolUnary, protocolStream
	}
	return interceptor.WrapUnary(protocolUnary), interceptor.WrapStreamingClient(protocolStream)
}
