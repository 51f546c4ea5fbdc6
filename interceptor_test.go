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
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingInterceptor appends name to a shared log every time it's entered
// or exited, so a test can assert on the exact onion ordering.
type recordingInterceptor struct {
	name string
	log  *[]string
}

func (r recordingInterceptor) WrapUnary(next UnaryFunc) UnaryFunc {
	return func(ctx context.Context, req AnyRequest) (AnyResponse, error) {
		*r.log = append(*r.log, r.name+":before")
		res, err := next(ctx, req)
		*r.log = append(*r.log, r.name+":after")
		return res, err
	}
}

func (r recordingInterceptor) WrapStreamingClient(next StreamingClientFunc) StreamingClientFunc {
	return next
}

func TestChainOnionOrdering(t *testing.T) {
	var log []string
	a := recordingInterceptor{name: "a", log: &log}
	b := recordingInterceptor{name: "b", log: &log}
	c := recordingInterceptor{name: "c", log: &log}

	chain := newChain([]Interceptor{a, b, c})
	protocolUnary := func(ctx context.Context, req AnyRequest) (AnyResponse, error) {
		log = append(log, "protocol")
		return nil, nil
	}
	wrapped := chain.WrapUnary(protocolUnary)

	_, _ = wrapped(context.Background(), NewRequest(new(int)))

	assert.Equal(t, []string{
		"a:before", "b:before", "c:before",
		"protocol",
		"c:after", "b:after", "a:after",
	}, log)
}

func TestNewChainFlattensNestedChains(t *testing.T) {
	var log []string
	a := recordingInterceptor{name: "a", log: &log}
	b := recordingInterceptor{name: "b", log: &log}

	inner := newChain([]Interceptor{a})
	outer := newChain([]Interceptor{inner, b})

	assert.Len(t, outer.interceptors, 2)
}

func TestUnaryInterceptorFuncPassesStreamingThrough(t *testing.T) {
	var called bool
	f := UnaryInterceptorFunc(func(next UnaryFunc) UnaryFunc {
		return func(ctx context.Context, req AnyRequest) (AnyResponse, error) {
			called = true
			return next(ctx, req)
		}
	})

	protocolStream := func(ctx context.Context, spec Spec) StreamingClientConn { return nil }
	assert.Nil(t, f.WrapStreamingClient(protocolStream)(context.Background(), Spec{}))

	protocolUnary := func(ctx context.Context, req AnyRequest) (AnyResponse, error) { return nil, nil }
	_, _ = f.WrapUnary(protocolUnary)(context.Background(), NewRequest(new(int)))
	assert.True(t, called)
}

func TestApplyInterceptorsNilPassesThrough(t *testing.T) {
	protocolUnary := func(ctx context.Context, req AnyRequest) (AnyResponse, error) { return nil, nil }
	protocolStream := func(ctx context.Context, spec Spec) StreamingClientConn { return nil }

	unary, stream := applyInterceptors(protocolUnary, protocolStream, nil)
	_, _ = unary(context.Background(), NewRequest(new(int)))
	_ = stream(context.Background(), Spec{})
}
