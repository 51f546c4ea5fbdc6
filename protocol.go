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
	"net/http"
)

// Content-Type values for the three protocols, parameterized by codec name.
// Every outgoing request carries exactly one of these.
const (
	contentTypeConnectUnaryPrefix  = "application/"
	contentTypeConnectStreamPrefix = "application/connect+"
	contentTypeGRPCPrefix          = "application/grpc+"
	contentTypeGRPCWebPrefix       = "application/grpc-web+"
)

// clientParams bundles everything a protocol implementation needs to build
// a StreamingClientConn for one RPC, independent of which protocol is in
// play.
type clientParams struct {
	httpClient HTTPClient
	url        string
	spec       Spec
	config     *clientConfig
	header     http.Header
}

// newClientConn constructs the protocol-appropriate StreamingClientConn for
// one call, per the selected clientConfig.Protocol. This is the seam the
// protocol client facade uses before running the interceptor chain.
func newClientConn(ctx context.Context, params *clientParams) StreamingClientConn {
	switch params.config.Protocol {
	case protocolGRPC:
		return newGRPCClientConn(ctx, params, false /* web */)
	case protocolGRPCWeb:
		return newGRPCClientConn(ctx, params, true /* web */)
	default:
		if params.spec.StreamType == StreamTypeUnary {
			return newConnectUnaryClientConn(ctx, params)
		}
		return newConnectStreamClientConn(ctx, params)
	}
}

// userAgent is sent on every request so server-side logs can distinguish
// the engine's traffic from other clients.
func userAgent() string {
	return "triproto/" + Version
}
