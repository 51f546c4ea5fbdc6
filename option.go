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

import "time"

// protocolKind selects which of the three wire protocols a Client speaks.
// It's exposed as three mutually-exclusive ClientOptions instead of a bare
// enum field, so generated code reads naturally (`triproto.WithGRPC()`).
type protocolKind int

const (
	protocolConnect protocolKind = iota
	protocolGRPC
	protocolGRPCWeb
)

// clientConfig accumulates every ClientOption applied to a Client. It's
// built once at construction time and treated as immutable afterward; every
// protocol conn reads from it but none ever writes back.
type clientConfig struct {
	Protocol protocolKind

	CodecName string
	Codec     Codec

	Compressions        *compressionRegistry
	SendCompressionName string

	Interceptor Interceptor

	EnableGet    bool
	SendMaxBytes int
	ReadMaxBytes int64
	Timeout      time.Duration
	Idempotent   Idempotency
}

func newClientConfig(opts []ClientOption) *clientConfig {
	cfg := &clientConfig{
		Protocol:     protocolConnect,
		CodecName:    codecNameProto,
		Codec:        protoBinaryCodec{},
		Compressions: newCompressionRegistry(),
	}
	cfg.Compressions.register(newGzipCompressionPool())
	for _, opt := range opts {
		opt.applyToClient(cfg)
	}
	return cfg
}

// ClientOption configures a Client at construction time.
type ClientOption interface {
	applyToClient(*clientConfig)
}

type clientOptionFunc func(*clientConfig)

func (f clientOptionFunc) applyToClient(cfg *clientConfig) { f(cfg) }

// WithGRPC selects the gRPC wire protocol (HTTP/2, trailers-based status).
// This is the default protocol real gRPC servers expect; it requires an
// HTTP/2-capable transport.
func WithGRPC() ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) { cfg.Protocol = protocolGRPC })
}

// WithGRPCWeb selects gRPC-Web: the same framing as gRPC, but with trailers
// synthesized into a final enveloped frame so the protocol works over any
// transport that exposes a response body, including HTTP/1.1 and browser
// fetch/XHR.
func WithGRPCWeb() ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) { cfg.Protocol = protocolGRPCWeb })
}

// WithCodec overrides the serialization codec a Client uses. Generated code
// normally supplies "proto"; WithCodec("json", ...) switches to Connect/
// gRPC's JSON mode. For the two built-in codec names ("proto" and "json"),
// prefer WithProtoJSON or the default over calling this directly.
func WithCodec(name string, codec Codec) ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) {
		cfg.CodecName = name
		cfg.Codec = codec
	})
}

// WithProtoJSON selects protobuf's canonical JSON mapping instead of the
// default binary encoding, looking up the built-in "json" codec through the
// same codecForName negotiation a generated stub's WithCodec(name, ...)
// would use.
func WithProtoJSON() ClientOption {
	codec, _ := codecForName(codecNameJSON)
	return WithCodec(codecNameJSON, codec)
}

// WithGzip registers stdlib gzip as an acceptable response compression and,
// combined with WithSendCompression("gzip"), as a request compression.
// Clients have gzip registered by default, so WithGzip is mostly useful to
// document intent alongside WithZstd/WithBrotli.
func WithGzip() ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) {
		cfg.Compressions.register(newGzipCompressionPool())
	})
}

// WithZstd registers github.com/klauspost/compress/zstd as an acceptable
// compression codec under the wire name "zstd".
func WithZstd() ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) {
		cfg.Compressions.register(newZstdCompressionPool())
	})
}

// WithBrotli registers github.com/andybalholm/brotli as an acceptable
// compression codec under the wire name "br".
func WithBrotli() ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) {
		cfg.Compressions.register(newBrotliCompressionPool())
	})
}

// WithSendCompression compresses outgoing request messages with the named
// codec, which must already be registered (via WithGzip/WithZstd/WithBrotli
// or a default). Messages smaller than the configured WithCompressMinBytes
// threshold are still sent uncompressed.
func WithSendCompression(name string) ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) {
		cfg.SendCompressionName = name
		cfg.Compressions.requestName = name
	})
}

// WithCompressMinBytes sets the minimum message size, in bytes, before
// request compression is applied. Defaults to 0 (always compress, when a
// send codec is configured).
func WithCompressMinBytes(n int) ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) {
		cfg.Compressions.requestMinBytes = n
	})
}

// WithHTTPGet allows idempotent, side-effect-free unary Connect calls
// (those constructed with WithIdempotency(IdempotencyNoSideEffects)) to be
// sent as HTTP GET requests with the payload in the query string, enabling
// HTTP caching. It has no effect on gRPC or gRPC-Web clients, which have no
// GET form.
func WithHTTPGet() ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) { cfg.EnableGet = true })
}

// WithIdempotency declares the side-effect contract of the RPC a Client
// calls. Generated code sets this per service method; combined with
// WithHTTPGet, IdempotencyNoSideEffects unlocks the Connect GET
// transformation for cacheable unary calls.
func WithIdempotency(level Idempotency) ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) { cfg.Idempotent = level })
}

// WithReadMaxBytes limits how large a single decompressed message the
// client will accept, protecting against a misbehaving or malicious peer.
// Zero (the default) allows any size.
func WithReadMaxBytes(n int64) ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) { cfg.ReadMaxBytes = n })
}

// WithSendMaxBytes limits how large a single message the client will send,
// failing fast with CodeInvalidArgument instead of trying the network.
func WithSendMaxBytes(n int) ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) { cfg.SendMaxBytes = n })
}

// WithTimeout sets the per-call deadline the client encodes onto the wire
// (Grpc-Timeout for gRPC/gRPC-Web, Connect-Timeout-Ms for Connect),
// independent of any deadline already on the context. If both are set, the
// earlier one wins, matching context.Context's own composition rule.
func WithTimeout(d time.Duration) ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) { cfg.Timeout = d })
}

// WithInterceptors configures a client's interceptor stack. Repeated
// WithInterceptors options are applied in order, so
//
//	WithInterceptors(A) + WithInterceptors(B, C) == WithInterceptors(A, B, C)
//
// The first interceptor provided is the outermost layer: it acts first on
// the request and last on the response (see Interceptor).
func WithInterceptors(interceptors ...Interceptor) ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) {
		if len(interceptors) == 0 {
			return
		}
		if cfg.Interceptor == nil && len(interceptors) == 1 {
			cfg.Interceptor = interceptors[0]
			return
		}
		if cfg.Interceptor == nil {
			cfg.Interceptor = newChain(interceptors)
			return
		}
		cfg.Interceptor = newChain(append([]Interceptor{cfg.Interceptor}, interceptors...))
	})
}

// WithClientOptions bundles several ClientOptions into one, so generated
// code or test helpers can build a reusable preset.
func WithClientOptions(opts ...ClientOption) ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) {
		for _, opt := range opts {
			opt.applyToClient(cfg)
		}
	})
}
