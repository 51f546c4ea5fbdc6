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

// Package observability provides an optional structured-logging interceptor
// for triproto clients, built on go.uber.org/zap. It's never wired in by
// default; callers opt in with WithInterceptors(observability.NewLoggingInterceptor(logger)).
package observability

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/triproto/triproto"
)

// loggingInterceptor logs every unary call and the lifetime of every stream
// at debug level, recording the procedure, outcome code, and duration.
type loggingInterceptor struct {
	logger *zap.Logger
}

// NewLoggingInterceptor returns an Interceptor that logs each call through
// logger, named "rpc" (logger.Named). A nil logger is treated as
// zap.NewNop(), so callers can wire this unconditionally behind a flag.
func NewLoggingInterceptor(logger *zap.Logger) triproto.Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &loggingInterceptor{logger: logger.Named("rpc")}
}

func (i *loggingInterceptor) WrapUnary(next triproto.UnaryFunc) triproto.UnaryFunc {
	return func(ctx context.Context, req triproto.AnyRequest) (triproto.AnyResponse, error) {
		start := time.Now()
		res, err := next(ctx, req)
		fields := []zapcore.Field{
			zap.String("procedure", req.Spec().Procedure),
			zap.Duration("duration", time.Since(start)),
			zap.Stringer("code", triproto.CodeOf(err)),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
			if connectErr, ok := triproto.AsError(err); ok {
				fields = append(fields, zap.Bool("from_wire", connectErr.FromWire()))
			}
			i.logger.Debug("unary call failed", fields...)
			return res, err
		}
		i.logger.Debug("unary call completed", fields...)
		return res, err
	}
}

func (i *loggingInterceptor) WrapStreamingClient(next triproto.StreamingClientFunc) triproto.StreamingClientFunc {
	return func(ctx context.Context, spec triproto.Spec) triproto.StreamingClientConn {
		start := time.Now()
		conn := next(ctx, spec)
		i.logger.Debug("stream opened",
			zap.String("procedure", spec.Procedure),
			zap.Stringer("stream_type", spec.StreamType),
		)
		return &loggingStreamingClientConn{
			StreamingClientConn: conn,
			logger:              i.logger,
			start:                start,
		}
	}
}

// loggingStreamingClientConn wraps a StreamingClientConn so the stream's
// close is logged with its total lifetime and final status, mirroring what
// WrapUnary does for single-message calls.
type loggingStreamingClientConn struct {
	triproto.StreamingClientConn
	logger *zap.Logger
	start  time.Time
}

func (c *loggingStreamingClientConn) CloseResponse() error {
	err := c.StreamingClientConn.CloseResponse()
	c.logger.Debug("stream closed",
		zap.String("procedure", c.Spec().Procedure),
		zap.Duration("duration", time.Since(c.start)),
		zap.Stringer("code", triproto.CodeOf(err)),
	)
	return err
}
