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
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// An Error captures the RPC status reported by a peer (or synthesized
// locally, e.g. on cancellation or timeout). Every error an RPC client
// returns can be recovered with errors.As into *Error.
type Error struct {
	code     Code
	message  string
	details  []*ErrorDetail
	meta     http.Header
	wrapped  error
	fromWire bool
}

// NewError constructs a new *Error with the given code and message,
// originating locally (as opposed to parsed off the wire; see NewWireError).
func NewError(code Code, underlying error) *Error {
	return &Error{code: code, wrapped: underlying, message: underlying.Error()}
}

// errorf is a convenience wrapper combining fmt.Errorf and NewError.
func errorf(code Code, format string, args ...any) *Error {
	return NewError(code, fmt.Errorf(format, args...))
}

// wrap is used by protocol translators to give err a code: it returns nil
// for a nil err, the existing *Error (with its own code) if err is or wraps
// one, and otherwise NewError(code, err).
func wrap(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	if connectErr, ok := AsError(err); ok {
		return connectErr
	}
	return NewError(code, err)
}

// NewWireError wraps an error with a code and marks it as an error that came
// from the peer, not one synthesized locally (a cancellation, a timeout, a
// transport failure). Protocol decoders use this when turning a gRPC status
// or a Connect wire error into an *Error, so that FromWire can tell
// "the server told us this failed" apart from "we couldn't even finish the
// RPC".
func NewWireError(code Code, underlying error) *Error {
	err := NewError(code, underlying)
	err.fromWire = true
	return err
}

// FromWire reports whether this error was parsed from a peer's response
// (a gRPC status, a gRPC-Web trailer, a Connect wire error) as opposed to
// being synthesized locally, e.g. on cancellation, timeout, or a transport
// failure that never got a response at all.
func (e *Error) FromWire() bool {
	return e != nil && e.fromWire
}

// Code returns the error's status code.
func (e *Error) Code() Code {
	if e == nil {
		return CodeOK
	}
	return e.code
}

// Message returns the error's message, without the status code.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Error implements the error interface, prefixing the message with the
// code's string form.
func (e *Error) Error() string {
	if e == nil {
		return CodeOK.String()
	}
	return e.code.String() + ": " + e.message
}

// Unwrap allows errors.Is and errors.As to see the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.wrapped
}

// Meta returns the metadata attached to this error (trailers for a gRPC
// error, the echoed header block for Connect). It's always non-nil.
func (e *Error) Meta() http.Header {
	if e.meta == nil {
		e.meta = make(http.Header)
	}
	return e.meta
}

// Details returns the typed error details attached to this error, if any.
func (e *Error) Details() []*ErrorDetail {
	return e.details
}

// AddDetail appends a typed detail (usually produced by NewErrorDetail) to
// the error.
func (e *Error) AddDetail(d *ErrorDetail) {
	e.details = append(e.details, d)
}

// setDetails replaces the full detail list; used by protocol decoders.
func (e *Error) setDetails(details []*ErrorDetail) {
	e.details = details
}

// AsError is a convenience wrapper around errors.As for *Error.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var connectErr *Error
	ok := errors.As(err, &connectErr)
	return connectErr, ok
}

// CodeOf returns the error's status code, or CodeOK if err is nil, or
// CodeUnknown if err isn't (or doesn't wrap) a *Error. Always safe to call,
// even on a nil error.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	if connectErr, ok := AsError(err); ok {
		return connectErr.Code()
	}
	return CodeUnknown
}

// An ErrorDetail is a self-describing, protocol-agnostic error payload: a
// type URL plus opaque bytes, exactly as google.rpc.Status carries them.
// Decoding the bytes into a concrete message is deferred to Unmarshal, which
// needs a Codec capable of understanding the wire format the detail was
// produced with.
type ErrorDetail struct {
	pbType  string
	pbBytes []byte
}

// NewErrorDetail constructs an ErrorDetail from any protobuf message. The
// detail is serialized immediately, so later mutations of msg have no
// effect.
func NewErrorDetail(msg proto.Message) (*ErrorDetail, error) {
	pb, err := anypb.New(msg)
	if err != nil {
		return nil, errorf(CodeInternal, "can't construct error detail for %T: %w", msg, err)
	}
	return &ErrorDetail{pbType: pb.TypeUrl, pbBytes: pb.Value}, nil
}

// newErrorDetailFromAny builds a detail from a already-marshaled anypb.Any,
// as read off the wire (grpc-status-details-bin, or a Connect JSON detail).
func newErrorDetailFromAny(pb *anypb.Any) *ErrorDetail {
	return &ErrorDetail{pbType: pb.GetTypeUrl(), pbBytes: pb.GetValue()}
}

// Type returns the detail's fully-qualified protobuf message type, without
// the "type.googleapis.com/" prefix used on the wire.
func (d *ErrorDetail) Type() string {
	const prefix = "type.googleapis.com/"
	if len(d.pbType) > len(prefix) && d.pbType[:len(prefix)] == prefix {
		return d.pbType[len(prefix):]
	}
	return d.pbType
}

// Bytes returns the detail's serialized protobuf bytes.
func (d *ErrorDetail) Bytes() []byte {
	return d.pbBytes
}

// Unmarshal decodes the detail into msg, which must be the same message type
// the detail was constructed from. Unlike anypb.Any.UnmarshalTo, this never
// needs the global protobuf registry: it always unmarshals with the plain
// binary wire format, because that's what every protocol on the wire
// (Connect JSON's base64 value, and gRPC's grpc-status-details-bin) actually
// carries.
func (d *ErrorDetail) Unmarshal(msg proto.Message) error {
	return proto.Unmarshal(d.pbBytes, msg)
}
