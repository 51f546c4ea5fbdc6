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
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Codec names recognized by protocol negotiation. Generated service code
// supplies one of these via ClientOption; the core never has an opinion on
// which is "better".
const (
	codecNameProto = "proto"
	codecNameJSON  = "json"
)

// Codec serializes and deserializes the generated request/response
// messages. Generated message (de)serialization is explicitly out of scope
// for the engine; Codec is the seam the engine calls through instead of
// assuming any particular schema representation.
type Codec interface {
	Name() string
	Marshal(msg any) ([]byte, error)
	Unmarshal(data []byte, msg any) error
}

// protoBinaryCodec implements Codec with plain protobuf binary encoding.
// It's the default for every protocol's Content-Type
// (application/proto, application/grpc+proto, application/grpc-web+proto).
type protoBinaryCodec struct{}

func (protoBinaryCodec) Name() string { return codecNameProto }

func (protoBinaryCodec) Marshal(msg any) ([]byte, error) {
	protoMsg, ok := msg.(proto.Message)
	if !ok {
		return nil, errorf(CodeInternal, "%T doesn't implement proto.Message", msg)
	}
	return proto.Marshal(protoMsg)
}

func (protoBinaryCodec) Unmarshal(data []byte, msg any) error {
	protoMsg, ok := msg.(proto.Message)
	if !ok {
		return errorf(CodeInternal, "%T doesn't implement proto.Message", msg)
	}
	if err := proto.Unmarshal(data, protoMsg); err != nil {
		return errorf(CodeInvalidArgument, "unmarshal into %T: %w", msg, err)
	}
	return nil
}

// protoJSONCodec implements Codec with protobuf's canonical JSON mapping.
// Content-Type negotiation spells this "application/json",
// "application/connect+json", or "application/grpc+json" depending on
// protocol and stream shape.
type protoJSONCodec struct {
	marshal   protojson.MarshalOptions
	unmarshal protojson.UnmarshalOptions
}

func newProtoJSONCodec() *protoJSONCodec {
	return &protoJSONCodec{
		marshal:   protojson.MarshalOptions{EmitUnpopulated: true},
		unmarshal: protojson.UnmarshalOptions{DiscardUnknown: true},
	}
}

func (*protoJSONCodec) Name() string { return codecNameJSON }

func (c *protoJSONCodec) Marshal(msg any) ([]byte, error) {
	protoMsg, ok := msg.(proto.Message)
	if !ok {
		return nil, errorf(CodeInternal, "%T doesn't implement proto.Message", msg)
	}
	return c.marshal.Marshal(protoMsg)
}

func (c *protoJSONCodec) Unmarshal(data []byte, msg any) error {
	protoMsg, ok := msg.(proto.Message)
	if !ok {
		return errorf(CodeInternal, "%T doesn't implement proto.Message", msg)
	}
	if err := c.unmarshal.Unmarshal(data, protoMsg); err != nil {
		return errorf(CodeInvalidArgument, "unmarshal JSON into %T: %w", msg, err)
	}
	return nil
}

// codecForName returns the built-in codec for the "proto" and "json" names;
// WithCodec lets callers override or extend this with their own Codec
// implementation.
func codecForName(name string) (Codec, bool) {
	switch name {
	case codecNameProto:
		return protoBinaryCodec{}, true
	case codecNameJSON:
		return newProtoJSONCodec(), true
	default:
		return nil, false
	}
}
