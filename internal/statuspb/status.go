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

// Package statuspb is a tiny, hand-written stand-in for google.rpc.Status:
// the wire shape gRPC uses for the grpc-status-details-bin trailer. Real
// generated message (de)serialization is an external collaborator the
// engine consumes, but this one well-known
// message is the engine's own wire format for error details, so it's
// produced and parsed here directly with protobuf's low-level wire API
// rather than a protoc-generated package.
package statuspb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// Status mirrors google.rpc.Status: a code, a message, and zero or more
// self-describing detail messages.
type Status struct {
	Code    int32
	Message string
	Details []*anypb.Any
}

// Field numbers from google/rpc/status.proto.
const (
	fieldCode    = 1
	fieldMessage = 2
	fieldDetails = 3
)

// Marshal encodes s using the standard protobuf binary wire format.
func (s *Status) Marshal() ([]byte, error) {
	var out []byte
	if s.Code != 0 {
		out = protowire.AppendTag(out, fieldCode, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(uint32(s.Code)))
	}
	if s.Message != "" {
		out = protowire.AppendTag(out, fieldMessage, protowire.BytesType)
		out = protowire.AppendString(out, s.Message)
	}
	for _, detail := range s.Details {
		detailBytes, err := proto.Marshal(detail)
		if err != nil {
			return nil, fmt.Errorf("marshal status detail %s: %w", detail.GetTypeUrl(), err)
		}
		out = protowire.AppendTag(out, fieldDetails, protowire.BytesType)
		out = protowire.AppendBytes(out, detailBytes)
	}
	return out, nil
}

// Unmarshal decodes data (as produced by Marshal, or by any other
// google.rpc.Status-compatible implementation) into s.
func (s *Status) Unmarshal(data []byte) error {
	*s = Status{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("invalid status encoding: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldCode:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("invalid status.code: %w", protowire.ParseError(n))
			}
			s.Code = int32(v)
			data = data[n:]
		case fieldMessage:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("invalid status.message: %w", protowire.ParseError(n))
			}
			s.Message = string(v)
			data = data[n:]
		case fieldDetails:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("invalid status.details: %w", protowire.ParseError(n))
			}
			var any anypb.Any
			if err := proto.Unmarshal(v, &any); err != nil {
				return fmt.Errorf("invalid status detail: %w", err)
			}
			s.Details = append(s.Details, &any)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("invalid status field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}
