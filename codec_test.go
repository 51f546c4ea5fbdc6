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
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestProtoBinaryCodecRoundTrip(t *testing.T) {
	codec := protoBinaryCodec{}
	msg := &wrapperspb.StringValue{Value: "binary codec round trip"}

	data, err := codec.Marshal(msg)
	assert.NoError(t, err)

	var decoded wrapperspb.StringValue
	assert.NoError(t, codec.Unmarshal(data, &decoded))
	assert.Equal(t, msg.Value, decoded.Value)
}

func TestProtoJSONCodecRoundTrip(t *testing.T) {
	codec := newProtoJSONCodec()
	msg := &wrapperspb.StringValue{Value: "json codec round trip"}

	data, err := codec.Marshal(msg)
	assert.NoError(t, err)

	var decoded wrapperspb.StringValue
	assert.NoError(t, codec.Unmarshal(data, &decoded))
	assert.Equal(t, msg.Value, decoded.Value)
}

func TestCodecRejectsNonProtoMessage(t *testing.T) {
	codec := protoBinaryCodec{}
	_, err := codec.Marshal("not a proto message")
	assert.Error(t, err)
	assert.Equal(t, CodeInternal, CodeOf(err))
}

func TestCodecForName(t *testing.T) {
	codec, ok := codecForName("proto")
	assert.True(t, ok)
	assert.Equal(t, "proto", codec.Name())

	codec, ok = codecForName("json")
	assert.True(t, ok)
	assert.Equal(t, "json", codec.Name())

	_, ok = codecForName("xml")
	assert.False(t, ok)
}
