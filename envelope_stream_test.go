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
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestReadOneEnvelopeCleanEOF(t *testing.T) {
	_, _, err := readOneEnvelope(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}

func TestReadOneEnvelopeTruncatedIsUnexpectedEOF(t *testing.T) {
	frame, err := packEnvelope([]byte("hello"), nil)
	assert.NoError(t, err)

	_, _, err = readOneEnvelope(bytes.NewReader(frame[:len(frame)-2]))
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestReadOneEnvelopeMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	first, err := packEnvelope([]byte("first"), nil)
	assert.NoError(t, err)
	second, err := packEnvelope([]byte("second"), nil)
	assert.NoError(t, err)
	buf.Write(first)
	buf.Write(second)

	_, body, err := readOneEnvelope(&buf)
	assert.NoError(t, err)
	assert.Equal(t, []byte("first"), body)

	_, body, err = readOneEnvelope(&buf)
	assert.NoError(t, err)
	assert.Equal(t, []byte("second"), body)

	_, _, err = readOneEnvelope(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestEnvelopeWriterReaderRoundTrip(t *testing.T) {
	writer := envelopeWriter{codec: protoBinaryCodec{}}
	reader := envelopeReader{codec: protoBinaryCodec{}}

	msg := &wrapperspb.StringValue{Value: "round trip me"}
	frame, err := writer.Marshal(msg)
	assert.NoError(t, err)

	_, body, err := readOneEnvelope(bytes.NewReader(frame))
	assert.NoError(t, err)

	var decoded wrapperspb.StringValue
	assert.NoError(t, reader.Unmarshal(body, &decoded))
	assert.Equal(t, msg.Value, decoded.Value)
}

func TestEnvelopeWriterSendMaxBytes(t *testing.T) {
	writer := envelopeWriter{codec: protoBinaryCodec{}, sendMaxBytes: 2}
	_, err := writer.Marshal(&wrapperspb.StringValue{Value: "too long for the limit"})
	assert.Error(t, err)
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))
}

func TestEnvelopeReaderReadMaxBytes(t *testing.T) {
	reader := envelopeReader{codec: protoBinaryCodec{}, readMaxBytes: 2}
	data, err := protoBinaryCodec{}.Marshal(&wrapperspb.StringValue{Value: "too long for the limit"})
	assert.NoError(t, err)

	var decoded wrapperspb.StringValue
	err = reader.Unmarshal(data, &decoded)
	assert.Error(t, err)
	assert.Equal(t, CodeResourceExhausted, CodeOf(err))
}
