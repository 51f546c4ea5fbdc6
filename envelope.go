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
	"encoding/binary"
)

// Envelope flag bits. flagCompressed is shared by all three protocols.
// flagEnvelopeEndStream is gRPC-Web's end-of-stream bit (the high bit);
// connectFlagEndStream is Connect streaming's own end-of-stream bit. The two
// protocols picked different bits for the same job, so each needs its own
// constant and its own isEndStreamEnvelope-style check.
const (
	flagCompressed        byte = 0b00000001
	connectFlagEndStream  byte = 0b00000010
	flagEnvelopeEndStream byte = 0b10000000

	envelopePrefixLength = 5 // 1 byte flags + 4 byte big-endian length
)

// envelopeCompression bundles the pool and threshold policy packEnvelope needs to
// decide whether (and how) to compress a payload.
type envelopeCompression struct {
	pool     *compressionPool
	minBytes int
}

// packEnvelope builds the wire form of a single envelope: flags(1) ||
// length(4 BE) || payload. If compression is non-nil and the payload meets
// its minimum size, the payload is compressed and flagCompressed is set.
func packEnvelope(payload []byte, compression *envelopeCompression) ([]byte, error) {
	flags := byte(0)
	body := payload
	if compression != nil && compression.pool != nil && len(payload) >= compression.minBytes {
		compressed, err := compression.pool.compress(payload)
		if err != nil {
			return nil, err
		}
		body = compressed
		flags |= flagCompressed
	}
	out := make([]byte, envelopePrefixLength+len(body))
	out[0] = flags
	binary.BigEndian.PutUint32(out[1:5], uint32(len(body)))
	copy(out[5:], body)
	return out, nil
}

// unpackEnvelope validates and slices a single complete envelope (exactly
// envelopePrefixLength+length bytes), returning its flags and decompressed
// payload. pool may be nil only if the frame isn't flagged compressed.
func unpackEnvelope(frame []byte, pool *compressionPool, maxReadBytes int64) (byte, []byte, error) {
	if len(frame) < envelopePrefixLength {
		return 0, nil, errorf(CodeInvalidArgument, "envelope too short: got %d bytes, need at least %d", len(frame), envelopePrefixLength)
	}
	flags := frame[0]
	length, err := envelopeMessageLength(frame)
	if err != nil {
		return 0, nil, err
	}
	body := frame[5:]
	if uint32(len(body)) != length {
		return 0, nil, errorf(CodeInvalidArgument, "envelope length mismatch: header says %d, got %d bytes", length, len(body))
	}
	if flags&flagCompressed == 0 {
		return flags, body, nil
	}
	if pool == nil {
		return 0, nil, errorf(CodeInternal, "protocol error: compressed envelope but no compression negotiated")
	}
	decompressed, err := pool.decompress(body, maxReadBytes)
	if err != nil {
		return 0, nil, err
	}
	return flags, decompressed, nil
}

// envelopeMessageLength reads an envelope's big-endian length prefix out of
// its first envelopePrefixLength bytes, without consuming the payload.
// Shared by unpackEnvelope (given a complete, already-buffered frame) and
// readOneEnvelope (given just the 5-byte header off a live stream), so both
// agree on how a length prefix is decoded.
func envelopeMessageLength(frame []byte) (uint32, error) {
	if len(frame) < envelopePrefixLength {
		return 0, errorf(CodeInvalidArgument, "envelope header too short: got %d bytes, need %d", len(frame), envelopePrefixLength)
	}
	return binary.BigEndian.Uint32(frame[1:5]), nil
}

// isEndStreamEnvelope reports whether flags mark this frame as gRPC-Web's
// synthesized trailer frame.
func isEndStreamEnvelope(flags byte) bool {
	return flags&flagEnvelopeEndStream != 0
}

// isConnectEndStreamEnvelope reports whether flags mark this frame as
// Connect streaming's end-stream message.
func isConnectEndStreamEnvelope(flags byte) bool {
	return flags&connectFlagEndStream != 0
}
