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
	"io"
)

// readOneEnvelope reads exactly one length-prefixed frame from r: the 5-byte
// header, then len(body) more bytes. A clean end of stream (zero bytes read
// at the start of a frame) is reported as io.EOF; anything else that cuts a
// frame short is ErrUnexpectedEOF, which callers should treat as a protocol
// error rather than a normal stream end.
func readOneEnvelope(r io.Reader) (flags byte, body []byte, err error) {
	var prefix [envelopePrefixLength]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, io.ErrUnexpectedEOF
	}
	length, err := envelopeMessageLength(prefix[:])
	if err != nil {
		return 0, nil, io.ErrUnexpectedEOF
	}
	body = make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return prefix[0], body, nil
}

// envelopeWriter marshals a message with codec, optionally compresses it per
// compression's threshold policy, and returns the packed wire frame, ready
// to hand to a duplexHTTPCall's Send.
type envelopeWriter struct {
	codec        Codec
	compression  *envelopeCompression
	sendMaxBytes int
}

func (w *envelopeWriter) Marshal(msg any) ([]byte, error) {
	data, err := w.codec.Marshal(msg)
	if err != nil {
		return nil, errorf(CodeInternal, "marshal message: %w", err)
	}
	if w.sendMaxBytes > 0 && len(data) > w.sendMaxBytes {
		return nil, errorf(CodeInvalidArgument, "message size %d exceeds configured send limit %d", len(data), w.sendMaxBytes)
	}
	return packEnvelope(data, w.compression)
}

// envelopeReader unmarshals a single already-unpacked frame body into msg.
// Decompression, if any, has already happened by the time Unmarshal is
// called; the caller is responsible for resolving the right compressionPool
// from the frame's flags and the registry.
type envelopeReader struct {
	codec        Codec
	readMaxBytes int64
}

func (r *envelopeReader) Unmarshal(body []byte, msg any) error {
	if r.readMaxBytes > 0 && int64(len(body)) > r.readMaxBytes {
		return errorf(CodeResourceExhausted, "message size %d exceeds configured read limit %d", len(body), r.readMaxBytes)
	}
	if err := r.codec.Unmarshal(body, msg); err != nil {
		return errorf(CodeInvalidArgument, "unmarshal message: %w", err)
	}
	return nil
}
