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
	"encoding/base64"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Metadata is an ordered, case-insensitive multimap from header name to a
// list of values, with lowercase keys. It's a wire-agnostic view of
// trailing metadata: every protocol's trailers (including Connect
// streaming's end-stream object and gRPC-Web's synthesized trailer block)
// are decoded into an http.Header, and accessors such as
// Response.TrailerMetadata copy that header into a Metadata via
// metadataFromHTTPHeader. ToHTTPHeader converts back.
type Metadata struct {
	order []string
	store map[string][]string
}

// NewMetadata returns an empty Metadata ready for use.
func NewMetadata() *Metadata {
	return &Metadata{store: make(map[string][]string)}
}

func metadataKey(key string) string {
	return strings.ToLower(key)
}

// Add appends a value under key, preserving insertion order for first-seen
// keys.
func (m *Metadata) Add(key, value string) {
	k := metadataKey(key)
	if _, ok := m.store[k]; !ok {
		m.order = append(m.order, k)
	}
	m.store[k] = append(m.store[k], value)
}

// Set replaces all values under key with a single value.
func (m *Metadata) Set(key, value string) {
	k := metadataKey(key)
	if _, ok := m.store[k]; !ok {
		m.order = append(m.order, k)
	}
	m.store[k] = []string{value}
}

// Get returns the first value under key, or "" if absent.
func (m *Metadata) Get(key string) string {
	values := m.Values(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Values returns every value under key, in the order they were added.
func (m *Metadata) Values(key string) []string {
	if m == nil || m.store == nil {
		return nil
	}
	return m.store[metadataKey(key)]
}

// Keys returns distinct keys in first-insertion order.
func (m *Metadata) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// IsBinaryKey reports whether key carries base64-encoded raw bytes on the
// wire, per the "-bin" suffix convention shared by gRPC, gRPC-Web, and
// Connect.
func IsBinaryKey(key string) bool {
	return strings.HasSuffix(metadataKey(key), "-bin")
}

// AddBinary base64-encodes value and stores it under key, which must end in
// "-bin". Callers work with the decoded bytes; the base64 form only exists
// at the wire boundary.
func (m *Metadata) AddBinary(key string, value []byte) {
	m.Add(key, base64.RawStdEncoding.EncodeToString(value))
}

// GetBinary returns the base64-decoded bytes of the first value under key.
func (m *Metadata) GetBinary(key string) ([]byte, error) {
	v := m.Get(key)
	if v == "" {
		return nil, nil
	}
	return decodeBinaryHeader(v)
}

// ToHTTPHeader copies every key/value pair into an http.Header, which
// canonicalizes key casing per net/textproto rules.
func (m *Metadata) ToHTTPHeader() http.Header {
	h := make(http.Header, len(m.order))
	for _, key := range m.order {
		for _, v := range m.store[key] {
			h.Add(key, v)
		}
	}
	return h
}

// metadataFromHTTPHeader copies an http.Header into a Metadata, lowercasing
// keys. The order of keys follows Go's map iteration over h and so is not
// defined.
func metadataFromHTTPHeader(h http.Header) *Metadata {
	m := NewMetadata()
	for key, values := range h {
		lower := metadataKey(key)
		m.store[lower] = append(m.store[lower], values...)
		m.order = append(m.order, lower)
	}
	return m
}

// mergeHeaders copies every entry of src into dst, leaving existing dst
// entries untouched except for appending.
func mergeHeaders(dst, src http.Header) {
	for key, values := range src {
		dst[key] = append(dst[key], values...)
	}
}

// mergeRequestHeaders is mergeHeaders for the one path where src is
// caller-supplied metadata about to be handed to the transport (a request's
// custom headers, set by the caller or an interceptor before Send). Every
// key and value is validated first, so a malformed entry fails fast with
// CodeInvalidArgument instead of producing a broken request somewhere deep
// in net/http.
func mergeRequestHeaders(dst, src http.Header) error {
	for key, values := range src {
		if !validateHeaderName(key) {
			return errorf(CodeInvalidArgument, "invalid header name %q", key)
		}
		for _, v := range values {
			if !validateHeaderValue(v) {
				return errorf(CodeInvalidArgument, "invalid value for header %q", key)
			}
		}
		dst[key] = append(dst[key], values...)
	}
	return nil
}

// validateHeaderName reports whether name is a legal HTTP header field name,
// using the same validation net/http applies internally.
func validateHeaderName(name string) bool {
	return httpguts.ValidHeaderFieldName(name)
}

func validateHeaderValue(value string) bool {
	return httpguts.ValidHeaderFieldValue(value)
}

// encodeBinaryHeader/decodeBinaryHeader implement the "-bin" convention: raw
// bytes are base64-encoded without padding, matching gRPC's
// encoding/decoding of binary metadata.
func encodeBinaryHeader(data []byte) string {
	return base64.RawStdEncoding.EncodeToString(data)
}

func decodeBinaryHeader(data string) ([]byte, error) {
	if i := len(data) % 4; i != 0 {
		// Some implementations send padded base64; strip it before decoding
		// with the unpadded encoding so both forms round-trip.
		data = strings.TrimRight(data, "=")
	}
	return base64.RawStdEncoding.DecodeString(data)
}

// percentEncode/percentDecode implement the restricted percent-encoding
// gRPC uses for the Grpc-Message trailer: only byte values outside the
// printable ASCII range (and '%' itself) are escaped, so ordinary ASCII
// error messages pass through unchanged and remain human-readable in a
// packet capture.
const upperhex = "0123456789ABCDEF"

func percentEncode(msg string) string {
	var out strings.Builder
	out.Grow(len(msg))
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		if c < 0x20 || c > 0x7e || c == '%' {
			out.WriteByte('%')
			out.WriteByte(upperhex[c>>4])
			out.WriteByte(upperhex[c&0xf])
			continue
		}
		out.WriteByte(c)
	}
	return out.String()
}

func percentDecode(msg string) string {
	if !strings.ContainsRune(msg, '%') {
		return msg
	}
	var out strings.Builder
	out.Grow(len(msg))
	for i := 0; i < len(msg); i++ {
		if msg[i] != '%' || i+2 >= len(msg) {
			out.WriteByte(msg[i])
			continue
		}
		hi, okHi := fromHex(msg[i+1])
		lo, okLo := fromHex(msg[i+2])
		if !okHi || !okLo {
			out.WriteByte(msg[i])
			continue
		}
		out.WriteByte(hi<<4 | lo)
		i += 2
	}
	return out.String()
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
