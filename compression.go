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
	"compress/gzip"
	"io"
	"sync"
)

// Decompressor is anything that can undo a Compressor's transform. Most
// implementations wrap a stdlib or third-party streaming decompressor.
type Decompressor interface {
	io.Reader
	// Reset prepares the decompressor to read a new compressed stream from r.
	Reset(r io.Reader) error
	// Close releases any resources held by the decompressor.
	Close() error
}

// Compressor is anything that can compress a stream of bytes. It mirrors
// Decompressor so the two can be pooled symmetrically.
type Compressor interface {
	io.Writer
	// Reset prepares the compressor to write a new compressed stream to w.
	Reset(w io.Writer)
	// Close flushes any buffered data and finalizes the compressed stream.
	Close() error
}

// compressionPool pools a named codec's (de)compressors so that repeated
// calls don't pay allocation cost. Each clientConfig owns its own
// registry of pools, keyed by wire name ("gzip", "br", "zstd", ...).
type compressionPool struct {
	name            string
	decompressors   sync.Pool
	compressors     sync.Pool
	newDecompressor func(io.Reader) (Decompressor, error)
	newCompressor   func(io.Writer) Compressor
}

func newCompressionPool(
	name string,
	newDecompressor func(io.Reader) (Decompressor, error),
	newCompressor func(io.Writer) Compressor,
) *compressionPool {
	return &compressionPool{name: name, newDecompressor: newDecompressor, newCompressor: newCompressor}
}

func (p *compressionPool) getDecompressor(r io.Reader) (Decompressor, error) {
	if existing := p.decompressors.Get(); existing != nil {
		d := existing.(Decompressor)
		if err := d.Reset(r); err != nil {
			return nil, err
		}
		return d, nil
	}
	return p.newDecompressor(r)
}

func (p *compressionPool) putDecompressor(d Decompressor) {
	_ = d.Close()
	p.decompressors.Put(d)
}

func (p *compressionPool) getCompressor(w io.Writer) Compressor {
	if existing := p.compressors.Get(); existing != nil {
		c := existing.(Compressor)
		c.Reset(w)
		return c
	}
	return p.newCompressor(w)
}

func (p *compressionPool) putCompressor(c Compressor) {
	p.compressors.Put(c)
}

// decompress reads all of compressed through the pool's codec and returns
// the decompressed bytes, failing with CodeResourceExhausted if they exceed
// a positive maxBytes.
func (p *compressionPool) decompress(compressed []byte, maxBytes int64) ([]byte, error) {
	r := newBytesReader(compressed)
	decompressor, err := p.getDecompressor(r)
	if err != nil {
		return nil, errorf(CodeInvalidArgument, "can't read %s-compressed message: %w", p.name, err)
	}
	defer p.putDecompressor(decompressor)
	reader := io.Reader(decompressor)
	if maxBytes > 0 {
		reader = io.LimitReader(decompressor, maxBytes+1)
	}
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, errorf(CodeInternal, "can't decompress %s message: %w", p.name, err)
	}
	if maxBytes > 0 && int64(len(out)) > maxBytes {
		return nil, errorf(CodeResourceExhausted, "message is larger than configured max %d bytes after decompression", maxBytes)
	}
	return out, nil
}

// compress writes payload through the pool's codec into a fresh buffer.
func (p *compressionPool) compress(payload []byte) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)
	compressor := p.getCompressor(buf)
	if _, err := compressor.Write(payload); err != nil {
		p.putCompressor(compressor)
		return nil, errorf(CodeInternal, "can't compress with %s: %w", p.name, err)
	}
	if err := compressor.Close(); err != nil {
		return nil, errorf(CodeInternal, "can't flush %s compressor: %w", p.name, err)
	}
	p.putCompressor(compressor)
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// compressionRegistry is the per-client name -> pool mapping a ClientOption
// builds up via WithGzip/WithZstd/WithBrotli/WithCodec. It also owns the
// request-compression policy: which codec (if any) to use for outgoing
// messages, and the minimum payload size before bothering.
type compressionRegistry struct {
	pools map[string]*compressionPool
	order []string

	requestName     string
	requestMinBytes int
}

func newCompressionRegistry() *compressionRegistry {
	return &compressionRegistry{pools: make(map[string]*compressionPool)}
}

func (r *compressionRegistry) register(pool *compressionPool) {
	if _, exists := r.pools[pool.name]; !exists {
		r.order = append(r.order, pool.name)
	}
	r.pools[pool.name] = pool
}

// pool returns the pool registered under name, or nil if no such codec is
// known.
func (r *compressionRegistry) pool(name string) *compressionPool {
	if name == "" || name == compressionIdentity {
		return nil
	}
	return r.pools[name]
}

// names returns every registered codec name, in registration order, for use
// in Accept-Encoding-style headers.
func (r *compressionRegistry) names() []string {
	return append([]string(nil), r.order...)
}

const compressionIdentity = "identity"
const compressionGzip = "gzip"

// gzipDecompressor/gzipCompressor adapt the standard library's compress/gzip
// to the Decompressor/Compressor interfaces. gzip is the only compression
// algorithm every protocol implementation is required to understand, so it's
// the one built-in that ships regardless of which optional codecs (zstd,
// brotli — see WithZstd/WithBrotli) a caller wires in.
type gzipDecompressor struct {
	reader *gzip.Reader
}

func newGzipDecompressor(r io.Reader) (Decompressor, error) {
	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &gzipDecompressor{reader: gzReader}, nil
}

func (d *gzipDecompressor) Read(p []byte) (int, error) { return d.reader.Read(p) }
func (d *gzipDecompressor) Reset(r io.Reader) error    { return d.reader.Reset(r) }
func (d *gzipDecompressor) Close() error               { return d.reader.Close() }

type gzipCompressor struct {
	writer *gzip.Writer
}

func newGzipCompressor(w io.Writer) Compressor {
	return &gzipCompressor{writer: gzip.NewWriter(w)}
}

func (c *gzipCompressor) Write(p []byte) (int, error) { return c.writer.Write(p) }
func (c *gzipCompressor) Reset(w io.Writer)           { c.writer.Reset(w) }
func (c *gzipCompressor) Close() error                { return c.writer.Close() }

func newGzipCompressionPool() *compressionPool {
	return newCompressionPool(compressionGzip, newGzipDecompressor, newGzipCompressor)
}
