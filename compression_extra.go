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

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// Compression beyond gzip is genuinely optional (the registry is a
// pluggable name -> codec map), but the engine ships two more real,
// wired implementations so the registry has more than one non-trivial
// codec to exercise: zstd (higher ratio, still fast) and brotli (best
// ratio, used by browsers that speak gRPC-Web). Both compressor names
// match what's already in wide use on the wire ("zstd", "br").

const compressionZstd = "zstd"
const compressionBrotli = "br"

type zstdDecompressor struct {
	decoder *zstd.Decoder
}

func newZstdDecompressor(r io.Reader) (Decompressor, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &zstdDecompressor{decoder: dec}, nil
}

func (d *zstdDecompressor) Read(p []byte) (int, error) { return d.decoder.Read(p) }
func (d *zstdDecompressor) Reset(r io.Reader) error    { return d.decoder.Reset(r) }
func (d *zstdDecompressor) Close() error               { return d.decoder.Reset(nil) } // a closed zstd.Decoder can't be Reset, so pooled reuse needs it left open

type zstdCompressor struct {
	encoder *zstd.Encoder
}

func newZstdCompressor(w io.Writer) Compressor {
	enc, _ := zstd.NewWriter(w) // NewWriter only errors on invalid options, which we don't set
	return &zstdCompressor{encoder: enc}
}

func (c *zstdCompressor) Write(p []byte) (int, error) { return c.encoder.Write(p) }
func (c *zstdCompressor) Reset(w io.Writer)           { c.encoder.Reset(w) }
func (c *zstdCompressor) Close() error                { return c.encoder.Close() }

func newZstdCompressionPool() *compressionPool {
	return newCompressionPool(compressionZstd, newZstdDecompressor, newZstdCompressor)
}

type brotliDecompressor struct {
	reader *brotli.Reader
}

func newBrotliDecompressor(r io.Reader) (Decompressor, error) {
	return &brotliDecompressor{reader: brotli.NewReader(r)}, nil
}

func (d *brotliDecompressor) Read(p []byte) (int, error) { return d.reader.Read(p) }
func (d *brotliDecompressor) Reset(r io.Reader) error {
	return d.reader.Reset(r)
}
func (d *brotliDecompressor) Close() error { return nil }

type brotliCompressor struct {
	writer *brotli.Writer
}

func newBrotliCompressor(w io.Writer) Compressor {
	return &brotliCompressor{writer: brotli.NewWriter(w)}
}

func (c *brotliCompressor) Write(p []byte) (int, error) { return c.writer.Write(p) }
func (c *brotliCompressor) Reset(w io.Writer)           { c.writer.Reset(w) }
func (c *brotliCompressor) Close() error                { return c.writer.Close() }

func newBrotliCompressionPool() *compressionPool {
	return newCompressionPool(compressionBrotli, newBrotliDecompressor, newBrotliCompressor)
}
