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
)

func TestZstdPoolRoundTrip(t *testing.T) {
	pool := newZstdCompressionPool()
	payload := []byte("zstandard round trip payload, repeated, repeated, repeated")

	compressed, err := pool.compress(payload)
	assert.NoError(t, err)

	decompressed, err := pool.decompress(compressed, 0)
	assert.NoError(t, err)
	assert.Equal(t, payload, decompressed)
}

func TestBrotliPoolRoundTrip(t *testing.T) {
	pool := newBrotliCompressionPool()
	payload := []byte("brotli round trip payload, repeated, repeated, repeated")

	compressed, err := pool.compress(payload)
	assert.NoError(t, err)

	decompressed, err := pool.decompress(compressed, 0)
	assert.NoError(t, err)
	assert.Equal(t, payload, decompressed)
}

func TestWithZstdAndBrotliRegisterCodecs(t *testing.T) {
	cfg := newClientConfig([]ClientOption{WithZstd(), WithBrotli()})
	assert.NotNil(t, cfg.Compressions.pool(compressionZstd))
	assert.NotNil(t, cfg.Compressions.pool(compressionBrotli))
	assert.NotNil(t, cfg.Compressions.pool(compressionGzip), "gzip stays registered by default")
}
