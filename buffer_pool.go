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
	"sync"
)

// bufferPool amortizes the allocation cost of the scratch buffers the
// envelope codec and compression layer both need for every message. It's
// the only mutable state shared across clients; within a client, the
// compression registry's (de)compressor pools are the only other state that
// changes after construction. sync.Pool is already safe for concurrent use,
// so no extra locking is needed here.
var globalBufferPool = &sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

func getBuffer() *bytes.Buffer {
	buf := globalBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	// Don't pool buffers that have grown unreasonably large; otherwise one
	// enormous message would pin that memory in the pool forever.
	const maxPooledCapacity = 1 << 20 // 1 MiB
	if buf.Cap() > maxPooledCapacity {
		return
	}
	globalBufferPool.Put(buf)
}

func newBytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
