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
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeTimeoutRoundTrip(t *testing.T) {
	durations := []time.Duration{
		0,
		5 * time.Millisecond,
		30 * time.Second,
		10 * time.Minute,
		2 * time.Hour,
	}
	for _, d := range durations {
		encoded, err := encodeTimeout(d)
		assert.NoError(t, err)
		decoded, err := decodeTimeout(encoded)
		assert.NoError(t, err)
		// The unit chosen may coarsen the value (e.g. seconds truncate
		// sub-second durations), so compare floor-to-unit rather than exact.
		assert.LessOrEqual(t, decoded, d+time.Second)
	}
}

func TestEncodeTimeoutPicksFinestFittingUnit(t *testing.T) {
	encoded, err := encodeTimeout(99999999 * time.Nanosecond)
	assert.NoError(t, err)
	assert.Equal(t, "99999999n", encoded)

	encoded, err = encodeTimeout(100000000 * time.Nanosecond)
	assert.NoError(t, err)
	assert.Equal(t, "100000u", encoded)
}

func TestEncodeTimeoutNonPositiveIsZero(t *testing.T) {
	encoded, err := encodeTimeout(0)
	assert.NoError(t, err)
	assert.Equal(t, "0n", encoded)

	encoded, err = encodeTimeout(-5 * time.Second)
	assert.NoError(t, err)
	assert.Equal(t, "0n", encoded)
}

func TestDecodeTimeoutInvalid(t *testing.T) {
	_, err := decodeTimeout("")
	assert.Error(t, err)

	_, err = decodeTimeout("123x")
	assert.Error(t, err)

	_, err = decodeTimeout("123456789n")
	assert.Error(t, err)
}

func TestEncodeDecodeTimeoutMsRoundTrip(t *testing.T) {
	d := 1500 * time.Millisecond
	encoded := encodeTimeoutMs(d)
	assert.Equal(t, "1500", encoded)

	decoded, err := decodeTimeoutMs(encoded)
	assert.NoError(t, err)
	assert.Equal(t, d, decoded)
}

func TestEncodeTimeoutMsNonPositiveIsZero(t *testing.T) {
	assert.Equal(t, "0", encodeTimeoutMs(-10*time.Second))
}

func TestTimeUntilClampsPastDeadline(t *testing.T) {
	assert.Equal(t, time.Duration(0), timeUntil(time.Now().Add(-time.Hour)))
	assert.Greater(t, timeUntil(time.Now().Add(time.Hour)), time.Duration(0))
}
