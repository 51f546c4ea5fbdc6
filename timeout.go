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
	"fmt"
	"strconv"
	"time"
)

// timeUntil clamps the duration until deadline to zero so an already-passed
// deadline still encodes as a valid (if immediately-expiring) timeout rather
// than a negative one.
func timeUntil(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	return d
}

// timeoutUnits lists the single-character unit suffixes the gRPC Timeout
// header (reused verbatim by gRPC-Web) supports, most to least precise.
// encodeTimeout picks the finest unit that still fits the value in 8
// decimal digits, since that's the wire format's hard limit.
var timeoutUnits = []struct {
	suffix byte
	unit   time.Duration
}{
	{'n', time.Nanosecond},
	{'u', time.Microsecond},
	{'m', time.Millisecond},
	{'S', time.Second},
	{'M', time.Minute},
	{'H', time.Hour},
}

const maxTimeoutDigits = 8
const maxTimeoutValue = 99999999

// encodeTimeout renders a duration as "Grpc-Timeout"/"Connect-Timeout-Ms"
// expects: an ASCII integer of at most 8 digits, plus (for gRPC) a unit
// suffix chosen so the integer fits. Connect's own timeout header is always
// milliseconds with no suffix (handled separately in protocol_connect.go).
func encodeTimeout(d time.Duration) (string, error) {
	if d <= 0 {
		return "0n", nil
	}
	for _, u := range timeoutUnits {
		value := d / u.unit
		if value <= maxTimeoutValue {
			return strconv.FormatInt(int64(value), 10) + string(u.suffix), nil
		}
	}
	return "", fmt.Errorf("duration %v is too large to encode as a gRPC timeout", d)
}

// decodeTimeout parses a Grpc-Timeout value back into a duration. Connect's
// Connect-Timeout-Ms (unary and streaming alike) goes through
// decodeTimeoutMs instead.
func decodeTimeout(value string) (time.Duration, error) {
	if len(value) == 0 {
		return 0, fmt.Errorf("empty timeout value")
	}
	if len(value) > maxTimeoutDigits+1 {
		return 0, fmt.Errorf("timeout value %q too long", value)
	}
	suffix := value[len(value)-1]
	digits := value[:len(value)-1]
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout value %q: %w", value, err)
	}
	for _, u := range timeoutUnits {
		if u.suffix == suffix {
			return time.Duration(n) * u.unit, nil
		}
	}
	return 0, fmt.Errorf("invalid timeout unit %q", string(suffix))
}

// encodeTimeoutMs renders a duration as whole milliseconds for Connect's
// Connect-Timeout-Ms header, which (unlike gRPC) has no unit suffix or
// digit-count limit.
func encodeTimeoutMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms <= 0 {
		ms = 0
	}
	return strconv.FormatInt(ms, 10)
}

func decodeTimeoutMs(value string) (time.Duration, error) {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid Connect-Timeout-Ms value %q: %w", value, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
