// Copyright (c) 2026 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package protocol

import "bytes"

// TriState models a boolean that can also be unknown, matching the
// agent->balancer wire format where is_authorized and
// is_slots_endpoint_enabled may be true, false, or null.
type TriState int

const (
	// Unknown means the agent did not report a value.
	Unknown TriState = iota
	// True means the agent reported the condition holds.
	True
	// False means the agent reported the condition does not hold.
	False
)

// IsFalse reports whether the state is explicitly False. Unknown is not
// False: a peer is usable unless something has actively said otherwise.
func (t TriState) IsFalse() bool { return t == False }

func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

var nullBytes = []byte("null")

// MarshalJSON renders Unknown as null, matching the wire contract.
func (t TriState) MarshalJSON() ([]byte, error) {
	switch t {
	case True:
		return []byte("true"), nil
	case False:
		return []byte("false"), nil
	default:
		return nullBytes, nil
	}
}

// UnmarshalJSON accepts true, false, or null.
func (t *TriState) UnmarshalJSON(data []byte) error {
	switch {
	case bytes.Equal(data, nullBytes):
		*t = Unknown
	case bytes.Equal(data, []byte("true")):
		*t = True
	case bytes.Equal(data, []byte("false")):
		*t = False
	default:
		return &unmarshalError{typeName: "TriState", value: string(data)}
	}
	return nil
}

// FromBool converts a plain bool into a known TriState.
func FromBool(b bool) TriState {
	if b {
		return True
	}
	return False
}

type unmarshalError struct {
	typeName string
	value    string
}

func (e *unmarshalError) Error() string {
	return "protocol: cannot unmarshal " + e.value + " into " + e.typeName
}
