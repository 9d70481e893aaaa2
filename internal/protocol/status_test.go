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

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusUpdate_RoundTrip(t *testing.T) {
	name := "agent-1"
	errMsg := "connection refused"

	cases := []StatusUpdate{
		{
			AgentName:            &name,
			ExternalBackendAddr:  "10.0.0.5:8080",
			SlotsIdle:            3,
			SlotsProcessing:      1,
			IsAuthorized:         True,
			IsSlotsEndpointReady: Unknown,
		},
		{
			Error:                &errMsg,
			ExternalBackendAddr:  "10.0.0.6:8080",
			IsAuthorized:         False,
			IsSlotsEndpointReady: False,
		},
	}

	for _, want := range cases {
		data, err := json.Marshal(want)
		require.NoError(t, err)

		var got StatusUpdate
		require.NoError(t, json.Unmarshal(data, &got))

		assert.Equal(t, want.ExternalBackendAddr, got.ExternalBackendAddr)
		assert.Equal(t, want.SlotsIdle, got.SlotsIdle)
		assert.Equal(t, want.SlotsProcessing, got.SlotsProcessing)
		assert.Equal(t, want.IsAuthorized, got.IsAuthorized)
		assert.Equal(t, want.IsSlotsEndpointReady, got.IsSlotsEndpointReady)
		if want.AgentName != nil {
			require.NotNil(t, got.AgentName)
			assert.Equal(t, *want.AgentName, *got.AgentName)
		}
		if want.Error != nil {
			require.NotNil(t, got.Error)
			assert.Equal(t, *want.Error, *got.Error)
		}
	}
}

func TestStatusUpdate_NullTriStateIsUnknown(t *testing.T) {
	var got StatusUpdate
	require.NoError(t, json.Unmarshal([]byte(`{
		"agent_name": null,
		"error": null,
		"external_llamacpp_addr": "127.0.0.1:8080",
		"slots_idle": 2,
		"slots_processing": 0,
		"is_authorized": null,
		"is_slots_endpoint_enabled": null
	}`), &got))

	assert.Equal(t, Unknown, got.IsAuthorized)
	assert.Equal(t, Unknown, got.IsSlotsEndpointReady)
	assert.False(t, got.HasError())
}

func TestStatusUpdate_Clone(t *testing.T) {
	name := "a1"
	orig := StatusUpdate{AgentName: &name}
	clone := orig.Clone()
	*clone.AgentName = "mutated"

	assert.Equal(t, "a1", *orig.AgentName)
	assert.Equal(t, "mutated", *clone.AgentName)
}
