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

// Package llamacpp talks to a local llama.cpp (or Ollama-compatible)
// inference server to learn its current slot occupancy. It is
// deliberately built on net/http directly rather than a third-party HTTP
// client: none of the retrieved examples use one, and the need here is a
// single GET with a bearer token and a short timeout, which the standard
// library already expresses cleanly.
package llamacpp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout bounds how long a single slots probe may take.
const DefaultTimeout = 3 * time.Second

// Slot is one entry from the backend's /slots response. State follows
// llama.cpp's convention: 0 is idle, any non-zero value is processing.
type Slot struct {
	ID    int `json:"id"`
	State int `json:"state"`
}

const slotStateIdle = 0

// SlotsResponse summarizes a successful or rejected slots probe.
type SlotsResponse struct {
	IsAuthorized         bool
	IsSlotsEndpointReady bool
	Slots                []Slot
}

// IdleCount returns how many slots report the idle state.
func (r SlotsResponse) IdleCount() int {
	n := 0
	for _, s := range r.Slots {
		if s.State == slotStateIdle {
			n++
		}
	}
	return n
}

// ProcessingCount returns how many slots report a non-idle state.
func (r SlotsResponse) ProcessingCount() int {
	return len(r.Slots) - r.IdleCount()
}

// Client fetches slot occupancy from a single local backend.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

// NewClient builds a Client that polls addr's /slots endpoint. apiKey may
// be empty.
func NewClient(addr, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		endpoint:   fmt.Sprintf("http://%s/slots", addr),
		apiKey:     apiKey,
	}
}

// GetAvailableSlots fetches and classifies the backend's current slots.
// A 401 response is reported as IsAuthorized=false with no error, since
// that is itself meaningful status information, not a failure to report.
// A 501 response means the backend was built without the slots endpoint,
// reported as IsSlotsEndpointReady=false. Any other non-200 status, or a
// transport failure, is returned as an error.
func (c *Client) GetAvailableSlots(ctx context.Context) (SlotsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return SlotsResponse{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SlotsResponse{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var slots []Slot
		if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
			return SlotsResponse{}, err
		}
		return SlotsResponse{IsAuthorized: true, IsSlotsEndpointReady: true, Slots: slots}, nil
	case http.StatusUnauthorized:
		return SlotsResponse{IsAuthorized: false}, nil
	case http.StatusNotImplemented:
		return SlotsResponse{IsAuthorized: true, IsSlotsEndpointReady: false}, nil
	default:
		return SlotsResponse{}, fmt.Errorf("llamacpp: unexpected status %d from %s", resp.StatusCode, c.endpoint)
	}
}
