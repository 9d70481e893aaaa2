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

package balancer

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// ManagementAPI exposes read-only visibility into the pool over HTTP. See
// spec section 5.
type ManagementAPI struct {
	pool *Pool
}

// NewManagementAPI constructs a ManagementAPI bound to pool.
func NewManagementAPI(pool *Pool) *ManagementAPI {
	return &ManagementAPI{pool: pool}
}

// Register adds the management API's routes to router.
func (m *ManagementAPI) Register(router *httprouter.Router) {
	router.GET("/api/v1/agents", m.listAgents)
	router.GET("/api/v1/agents/:agentID", m.getAgent)
	router.GET("/healthz", m.healthz)
}

func (m *ManagementAPI) listAgents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, agentsResponse{Agents: toAgentViews(m.pool.Snapshot().Peers)})
}

func (m *ManagementAPI) getAgent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	view, ok := m.pool.PeerByID(ps.ByName("agentID"))
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toAgentView(view))
}

// healthz reports the balancer's own liveness, independent of fleet state.
// It always returns 200 once the process is serving requests at all.
func (m *ManagementAPI) healthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type agentsResponse struct {
	Agents []agentView `json:"agents"`
}

// agentView is the management API's JSON projection of a peer. Field names
// follow the wire contract's snake_case convention rather than PeerView's
// Go-idiomatic names.
type agentView struct {
	AgentID              string  `json:"agent_id"`
	AgentName            *string `json:"agent_name,omitempty"`
	ExternalBackendAddr  string  `json:"external_llamacpp_addr"`
	Error                *string `json:"error,omitempty"`
	IsAuthorized         string  `json:"is_authorized"`
	IsSlotsEndpointReady string  `json:"is_slots_endpoint_enabled"`
	SlotsIdle            int     `json:"slots_idle"`
	SlotsProcessing      int     `json:"slots_processing"`
	SlotsTaken           int     `json:"slots_taken"`
	Usable               bool    `json:"usable"`
}

func toAgentView(v PeerView) agentView {
	return agentView{
		AgentID:              v.AgentID,
		AgentName:            v.AgentName,
		ExternalBackendAddr:  v.ExternalBackendAddr,
		Error:                v.Error,
		IsAuthorized:         v.IsAuthorized.String(),
		IsSlotsEndpointReady: v.IsSlotsEndpointReady.String(),
		SlotsIdle:            v.SlotsIdle,
		SlotsProcessing:      v.SlotsProcessing,
		SlotsTaken:           v.SlotsTaken,
		Usable:               v.Usable,
	}
}

func toAgentViews(peers []PeerView) []agentView {
	out := make([]agentView, 0, len(peers))
	for _, p := range peers {
		out = append(out, toAgentView(p))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
