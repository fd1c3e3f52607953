// Package methods implements the Control API's RPC method handlers,
// one file per resource, each wired into a gateway.MethodRouter via a
// Register(router) method — this corpus's per-feature registration
// convention (methods/channel_instances.go).
package methods

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/relaycrew/chatrelay/internal/filter"
	"github.com/relaycrew/chatrelay/internal/gateway"
	"github.com/relaycrew/chatrelay/internal/store"
	"github.com/relaycrew/chatrelay/internal/supervisor"
	"github.com/relaycrew/chatrelay/pkg/protocol"
)

// filterPolicyParams is the wire shape of jobs.create's filter_policy
// field, mapping directly onto filter.NewPolicy's parameters (§4.3:
// text-only, all-media, a named media class set, or literal extensions).
type filterPolicyParams struct {
	AllMedia   bool                `json:"all_media"`
	TextOnly   bool                `json:"text_only"`
	Classes    []filter.MediaClass `json:"classes"`
	Extensions []string            `json:"extensions"`
}

// JobsMethods handles job CRUD and lifecycle RPCs.
type JobsMethods struct {
	sv *supervisor.Supervisor
}

// NewJobsMethods creates a handler for jobs.* methods and stats.
func NewJobsMethods(sv *supervisor.Supervisor) *JobsMethods {
	return &JobsMethods{sv: sv}
}

// Register wires every jobs.* method into router.
func (m *JobsMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodJobsCreate, m.handleCreate)
	router.Register(protocol.MethodJobsStart, m.handleStart)
	router.Register(protocol.MethodJobsStop, m.handleStop)
	router.Register(protocol.MethodJobsDelete, m.handleDelete)
	router.Register(protocol.MethodJobsGet, m.handleGet)
	router.Register(protocol.MethodJobsList, m.handleList)
	router.Register(protocol.MethodStats, m.handleStats)
}

func (m *JobsMethods) handleCreate(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		ID            string              `json:"id"`
		Name          string              `json:"name"`
		SourceRef     string              `json:"source_ref"`
		TargetRef     string              `json:"target_ref"`
		AccountIDs    []string            `json:"account_ids"`
		FilterPolicy  filterPolicyParams  `json:"filter_policy"`
		ResetProgress bool                `json:"reset_progress"`
		Rate          store.RateParams    `json:"rate"`
	}
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params"))
			return
		}
	}

	if params.SourceRef == "" || params.TargetRef == "" || len(params.AccountIDs) == 0 {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "source_ref, target_ref, and account_ids are required"))
		return
	}
	if params.ID == "" {
		params.ID = uuid.NewString()
	}

	fp := params.FilterPolicy
	classes := make([]string, len(fp.Classes))
	for i, c := range fp.Classes {
		classes[i] = string(c)
	}
	m.sv.RegisterPolicy(params.ID, filter.NewPolicy(fp.AllMedia, fp.TextOnly, fp.Classes, fp.Extensions))

	job := store.Job{
		ID:             params.ID,
		Name:           params.Name,
		SourceRef:      params.SourceRef,
		TargetRef:      params.TargetRef,
		AccountIDs:     params.AccountIDs,
		FilterPolicyID: params.ID,
		FilterPolicy: store.FilterPolicySpec{
			AllMedia: fp.AllMedia, TextOnly: fp.TextOnly, Classes: classes, Extensions: fp.Extensions,
		},
		ResetProgress: params.ResetProgress,
		Rate:          params.Rate,
	}

	if err := m.sv.Create(job); err != nil {
		slog.Error("jobs.create", "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, job))
}

func (m *JobsMethods) handleStart(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		ID string `json:"id"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if err := m.sv.Start(ctx, params.ID); err != nil {
		slog.Error("jobs.start", "job_id", params.ID, "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrConflict, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]string{"status": "started"}))
}

func (m *JobsMethods) handleStop(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		ID string `json:"id"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if err := m.sv.Stop(params.ID); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]string{"status": "stopped"}))
}

func (m *JobsMethods) handleDelete(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		ID string `json:"id"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if err := m.sv.Delete(params.ID); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]string{"status": "deleted"}))
}

func (m *JobsMethods) handleGet(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		ID string `json:"id"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	job, err := m.sv.Get(params.ID)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "job not found"))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, job))
}

func (m *JobsMethods) handleList(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	jobs, err := m.sv.List()
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "failed to list jobs"))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"jobs": jobs}))
}

func (m *JobsMethods) handleStats(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		AccountsConnected int `json:"accounts_connected"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	stats, err := m.sv.Stats(params.AccountsConnected)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "failed to compute stats"))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, stats))
}
