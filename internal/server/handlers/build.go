// Package handlers implements the per-project HTTP operations: submit,
// status, abort, cleanup, and the WebSocket log stream.
package handlers

import (
	"log/slog"
	"net/http"

	"git.home.luguber.info/inful/buildrelay/internal/auth"
	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
	"git.home.luguber.info/inful/buildrelay/internal/queue"
	"git.home.luguber.info/inful/buildrelay/internal/resolver"
	"git.home.luguber.info/inful/buildrelay/internal/server/responses"
)

// BuildHandlers serves the build lifecycle endpoints for all projects.
type BuildHandlers struct {
	cfg   *config.Store
	queue *queue.Manager
}

// NewBuildHandlers wires the build endpoints to the queue manager.
func NewBuildHandlers(cfg *config.Store, q *queue.Manager) *BuildHandlers {
	return &BuildHandlers{cfg: cfg, queue: q}
}

// authorize runs the project's effective auth policy. It writes the 401
// itself and reports whether the handler may proceed.
func (h *BuildHandlers) authorize(w http.ResponseWriter, r *http.Request, project string) bool {
	if auth.Authorize(r, h.cfg.Current().AuthFor(project)) {
		return true
	}
	writeJSON(w, http.StatusUnauthorized, responses.SubmitResponse{State: "unauthorized"})
	return false
}

// Submit handles the build endpoint for one project.
func (h *BuildHandlers) Submit(project string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.authorize(w, r, project) {
			return
		}

		payload, err := decodePayload(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, responses.SubmitResponse{State: "missing", Message: err.Error()})
			return
		}

		pc, ok := h.cfg.Current().Projects[project]
		if !ok {
			writeJSON(w, http.StatusNotFound, responses.SubmitResponse{State: "not_found"})
			return
		}

		for _, field := range pc.API.Build.Payload {
			if _, ok := payload[field]; !ok {
				writeJSON(w, http.StatusBadRequest, responses.SubmitResponse{
					State:   "missing",
					Message: "missing payload field: " + field,
				})
				return
			}
		}

		uniqueID := resolver.Coerce(payload[pc.UniqueBuildKey])
		if uniqueID == "" {
			writeJSON(w, http.StatusBadRequest, responses.SubmitResponse{
				State:   "missing",
				Message: "missing payload field: " + pc.UniqueBuildKey,
			})
			return
		}

		sub := h.queue.Submit(project, uniqueID, payload)

		data := map[string]any{}
		if sub.BuildID != "" {
			data["build_id"] = sub.BuildID
		}
		if sub.SocketToken != "" {
			data["socket_token"] = sub.SocketToken
		}

		switch sub.State {
		case queue.StateBuilding:
			for _, rf := range pc.API.Build.ReturnFields {
				key := rf.Name
				if key == "" {
					key = rf.Value
				}
				data[key] = resolver.Variable(rf.Value, payload, sub.SocketToken)
			}
			writeJSON(w, http.StatusOK, responses.SubmitResponse{
				Success: true,
				State:   string(sub.State),
				Message: "Build queued",
				Data:    data,
			})
		case queue.StateAlreadyRunning, queue.StateAlready:
			writeJSON(w, http.StatusConflict, responses.SubmitResponse{
				State:   string(sub.State),
				Message: "A build for this project is already in progress",
				Data:    data,
			})
		case queue.StateFull:
			writeJSON(w, http.StatusTooManyRequests, responses.SubmitResponse{
				State:   string(sub.State),
				Message: "Build queue is full",
				Data:    map[string]any{"queue_length": sub.QueueLength},
			})
		default:
			writeJSON(w, http.StatusNotFound, responses.SubmitResponse{State: string(sub.State)})
		}
	}
}

// IsBuilding handles the status endpoint for one project.
func (h *BuildHandlers) IsBuilding(project string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.authorize(w, r, project) {
			return
		}

		snap := h.queue.Status(project)
		resp := responses.StatusResponse{
			IsBuilding:  snap.IsBuilding,
			QueueLength: snap.QueueLength,
		}
		if snap.Current != nil {
			resp.CurrentBuild = &responses.CurrentBuild{
				ID:          snap.Current.ID,
				Status:      string(snap.Current.Status),
				CurrentStep: snap.Current.CurrentStep,
				TotalSteps:  snap.Current.TotalSteps,
				SocketToken: snap.Current.SocketToken,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Abort handles the abort endpoint for one project.
func (h *BuildHandlers) Abort(project string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.authorize(w, r, project) {
			return
		}

		payload, err := decodePayload(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, responses.StateResponse{State: "unique_key_not_found"})
			return
		}

		pc, ok := h.cfg.Current().Projects[project]
		if !ok {
			writeJSON(w, http.StatusNotFound, responses.StateResponse{State: "not_found"})
			return
		}

		uniqueID := resolver.Coerce(payload[pc.UniqueBuildKey])
		if uniqueID == "" {
			writeJSON(w, http.StatusBadRequest, responses.StateResponse{State: "unique_key_not_found"})
			return
		}

		switch state := h.queue.Abort(project, uniqueID); state {
		case queue.StateAborted:
			writeJSON(w, http.StatusOK, responses.StateResponse{State: string(state)})
		default:
			writeJSON(w, http.StatusNotFound, responses.StateResponse{State: string(state)})
		}
	}
}

// Cleanup handles the cleanup endpoint. It is intentionally a no-op beyond
// authorization and logging; build artifacts are managed by the retention
// janitor.
func (h *BuildHandlers) Cleanup(project string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.authorize(w, r, project) {
			return
		}
		slog.Info("Cleanup requested", logfields.Project(project))
		writeJSON(w, http.StatusOK, responses.StateResponse{State: "success"})
	}
}
