package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/nodeflow/internal/config"
	"github.com/gyaneshwarpardhi/nodeflow/internal/engine"
	"github.com/gyaneshwarpardhi/nodeflow/internal/graph"
)

const maxBodyBytes = 1 << 20

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng    *engine.Engine
	loader *config.Loader
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes. loader may be nil,
// in which case design reloads are rejected.
func New(eng *engine.Engine, loader *config.Loader) http.Handler {
	h := &Handler{eng: eng, loader: loader, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /v1/nodes", h.listNodes)
	h.mux.HandleFunc("POST /v1/nodes", h.addNode)
	h.mux.HandleFunc("GET /v1/nodes/{id}", h.getNode)
	h.mux.HandleFunc("DELETE /v1/nodes/{id}", h.removeNode)
	h.mux.HandleFunc("PUT /v1/nodes/{id}/properties", h.setProperties)
	h.mux.HandleFunc("POST /v1/nodes/{id}/execute", h.requestExecution)
	h.mux.HandleFunc("POST /v1/nodes/{id}/reset", h.resetExecution)
	h.mux.HandleFunc("GET /v1/links", h.listLinks)
	h.mux.HandleFunc("POST /v1/links", h.addLink)
	h.mux.HandleFunc("DELETE /v1/links/{id}", h.removeLink)
	h.mux.HandleFunc("GET /v1/links/{id}/value", h.linkValue)
	h.mux.HandleFunc("GET /v1/types", h.listTypes)
	h.mux.HandleFunc("GET /v1/engine", h.engineStats)
	h.mux.HandleFunc("POST /v1/engine/pause", h.pause)
	h.mux.HandleFunc("POST /v1/engine/resume", h.resume)
	h.mux.HandleFunc("POST /v1/design/reload", h.reloadDesign)
	h.mux.HandleFunc("DELETE /v1/design", h.clearDesign)
	h.mux.HandleFunc("GET /v1/events", h.streamEvents)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return false
	}
	return true
}

// GET /v1/nodes: every node with its state and status.
func (h *Handler) listNodes(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.eng.Snapshot()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": snaps})
}

// POST /v1/nodes: add a node; a missing id is generated.
func (h *Handler) addNode(w http.ResponseWriter, r *http.Request) {
	var spec engine.NodeSpec
	if !decode(w, r, &spec) {
		return
	}
	if spec.Type == "" {
		writeError(w, http.StatusBadRequest, "node type is required")
		return
	}
	id, err := h.eng.AddNode(spec)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	snap, err := h.eng.Node(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// GET /v1/nodes/{id}
func (h *Handler) getNode(w http.ResponseWriter, r *http.Request) {
	snap, err := h.eng.Node(r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DELETE /v1/nodes/{id}
func (h *Handler) removeNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.eng.RemoveNode(id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": id})
}

// PUT /v1/nodes/{id}/properties: replace properties and re-run the node.
func (h *Handler) setProperties(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var props map[string]any
	if !decode(w, r, &props) {
		return
	}
	if err := h.eng.SetProperties(id, props); err != nil {
		writeEngineError(w, err)
		return
	}
	h.writeNode(w, http.StatusOK, id)
}

// POST /v1/nodes/{id}/execute
func (h *Handler) requestExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.eng.RequestExecution(id); err != nil {
		writeEngineError(w, err)
		return
	}
	h.writeNode(w, http.StatusAccepted, id)
}

// POST /v1/nodes/{id}/reset
func (h *Handler) resetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.eng.ResetExecution(id); err != nil {
		writeEngineError(w, err)
		return
	}
	h.writeNode(w, http.StatusOK, id)
}

func (h *Handler) writeNode(w http.ResponseWriter, status int, id string) {
	snap, err := h.eng.Node(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, status, snap)
}

// GET /v1/links
func (h *Handler) listLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.eng.Links()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links})
}

// POST /v1/links: connect two ports; a missing id is generated.
func (h *Handler) addLink(w http.ResponseWriter, r *http.Request) {
	var def config.LinkDef
	if !decode(w, r, &def) {
		return
	}
	l, err := h.eng.AddLink(graph.Link{
		ID:       def.ID,
		FromNode: def.From.Node,
		FromPort: def.From.Port,
		ToNode:   def.To.Node,
		ToPort:   def.To.Port,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// DELETE /v1/links/{id}
func (h *Handler) removeLink(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.eng.RemoveLink(id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": id})
}

// GET /v1/links/{id}/value: the cached value carried by a link.
func (h *Handler) linkValue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, ok, err := h.eng.LinkValue(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        id,
		"has_value": ok,
		"value":     v,
	})
}

// GET /v1/types: registered node types.
func (h *Handler) listTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"types": h.eng.Registry().Schema().NodeTypes(),
	})
}

// GET /v1/engine
func (h *Handler) engineStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.eng.Stats()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// POST /v1/engine/pause
func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.Pause(); err != nil {
		writeEngineError(w, err)
		return
	}
	h.engineStats(w, r)
}

// POST /v1/engine/resume
func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.Resume(); err != nil {
		writeEngineError(w, err)
		return
	}
	h.engineStats(w, r)
}

// POST /v1/design/reload: re-read the design file and swap the graph.
func (h *Handler) reloadDesign(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusConflict, "no design file to reload")
		return
	}
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := config.Validate(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.eng.LoadDesign(&cfg.Design); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"nodes":    len(cfg.Design.Nodes),
		"links":    len(cfg.Design.Links),
	})
}

// DELETE /v1/design: remove every node and link.
func (h *Handler) clearDesign(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.Clear(); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 once the engine has shut down.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	stats, err := h.eng.Stats()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"engine": stats,
	})
}
