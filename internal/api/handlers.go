package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearthboard/hearth/internal/manifest"
	"github.com/hearthboard/hearth/internal/supervisor"
)

// HealthzResponse is the GET /healthz body.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Instances     int    `json:"instances"`
	WidgetsLoaded int    `json:"widgets_loaded"`
}

// CreateInstanceRequest is the POST /instances body.
type CreateInstanceRequest struct {
	WidgetID   string         `json:"widget_id"`
	InstanceID string         `json:"instance_id,omitempty"`
	Settings   map[string]any `json:"settings,omitempty"`
	// Start controls whether the instance starts immediately. Defaults
	// to true.
	Start *bool `json:"start,omitempty"`
}

// ErrorResponse is the common error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	widgets := 0
	if s.widgets != nil {
		widgets = len(s.widgets.All())
	}
	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Instances:     len(s.manager.List()),
		WidgetsLoaded: widgets,
	})
}

// handleListWidgets handles GET /widgets.
func (s *Server) handleListWidgets(w http.ResponseWriter, r *http.Request) {
	type widgetInfo struct {
		ID          string                 `json:"id"`
		Name        string                 `json:"name"`
		Version     string                 `json:"version"`
		Description string                 `json:"description,omitempty"`
		Execution   manifest.ExecutionMode `json:"execution"`
	}
	out := []widgetInfo{}
	if s.widgets != nil {
		for _, def := range s.widgets.All() {
			out = append(out, widgetInfo{
				ID:          def.ID,
				Name:        def.Name,
				Version:     def.Version,
				Description: def.Description,
				Execution:   def.Execution,
			})
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleListWorkers handles GET /workers.
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	records := []supervisor.Record{}
	if s.workers != nil {
		records = s.workers.Records()
	}
	s.writeJSON(w, http.StatusOK, records)
}

// handleListInstances handles GET /instances.
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.List())
}

// handleCreateInstance handles POST /instances.
func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.WidgetID == "" {
		s.writeError(w, http.StatusBadRequest, "widget_id is required")
		return
	}

	id, err := s.manager.CreateInstance(req.WidgetID, req.InstanceID, req.Settings)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if req.Start == nil || *req.Start {
		if err := s.manager.StartInstance(id); err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	info, _ := s.manager.Get(id)
	s.writeJSON(w, http.StatusCreated, info)
}

// handleGetInstance handles GET /instances/{instanceID}.
func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	info, ok := s.manager.Get(chi.URLParam(r, "instanceID"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// handleDestroyInstance handles DELETE /instances/{instanceID}.
func (s *Server) handleDestroyInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")
	if _, ok := s.manager.Get(id); !ok {
		s.writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	s.manager.DestroyInstance(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleRefresh handles POST /instances/{instanceID}/refresh. The update
// still goes through the scheduler's throttle.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")
	if err := s.manager.RequestUpdate(id, "api"); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleRender handles GET /instances/{instanceID}/render.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")
	width := queryInt(r, "width")
	height := queryInt(r, "height")

	data, err := s.manager.Render(id, width, height)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, data)
}

// handleSettings handles POST /instances/{instanceID}/settings.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")

	var settings map[string]any
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.manager.ApplySettings(id, settings); err != nil {
		if _, ok := s.manager.Get(id); !ok {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
