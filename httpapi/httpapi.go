// Package httpapi exposes the acquisition engine over HTTP.  Handlers are
// closures over the orchestrator; the route table binds them to a chi
// router so the command surface can be mounted under any prefix.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/lightsheet/navigate/acquire"
	"github.com/lightsheet/navigate/config"
	"github.com/lightsheet/navigate/preview"
)

// MethodPath is the key to a route table entry
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps method and path to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Bind attaches each route to the router
func (rt RouteTable) Bind(r chi.Router) {
	for mp, handler := range rt {
		r.Method(mp.Method, mp.Path, handler)
	}
}

// Server is the HTTP surface over one orchestrator
type Server struct {
	// RouteTable holds the command routes; mount it with Bind
	RouteTable RouteTable
}

// NewServer builds the route table for an orchestrator.  The recorder may
// be nil, in which case the preview route reports 404.
func NewServer(cfg config.Config, o *acquire.Orchestrator, rec *preview.Recorder) *Server {
	s := &Server{}
	s.RouteTable = RouteTable{
		{http.MethodPost, "/acquire"}:    Acquire(cfg, o),
		{http.MethodPost, "/stop"}:       Stop(o),
		{http.MethodGet, "/status"}:      GetStatus(o),
		{http.MethodPost, "/experiment"}: UpdateExperiment(o),
		{http.MethodGet, "/preview"}:     Preview(rec),
	}
	return s
}

// Router returns a ready-to-mount router for the command surface
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	s.RouteTable.Bind(r)
	return r
}

// acquireRequest is the body of POST /acquire.  Experiment and saving
// default to the boot configuration when omitted.
type acquireRequest struct {
	Mode       string                  `json:"mode"`
	Experiment *config.MicroscopeState `json:"experiment,omitempty"`
	Saving     *config.Saving          `json:"saving,omitempty"`
}

// Acquire returns a handler that starts an acquisition command.  A
// request without an experiment snapshot falls back to the one stored by
// POST /experiment while idle, then to the boot configuration.
func Acquire(cfg config.Config, o *acquire.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req acquireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		state := cfg.Experiment
		if stored, ok := o.StoredState(); ok {
			state = stored
		}
		if req.Experiment != nil {
			state = *req.Experiment
		}
		saving := cfg.Saving
		if req.Saving != nil {
			saving = *req.Saving
		}
		runID, err := o.Run(acquire.Mode(req.Mode), state, saving)
		if err == acquire.ErrBusy {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"runID": runID})
	}
}

// Stop returns a handler that cancels the in-flight acquisition and
// blocks until the ring has drained
func Stop(o *acquire.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o.Stop()
		w.WriteHeader(http.StatusOK)
	}
}

// GetStatus returns a handler that reports the orchestrator snapshot
func GetStatus(o *acquire.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(o.Status())
	}
}

// UpdateExperiment returns a handler that replaces the experiment
// snapshot consulted at the next channel boundary
func UpdateExperiment(o *acquire.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var state config.MicroscopeState
		if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		if err := o.UpdateSetting(state); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Preview returns a handler that serves the most recent displayed plane
// as a FITS file
func Preview(rec *preview.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rec == nil {
			http.Error(w, "no preview sink attached", http.StatusNotFound)
			return
		}
		plane := rec.Latest()
		if plane == nil {
			http.Error(w, "no frame displayed yet", http.StatusNotFound)
			return
		}
		width, height := rec.Geometry()
		w.Header().Set("Content-Type", "image/fits")
		if err := preview.WriteFits(w, width, height, plane); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
