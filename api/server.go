// Package api provides the REST API server for PLC data.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"slclink/config"
	"slclink/logging"
	"slclink/plcman"
)

// Server is the REST API server.
type Server struct {
	manager *plcman.Manager
	config  *config.WebConfig
	server  *http.Server
	running bool
	mu      sync.RWMutex
}

// NewServer creates a new REST API server.
func NewServer(manager *plcman.Manager, cfg *config.WebConfig) *Server {
	return &Server{
		manager: manager,
		config:  cfg,
	}
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start begins the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:    addr,
		Handler: corsMiddleware(NewRouter(s.manager)),
	}

	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logging.DebugError("api", "listen", err)
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	logging.DebugLog("api", "REST server listening on %s", addr)
	s.running = true
	return nil
}

// Stop halts the HTTP server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	return err
}

// Address returns the server address.
func (s *Server) Address() string {
	return "http://" + s.config.Addr()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// PLCResponse is the JSON response for PLC info.
type PLCResponse struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Family  string `json:"family"`
	Status  string `json:"status"`
	Model   string `json:"model,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TagResponse is the JSON response for a tag value.
// When a tag has an alias, Name holds the alias and MemLoc the data
// table address.
type TagResponse struct {
	PLC    string      `json:"plc"`
	Name   string      `json:"name"`
	MemLoc string      `json:"memloc,omitempty"`
	Type   string      `json:"type,omitempty"`
	Value  interface{} `json:"value"`
	Error  string      `json:"error,omitempty"`
}

// FileResponse is the JSON response for one data table file.
type FileResponse struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Elements int    `json:"elements"`
	Length   int    `json:"length"`
	Writable bool   `json:"writable"`
}

// HealthResponse is the JSON structure for PLC health status.
type HealthResponse struct {
	PLC       string `json:"plc"`
	Online    bool   `json:"online"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WriteRequest is the JSON request for writing a tag value.
type WriteRequest struct {
	PLC   string      `json:"plc"`
	Tag   string      `json:"tag"`
	Value interface{} `json:"value"`
}

// WriteResponse is the JSON response after writing a tag value.
type WriteResponse struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// handlers holds the API handler functions.
type handlers struct {
	manager *plcman.Manager
}

// NewRouter creates the REST API router. Data table addresses contain
// ':' and '/', so tag lookups use a wildcard route.
func NewRouter(manager *plcman.Manager) chi.Router {
	r := chi.NewRouter()
	h := &handlers{manager: manager}

	// Root - list PLCs
	r.Get("/", h.handleListPLCs)

	// PLC-specific endpoints
	r.Route("/{plc}", func(r chi.Router) {
		r.Get("/", h.handlePLCDetails)
		r.Get("/health", h.handlePLCHealth)
		r.Get("/files", h.handleFiles)
		r.Get("/tags", h.handleAllTags)
		r.Get("/tags/*", h.handleSingleTag)
		r.Post("/write", h.handleWrite)
	})

	return r
}

func (h *handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *handlers) getPLC(w http.ResponseWriter, r *http.Request) *plcman.ManagedPLC {
	plcName := chi.URLParam(r, "plc")
	plcName, _ = url.PathUnescape(plcName)

	plc := h.manager.GetPLC(plcName)
	if plc == nil {
		h.writeError(w, http.StatusNotFound, "PLC not found")
		return nil
	}
	return plc
}

func plcResponse(plc *plcman.ManagedPLC) PLCResponse {
	resp := PLCResponse{
		Name:    plc.Config.Name,
		Address: plc.Config.Address,
		Family:  string(plc.Config.GetFamily()),
		Status:  plc.GetStatus().String(),
	}

	if dev := plc.GetDevice(); dev != nil {
		resp.Model = dev.Model
	}
	if err := plc.GetError(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (h *handlers) handleListPLCs(w http.ResponseWriter, r *http.Request) {
	plcs := h.manager.ListPLCs()
	response := make([]PLCResponse, 0, len(plcs))

	for _, plc := range plcs {
		response = append(response, plcResponse(plc))
	}

	h.writeJSON(w, response)
}

func (h *handlers) handlePLCDetails(w http.ResponseWriter, r *http.Request) {
	plc := h.getPLC(w, r)
	if plc == nil {
		return
	}
	h.writeJSON(w, plcResponse(plc))
}

func (h *handlers) handlePLCHealth(w http.ResponseWriter, r *http.Request) {
	plc := h.getPLC(w, r)
	if plc == nil {
		return
	}

	status := plc.GetStatus()
	resp := HealthResponse{
		PLC:       plc.Config.Name,
		Online:    status == plcman.StatusConnected,
		Status:    status.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := plc.GetError(); err != nil {
		resp.Error = err.Error()
	}

	h.writeJSON(w, resp)
}

func (h *handlers) handleFiles(w http.ResponseWriter, r *http.Request) {
	plc := h.getPLC(w, r)
	if plc == nil {
		return
	}

	files := plc.GetFiles()
	response := make([]FileResponse, 0, len(files))
	for _, f := range files {
		response = append(response, FileResponse{
			Name:     f.Name,
			Type:     f.FileType,
			Elements: f.Elements,
			Length:   f.Length,
			Writable: f.Writable,
		})
	}

	h.writeJSON(w, response)
}

func (h *handlers) handleAllTags(w http.ResponseWriter, r *http.Request) {
	plc := h.getPLC(w, r)
	if plc == nil {
		return
	}

	values := plc.GetValues()
	response := make(map[string]TagResponse)

	for i := range plc.Config.Tags {
		sel := &plc.Config.Tags[i]

		name := sel.Key()
		memloc := ""
		if sel.Alias != "" {
			memloc = sel.Address
		}

		key := plc.Config.Name + "." + name
		resp := TagResponse{
			PLC:    plc.Config.Name,
			Name:   name,
			MemLoc: memloc,
		}

		if v, ok := values[name]; ok {
			resp.Type = v.FileType
			resp.Value = v.Value
			if v.Error != nil {
				resp.Error = v.Error.Error()
			}
		}

		response[key] = resp
	}

	h.writeJSON(w, response)
}

func (h *handlers) handleSingleTag(w http.ResponseWriter, r *http.Request) {
	plc := h.getPLC(w, r)
	if plc == nil {
		return
	}

	// Tag name from the wildcard: everything after /tags/
	tagName := chi.URLParam(r, "*")
	tagName, _ = url.PathUnescape(tagName)

	sel := plc.Config.FindTag(tagName)
	if sel == nil {
		h.writeError(w, http.StatusNotFound, "tag not configured")
		return
	}

	name := sel.Key()
	memloc := ""
	if sel.Alias != "" {
		memloc = sel.Address
	}

	values := plc.GetValues()
	if v, ok := values[name]; ok {
		resp := TagResponse{
			PLC:    plc.Config.Name,
			Name:   name,
			MemLoc: memloc,
			Type:   v.FileType,
			Value:  v.Value,
		}
		if v.Error != nil {
			resp.Error = v.Error.Error()
		}
		h.writeJSON(w, resp)
		return
	}

	// Not cached yet; try reading from the PLC directly
	v, err := h.manager.ReadTag(plc.Config.Name, sel.Address)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if v == nil {
		h.writeError(w, http.StatusNotFound, "tag not found")
		return
	}

	resp := TagResponse{
		PLC:    plc.Config.Name,
		Name:   name,
		MemLoc: memloc,
		Type:   v.FileType,
		Value:  v.Value,
	}
	if v.Error != nil {
		resp.Error = v.Error.Error()
	}
	h.writeJSON(w, resp)
}

func (h *handlers) handleWrite(w http.ResponseWriter, r *http.Request) {
	plc := h.getPLC(w, r)
	if plc == nil {
		return
	}

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	writeResp := func(status int, errMsg string) {
		resp := WriteResponse{
			PLC:       req.PLC,
			Tag:       req.Tag,
			Value:     req.Value,
			Success:   errMsg == "",
			Error:     errMsg,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
		}
		h.writeJSON(w, resp)
	}

	if req.PLC != plc.Config.Name {
		writeResp(http.StatusBadRequest, fmt.Sprintf("PLC name mismatch: URL has '%s', request has '%s'", plc.Config.Name, req.PLC))
		return
	}

	sel := plc.Config.FindTag(req.Tag)
	if sel == nil {
		writeResp(http.StatusNotFound, "tag not found")
		return
	}
	if !sel.Writable {
		writeResp(http.StatusForbidden, "tag is not writable")
		return
	}

	if plc.GetStatus() != plcman.StatusConnected {
		writeResp(http.StatusServiceUnavailable, "PLC not connected")
		return
	}

	// Write in a goroutine with a timeout so a stalled session can't
	// hold the HTTP handler.
	resultChan := make(chan error, 1)
	go func() {
		resultChan <- h.manager.WriteTag(plc.Config.Name, req.Tag, req.Value)
	}()

	var writeErr error
	select {
	case writeErr = <-resultChan:
	case <-time.After(3 * time.Second):
		writeErr = fmt.Errorf("write timeout: PLC did not respond within 3 seconds")
	}

	if writeErr != nil {
		writeResp(http.StatusInternalServerError, writeErr.Error())
		return
	}
	writeResp(http.StatusOK, "")
}
