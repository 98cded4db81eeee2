package api

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tdsconn/internal/pool"
	"github.com/nerrad567/tdsconn/internal/tds"
)

// targetRequest is the body of POST /connections and POST /probe. Empty
// fields fall back to the configured target; options are merged over the
// target's options.
type targetRequest struct {
	Host     string         `json:"host"`
	Port     int            `json:"port"`
	Username string         `json:"username"`
	Password string         `json:"password"`
	Database string         `json:"database"`
	Options  map[string]any `json:"options"`
}

// descriptor merges the request over the default target.
func (req targetRequest) descriptor(target tds.Descriptor) tds.Descriptor {
	d := target
	if req.Host != "" {
		d.Host = req.Host
		// a different server never inherits the default port
		d.Port = 0
	}
	if req.Port != 0 {
		d.Port = req.Port
	}
	if req.Username != "" {
		d.Username = req.Username
		d.Password = req.Password
	}
	if req.Database != "" {
		d.Database = req.Database
	}
	if len(req.Options) > 0 {
		merged := make(map[string]any, len(target.Options)+len(req.Options))
		maps.Copy(merged, target.Options)
		maps.Copy(merged, req.Options)
		d.Options = merged
	}
	return d
}

// decodeTarget reads an optional targetRequest body.
func decodeTarget(r *http.Request) (targetRequest, error) {
	var req targetRequest
	if r.ContentLength == 0 {
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

// handleListConnections returns every tracked connection.
func (s *Server) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	conns := s.pool.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": conns,
		"count":       len(conns),
	})
}

// handleOpenConnection connects, tracks the handle and returns its info.
func (s *Server) handleOpenConnection(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTarget(r)
	if err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	desc := req.descriptor(s.manager.Target())
	if desc.Host == "" {
		writeBadRequest(w, "host is required")
		return
	}

	handle, err := s.manager.Connect(r.Context(), desc)
	if err != nil {
		writeConnectError(w, err)
		return
	}
	if err := s.pool.Track(handle); err != nil {
		_ = handle.Close() //nolint:errcheck // handle was never handed out
		if errors.Is(err, pool.ErrEvicted) {
			writeNotFound(w, "connection closed before it could be described")
			return
		}
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}

	info, err := s.connectionInfo(handle.ID())
	if err != nil {
		// evicted between Track and lookup
		writeNotFound(w, "connection closed before it could be described")
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// handleGetConnection describes one tracked connection.
func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	info, err := s.connectionInfo(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleReleaseConnection disconnects and forgets a tracked connection.
func (s *Server) handleReleaseConnection(w http.ResponseWriter, r *http.Request) {
	err := s.pool.Release(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, pool.ErrNotFound):
		writeNotFound(w, "connection not found")
	case err != nil:
		writeInternalError(w, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleProbe checks reachability without keeping a connection.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTarget(r)
	if err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	desc := req.descriptor(s.manager.Target())
	if desc.Host == "" {
		writeBadRequest(w, "host is required")
		return
	}

	result, err := s.manager.Probe(r.Context(), desc)
	if err != nil {
		writeConnectError(w, err)
		return
	}
	resp := map[string]any{
		"conn_id":    result.ConnID,
		"server":     result.Server,
		"database":   result.Database,
		"logged_in":  result.LoggedIn,
		"latency_ms": result.Latency.Milliseconds(),
	}
	if len(result.Facts) > 0 {
		resp["facts"] = result.Facts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) connectionInfo(id string) (pool.Info, error) {
	for _, info := range s.pool.List() {
		if info.ID == id {
			return info, nil
		}
	}
	return pool.Info{}, pool.ErrNotFound
}
