package opsapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/dd0wney/cluso-coord/pkg/cluster"
	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/validation"
)

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	id, joined := s.manager.NodeID()
	s.respondJSON(w, http.StatusOK, NodeResponse{
		ID:          id,
		Joined:      joined,
		State:       s.manager.NodeState(),
		Instance:    s.manager.Instance(),
		ClusterMode: s.manager.IsClusterMode(),
		Active:      s.manager.IsClusterModeActive(),
	})
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	var req StateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Struct(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := cluster.ParseNodeState(req.State)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.manager.SetNodeState(r.Context(), state); err != nil {
		s.storeFailure(w, "set node state", err)
		return
	}
	s.logger.Info("node state changed by operator", logging.State(state.String()))
	s.handleNode(w, r)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.manager.Nodes(r.Context())
	if err != nil {
		s.storeFailure(w, "read roster", err)
		return
	}

	now := s.manager.Timestamp(r.Context())
	self, joined := s.manager.NodeID()
	cfg := s.manager.Config()

	resp := RosterResponse{Now: now, Nodes: make([]RosterEntry, 0, len(nodes))}
	for _, n := range nodes {
		resp.Nodes = append(resp.Nodes, RosterEntry{
			NodeInfo: n,
			Expired:  n.IsExpired(now, cfg),
			Self:     joined && n.ID == self,
		})
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProperties(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, PropertiesResponse{Properties: s.manager.Properties()})
}

func (s *Server) handleProperty(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := validation.PropertyName(name); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// IsConfirmed refetches, so the cache read below is current
	confirmed, err := s.manager.IsConfirmed(r.Context(), name)
	if err != nil {
		s.storeFailure(w, "check confirmation", err)
		return
	}

	props := s.manager.Properties()
	i := slices.IndexFunc(props, func(p cluster.PropertyInfo) bool { return p.Name == name })
	if i < 0 {
		s.respondError(w, http.StatusNotFound, "property not cached on this node")
		return
	}
	s.respondJSON(w, http.StatusOK, PropertyResponse{PropertyInfo: props[i], Confirmed: confirmed})
}

func (s *Server) handleRefetch(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Refetch(r.Context()); err != nil {
		s.storeFailure(w, "refetch", err)
		return
	}
	s.respondJSON(w, http.StatusOK, PropertiesResponse{Properties: s.manager.Properties()})
}

// storeFailure maps manager errors to a status. Details stay in the log.
func (s *Server) storeFailure(w http.ResponseWriter, operation string, err error) {
	s.logger.Error("ops request failed", logging.Operation(operation), logging.Error(err))

	switch {
	case errors.Is(err, cluster.ErrNotInitialized):
		s.respondError(w, http.StatusConflict, operation+" failed: node not initialized")
	case errors.Is(err, cluster.ErrStore):
		s.respondError(w, http.StatusServiceUnavailable, operation+" failed: store unavailable")
	default:
		s.respondError(w, http.StatusInternalServerError, operation+" failed")
	}
}
