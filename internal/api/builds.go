package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const defaultListLimit = 50

type createBuildRequest struct {
	// ContextDir is an absolute path on the daemon's host holding the
	// dependency manifest and the app source tree.
	ContextDir string `json:"context_dir" validate:"required,startswith=/"`
	CommitSHA  string `json:"commit_sha"`
	BranchName string `json:"branch_name"`
	Tag        string `json:"tag"`
}

func (s *Server) handleCreateBuild(w http.ResponseWriter, r *http.Request) {
	var req createBuildRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	build, err := s.store.InsertBuild(r.Context(), req.ContextDir, req.CommitSHA, req.BranchName, req.Tag)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to queue build")
		WriteError(w, http.StatusInternalServerError, "failed to queue build")
		return
	}

	WriteJSON(w, http.StatusAccepted, build)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	build, err := s.store.GetBuild(r.Context(), id)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to load build")
		WriteError(w, http.StatusInternalServerError, "failed to load build")
		return
	}
	if build == nil {
		WriteError(w, http.StatusNotFound, "build "+id+" not found")
		return
	}

	WriteJSON(w, http.StatusOK, build)
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	builds, err := s.store.ListBuilds(r.Context(), limit)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to list builds")
		WriteError(w, http.StatusInternalServerError, "failed to list builds")
		return
	}

	WriteJSON(w, http.StatusOK, builds)
}
