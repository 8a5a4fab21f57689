package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/user/puppy/internal/project"
)

type createProjectRequest struct {
	Name     string            `json:"name"`
	Template string            `json:"template"`
	Metadata map[string]string `json:"metadata"`
}

const defaultRunsLimit = 20

func (h *handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, project.Templates())
}

func (h *handler) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Template) == "" {
		jsonError(w, http.StatusBadRequest, "name and template are required")
		return
	}

	p, err := h.projects.Create(r.Context(), req.Name, req.Template, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, p)
}

func (h *handler) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, projects)
}

func (h *handler) getProject(w http.ResponseWriter, r *http.Request) {
	st, err := h.wb.Status(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, st)
}

func (h *handler) runProject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.wb.Run(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	st, err := h.wb.Status(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusAccepted, st)
}

func (h *handler) killProject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.wb.Kill(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	st, err := h.wb.Status(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, st)
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := h.wb.Runs(r.Context(), r.PathValue("name"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, runs)
}
