package api

import (
	"net/http"
)

type fileBody struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

type writeFileRequest struct {
	Text string `json:"text"`
}

func (h *handler) listFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.projects.Files(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	if files == nil {
		files = []string{}
	}
	jsonResponse(w, http.StatusOK, files)
}

func (h *handler) readFile(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	text, err := h.projects.ReadFile(r.Context(), r.PathValue("name"), path)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, fileBody{Path: path, Text: text})
}

func (h *handler) writeFile(w http.ResponseWriter, r *http.Request) {
	var req writeFileRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	path := r.PathValue("path")
	if err := h.projects.WriteFile(r.Context(), r.PathValue("name"), path, req.Text); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, fileBody{Path: path, Text: req.Text})
}
