package api

import (
	"net/http"

	"github.com/user/puppy/internal/repl"
	"github.com/user/puppy/internal/session"
)

type openREPLRequest struct {
	Port string `json:"port"`
}

type sendKeysRequest struct {
	Pane string   `json:"pane"`
	Keys []string `json:"keys"`
	Text string   `json:"text"`
}

func (h *handler) getDevice(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.wb.Device())
}

func (h *handler) openREPL(w http.ResponseWriter, r *http.Request) {
	var req openREPLRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := h.wb.OpenREPL(req.Port); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, h.wb.Device())
}

func (h *handler) closeREPL(w http.ResponseWriter, r *http.Request) {
	if err := h.wb.CloseREPL(); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, h.wb.Device())
}

// sendKeys sends the named keys first, then the text.
func (h *handler) sendKeys(w http.ResponseWriter, r *http.Request) {
	var req sendKeysRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Keys) == 0 && req.Text == "" {
		jsonError(w, http.StatusBadRequest, "keys or text is required")
		return
	}
	pane := req.Pane
	if pane == "" {
		pane = session.REPLPane
	}

	for _, name := range req.Keys {
		if err := h.wb.SendKey(pane, repl.ParseKey(name)); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Text != "" {
		if err := h.wb.SendText(pane, req.Text); err != nil {
			writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
