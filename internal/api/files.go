package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/embedbot/embedbot/internal/registry"
)

type FilesHandler struct {
	tenants *registry.Service
}

func NewFilesHandler(tenants *registry.Service) *FilesHandler {
	return &FilesHandler{tenants: tenants}
}

func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tenant id"})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	files, err := h.tenants.ListFiles(r.Context(), tenantID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not list files"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files, "count": len(files)})
}
