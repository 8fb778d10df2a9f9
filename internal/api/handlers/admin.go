package handlers

import (
	"net/http"
	"strconv"

	"github.com/pagekeep/pagekeep/internal/audit"
)

type AdminHandler struct {
	auditSvc *audit.Service
}

func NewAdminHandler(auditSvc *audit.Service) *AdminHandler {
	return &AdminHandler{auditSvc: auditSvc}
}

// Runs lists finished OCR runs, newest first, optionally scoped to one
// document.
func (h *AdminHandler) Runs(w http.ResponseWriter, r *http.Request) {
	q := audit.RunQuery{}

	q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	q.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	if s := r.URL.Query().Get("document_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document_id"})
			return
		}
		q.DocumentID = &id
	}

	runs, err := h.auditSvc.ListRuns(r.Context(), q)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}
