// Package api provides CSV import/export handlers for leads.
package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/leadpulse/leadpulse/internal/leadcsv"
	"github.com/leadpulse/leadpulse/internal/models"
)

// importLeadsHandler imports CSV lead rows, either as a multipart
// upload under the "file" field or as a raw CSV body. Row-level
// failures are reported in the result, not as an HTTP error.
func (s *Server) importLeadsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing multipart field: file"))
			return
		}
		defer file.Close()
		src = file
	}

	result, err := leadcsv.Import(r.Context(), s.store, src)
	if err != nil {
		s.logger.Warn("Server importLeadsHandler failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// exportLeadsHandler streams all leads as a CSV download.
func (s *Server) exportLeadsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="leads.csv"`)
	if _, err := leadcsv.Export(r.Context(), s.store, w); err != nil {
		// Headers are already written; the truncated body is the signal.
		s.logger.Error("Server exportLeadsHandler failed", "error", err)
	}
}
