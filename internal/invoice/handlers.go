package invoice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/zombor/invoice-tracker/internal/apperror"
	"github.com/zombor/invoice-tracker/internal/document"
	"github.com/zombor/invoice-tracker/internal/scanning"
)

// maxUploadSize bounds multipart uploads; images above the provider limit are compressed later
const maxUploadSize = int64(50 << 20) // 50MB

// maskedValue replaces credential values in config responses
const maskedValue = "***"

// configView is a config entry as served over HTTP
type configView struct {
	Key         string     `json:"key"`
	Value       string     `json:"value"`
	Set         bool       `json:"set"`
	Description string     `json:"description,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// isCredentialKey reports whether a config value must never leave the server
func isCredentialKey(key string) bool {
	return key == scanning.KeySecretKey || key == scanning.KeyAccessToken
}

func newConfigView(key, value string) configView {
	view := configView{Key: key, Value: value, Set: value != ""}
	if isCredentialKey(key) && view.Set {
		view.Value = maskedValue
	}
	return view
}

type errorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type recognizeRequest struct {
	FilePath string `json:"file_path"`
	Type     Type   `json:"invoice_type"`
}

type batchRequest struct {
	FilePaths []string `json:"file_paths"`
	Type      Type     `json:"invoice_type"`
}

type testConnectionRequest struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

type testConnectionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

type configRequest struct {
	Value       string `json:"value"`
	Description string `json:"description"`
}

// statusFor maps an error kind to an HTTP status code
func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindFileInvalid, apperror.KindConfigMissing:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindProviderRejected, apperror.KindParse:
		return http.StatusBadGateway
	case apperror.KindNetwork:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, errorResponse{Type: errType, Message: message})
}

// writeError reports err with the status of its kind
func writeError(w http.ResponseWriter, err error) {
	kind := apperror.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "kind", kind, "error", err)
	}
	writeErrorMessage(w, status, string(kind), err.Error())
}

func badRequest(w http.ResponseWriter, message string) {
	writeErrorMessage(w, http.StatusBadRequest, "invalid_request", message)
}

// decodeJSON reads a JSON request body into v, answering 400 on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// handleRecognize recognizes a document without saving it
func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	var req recognizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FilePath == "" {
		badRequest(w, "file_path is required")
		return
	}

	inv, err := s.service.Recognize(r.Context(), req.FilePath, req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// handleRecognizeAndSave recognizes a document and stores the invoice
func (s *Server) handleRecognizeAndSave(w http.ResponseWriter, r *http.Request) {
	var req recognizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FilePath == "" {
		badRequest(w, "file_path is required")
		return
	}

	inv, err := s.service.RecognizeAndSave(r.Context(), req.FilePath, req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// handleRecognizeBatch returns one outcome per path, in request order
func (s *Server) handleRecognizeBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.FilePaths) == 0 {
		badRequest(w, "file_paths is required")
		return
	}

	writeJSON(w, http.StatusOK, s.service.RecognizeBatch(r.Context(), req.FilePaths, req.Type))
}

// handleUpload stores an uploaded document, then recognizes and saves it
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(w, "File is too large. Maximum size is 50MB.")
			return
		}
		slog.Error("Error parsing multipart form", "error", err)
		badRequest(w, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "No file provided")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		badRequest(w, "Error reading file")
		return
	}

	inv, err := s.service.ProcessUpload(r.Context(), header.Filename, data, ParseType(r.FormValue("invoice_type")))
	if err != nil {
		slog.Error("Error processing upload", "filename", header.Filename, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// handleTestConnection checks a credential pair against the token endpoint
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ok, err := s.service.TestConnection(r.Context(), req.APIKey, req.SecretKey)
	resp := testConnectionResponse{Success: ok}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseFilter reads filter conditions from the query string
func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	filter := Filter{
		Type:     ParseType(q.Get("invoice_type")),
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
		Keyword:  q.Get("keyword"),
		Category: q.Get("category"),
	}

	for name, dst := range map[string]**float64{
		"amount_min": &filter.AmountMin,
		"amount_max": &filter.AmountMax,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid %s: %q", name, raw)
		}
		*dst = &v
	}
	return filter, nil
}

func parsePagination(r *http.Request) Pagination {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	return Pagination{Page: page, PageSize: pageSize}
}

// handleListInvoices returns one page of invoices
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	page, err := s.service.ListInvoices(filter, parsePagination(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleGetInvoice returns a single invoice
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.service.GetInvoice(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// handleUpdateInvoice stores edits to an invoice
func (s *Server) handleUpdateInvoice(w http.ResponseWriter, r *http.Request) {
	var inv Invoice
	if !decodeJSON(w, r, &inv) {
		return
	}
	inv.ID = r.PathValue("id")

	updated, err := s.service.UpdateInvoice(&inv)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteInvoice deletes an invoice
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteInvoice(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteInvoices deletes several invoices
func (s *Server) handleDeleteInvoices(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	deleted, err := s.service.DeleteInvoices(req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// writeCSV sends an export as a download. The UTF-8 BOM lets spreadsheet
// applications detect the encoding of the Chinese headers.
func writeCSV(w http.ResponseWriter, export func(io.Writer) (int, error)) {
	var buf bytes.Buffer
	buf.WriteString("\ufeff")
	if _, err := export(&buf); err != nil {
		writeError(w, err)
		return
	}

	filename := fmt.Sprintf("invoices_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Write(buf.Bytes())
}

// handleExportFiltered exports every invoice matching the query filter
func (s *Server) handleExportFiltered(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	writeCSV(w, func(out io.Writer) (int, error) {
		return s.service.ExportFiltered(out, filter)
	})
}

// handleExportSelected exports the invoices named in the body
func (s *Server) handleExportSelected(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeCSV(w, func(out io.Writer) (int, error) {
		return s.service.ExportInvoices(out, req.IDs)
	})
}

// handleListConfigs returns every config entry with credentials masked
func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListConfigs()
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]configView, 0, len(entries))
	for _, entry := range entries {
		view := newConfigView(entry.Key, entry.Value)
		view.Description = entry.Description
		if !entry.UpdatedAt.IsZero() {
			updated := entry.UpdatedAt
			view.UpdatedAt = &updated
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

// handleGetConfig returns one config value
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, ok, err := s.service.GetConfig(key)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperror.Newf(apperror.KindNotFound, "config not found: %s", key))
		return
	}
	writeJSON(w, http.StatusOK, newConfigView(key, value))
}

// handleSetConfig stores one config value
func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.service.SetConfig(r.PathValue("key"), req.Value, req.Description); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteConfig removes one config value
func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteConfig(r.PathValue("key")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSupportedExtensions lists the accepted file extensions
func (s *Server) handleSupportedExtensions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, document.SupportedExtensions())
}

// handleFileInfo describes a document on disk without reading its content
func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		badRequest(w, "path is required")
		return
	}
	info, err := s.service.FileInfo(path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
