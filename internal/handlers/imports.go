package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yutaoyuan/crm-system-sub000/internal/httpx"
	"github.com/yutaoyuan/crm-system-sub000/internal/importer"
)

// multipartMemory is how much of an upload is buffered in memory before spilling to disk.
const multipartMemory = 8 << 20

type appError struct {
	Status  int
	Code    string
	Message string
	Details any
}

type importStartedResponse struct {
	ImportID     string `json:"importId"`
	TotalRecords int    `json:"totalRecords"`
}

type importStatusResponse struct {
	ImportID      string    `json:"importId"`
	Kind          string    `json:"kind"`
	Filename      string    `json:"filename"`
	State         string    `json:"state"`
	Total         int       `json:"total"`
	Processed     int       `json:"processed"`
	Success       int       `json:"success"`
	Failed        int       `json:"failed"`
	Current       int       `json:"current"`
	Errors        []string  `json:"errors"`
	ErrorsOmitted int       `json:"errorsOmitted,omitempty"`
	Error         string    `json:"error,omitempty"`
	Completed     bool      `json:"completed"`
	Cached        bool      `json:"cached"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// PostImport starts an import whose kind comes from the "kind" form field, ledger by default.
func (s *Server) PostImport(w http.ResponseWriter, r *http.Request) {
	s.handleImport(w, r, "")
}

func (s *Server) PostImportKind(w http.ResponseWriter, r *http.Request) {
	s.handleImport(w, r, chi.URLParam(r, "kind"))
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, pathKind string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	upload, appErr := s.receiveUpload(r, pathKind)
	if appErr != nil {
		httpx.WriteError(w, r, appErr.Status, appErr.Code, appErr.Message, appErr.Details)
		return
	}

	started, err := s.Imports.Start(r.Context(), upload)
	if err != nil {
		switch {
		case errors.Is(err, importer.ErrUnknownFormat):
			httpx.WriteError(w, r, http.StatusBadRequest, "invalid_file_type", "Only .csv, .xlsx and .xls files are supported", nil)
		default:
			s.Logger.Error("import_start_failed", "filename", upload.Filename, "error", err)
			httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to start import", nil)
		}
		return
	}

	s.audit(r, actor, "import.started", "import", started.ID, map[string]any{
		"kind":     upload.Kind,
		"filename": upload.Filename,
	})
	httpx.WriteJSON(w, http.StatusAccepted, importStartedResponse{ImportID: started.ID, TotalRecords: started.Total})
}

// receiveUpload validates the multipart request and saves the file into the upload
// directory. The returned path belongs to the import service from then on.
func (s *Server) receiveUpload(r *http.Request, pathKind string) (importer.Upload, *appError) {
	if !strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data") {
		return importer.Upload{}, &appError{
			Status:  http.StatusBadRequest,
			Code:    "invalid_content_type",
			Message: "Content-Type must be multipart/form-data",
		}
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return importer.Upload{}, &appError{
				Status:  http.StatusRequestEntityTooLarge,
				Code:    "file_too_large",
				Message: fmt.Sprintf("File exceeds the %d MB limit", s.Config.ImportMaxFileBytes>>20),
			}
		}
		return importer.Upload{}, &appError{
			Status:  http.StatusBadRequest,
			Code:    "invalid_multipart",
			Message: "Failed to parse multipart form",
		}
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	rawKind := pathKind
	if rawKind == "" {
		rawKind = r.FormValue("kind")
	}
	if strings.TrimSpace(rawKind) == "" {
		rawKind = string(importer.KindLedger)
	}
	kind, err := importer.ParseKind(rawKind)
	if err != nil {
		return importer.Upload{}, &appError{
			Status:  http.StatusBadRequest,
			Code:    "invalid_kind",
			Message: "kind must be sales or ledger",
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return importer.Upload{}, &appError{
			Status:  http.StatusBadRequest,
			Code:    "missing_file",
			Message: "file is required",
		}
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if _, err := importer.DetectFormat(header.Filename, contentType); err != nil {
		return importer.Upload{}, &appError{
			Status:  http.StatusBadRequest,
			Code:    "invalid_file_type",
			Message: "Only .csv, .xlsx and .xls files are supported",
		}
	}

	path, err := s.saveUpload(file, header)
	if err != nil {
		s.Logger.Error("import_upload_save_failed", "filename", header.Filename, "error", err)
		return importer.Upload{}, &appError{
			Status:  http.StatusInternalServerError,
			Code:    "internal_error",
			Message: "Failed to store upload",
		}
	}

	return importer.Upload{
		Path:        path,
		Filename:    header.Filename,
		ContentType: contentType,
		Kind:        kind,
	}, nil
}

func (s *Server) saveUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	dst, err := os.CreateTemp(s.Config.ImportUploadDir, "import-*"+strings.ToLower(filepath.Ext(header.Filename)))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("copy upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return dst.Name(), nil
}

func (s *Server) GetImportStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Imports.Status(chi.URLParam(r, "importId"))
	if err != nil {
		if errors.Is(err, importer.ErrTaskNotFound) {
			httpx.WriteError(w, r, http.StatusNotFound, "import_not_found", "Import task was not found or has expired", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load import status", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mapImportStatus(snap))
}

func (s *Server) DeleteImportStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "importId")
	if err := s.Imports.Clear(id); err != nil {
		switch {
		case errors.Is(err, importer.ErrTaskNotFound):
			httpx.WriteError(w, r, http.StatusNotFound, "import_not_found", "Import task was not found or has expired", nil)
		case errors.Is(err, importer.ErrTaskRunning):
			httpx.WriteError(w, r, http.StatusConflict, "import_running", "Import task is still running", nil)
		default:
			httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to clear import task", nil)
		}
		return
	}
	s.audit(r, actor, "import.cleared", "import", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetImportTemplate(w http.ResponseWriter, r *http.Request) {
	kind, err := importer.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusNotFound, "template_not_found", "Import template not found", nil)
		return
	}
	content, ok := importer.TemplateCSV(kind)
	if !ok {
		httpx.WriteError(w, r, http.StatusNotFound, "template_not_found", "Import template not found", nil)
		return
	}
	httpx.SetAttachment(w, "text/csv; charset=utf-8", string(kind)+"-template.csv")
	_, _ = io.WriteString(w, content)
}

func (s *Server) GetImportAliases(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]string, len(importer.Aliases))
	for field, aliases := range importer.Aliases {
		out[string(field)] = aliases
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func mapImportStatus(snap importer.Snapshot) importStatusResponse {
	warnings := snap.Errors
	if warnings == nil {
		warnings = []string{}
	}
	return importStatusResponse{
		ImportID:      snap.ID,
		Kind:          string(snap.Kind),
		Filename:      snap.Filename,
		State:         string(snap.State),
		Total:         snap.Total,
		Processed:     snap.Processed,
		Success:       snap.Success,
		Failed:        snap.Failed,
		Current:       snap.Current,
		Errors:        warnings,
		ErrorsOmitted: snap.ErrorsOmitted,
		Error:         snap.Error,
		Completed:     snap.Completed,
		Cached:        snap.Cached,
		CreatedAt:     snap.CreatedAt.UTC(),
		UpdatedAt:     snap.UpdatedAt.UTC(),
	}
}
