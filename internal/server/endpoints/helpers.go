package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackzampolin/ragscan/internal/knowledge"
	"github.com/jackzampolin/ragscan/internal/pipeline"
	"github.com/jackzampolin/ragscan/internal/raster"
)

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var ext *knowledge.ExternalServiceError
	switch {
	case errors.Is(err, knowledge.ErrValidation),
		errors.Is(err, raster.ErrUnsupportedFormat),
		errors.Is(err, raster.ErrPageOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, knowledge.ErrDatasetNotFound),
		errors.Is(err, knowledge.ErrDocumentNotFound),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, raster.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pipeline.ErrDocumentUnreadable),
		errors.Is(err, pipeline.ErrNoPagesRecognized):
		return http.StatusUnprocessableEntity
	case errors.As(err, &ext):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// DocumentFields are the recognition options shared by process and run requests.
type DocumentFields struct {
	// Path is a file on the server. Ignored for multipart uploads.
	Path     string `json:"path,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Page     int    `json:"page,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// fromForm fills fields from multipart form values.
func (f *DocumentFields) fromForm(r *http.Request) error {
	f.Prompt = r.FormValue("prompt")
	f.Provider = r.FormValue("provider")
	if v := r.FormValue("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 0 {
			return fmt.Errorf("invalid page %q", v)
		}
		f.Page = page
	}
	return nil
}

// isMultipart reports whether the request carries a file upload.
func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// saveUpload copies the multipart "file" field into a temp directory,
// keeping the original file name so format detection and upload names work.
// The returned cleanup removes the directory.
func saveUpload(r *http.Request) (string, func(), error) {
	paths, cleanup, err := saveUploads(r, 1)
	if err != nil {
		return "", nil, err
	}
	return paths[0], cleanup, nil
}

// saveUploads saves up to limit "file" fields, in form order. Each file
// gets its own subdirectory so repeated names do not collide.
func saveUploads(r *http.Request, limit int) ([]string, func(), error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, nil, fmt.Errorf("failed to parse form: %w", err)
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("%w: file is required", knowledge.ErrValidation)
	}
	if len(files) > limit {
		return nil, nil, fmt.Errorf("%w: at most %d files per request, got %d", knowledge.ErrValidation, limit, len(files))
	}
	for _, fh := range files {
		if _, err := raster.DetectFormat(fh.Filename); err != nil {
			return nil, nil, err
		}
	}

	dir, err := os.MkdirTemp("", "ragscan-upload-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() {
		os.RemoveAll(dir)
		r.MultipartForm.RemoveAll()
	}

	paths := make([]string, 0, len(files))
	for i, fh := range files {
		sub := filepath.Join(dir, strconv.Itoa(i))
		if err := os.Mkdir(sub, 0o755); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		destPath := filepath.Join(sub, filepath.Base(fh.Filename))
		if err := copyUpload(fh, destPath); err != nil {
			cleanup()
			return nil, nil, err
		}
		paths = append(paths, destPath)
	}
	return paths, cleanup, nil
}

func copyUpload(fh *multipart.FileHeader, destPath string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	_, err = io.Copy(dst, io.LimitReader(src, raster.MaxFileSize+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	return nil
}

// formBool parses an optional boolean form value.
func formBool(r *http.Request, key string, def bool) bool {
	v := r.FormValue(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
