package endpoints

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ragscan/internal/api"
	"github.com/jackzampolin/ragscan/internal/pipeline"
	"github.com/jackzampolin/ragscan/internal/svcctx"
)

// ProcessResponse is the response for document recognition.
type ProcessResponse struct {
	Success  bool                         `json:"success"`
	Error    string                       `json:"error,omitempty"`
	Warnings []string                     `json:"warnings,omitempty"`
	Document *pipeline.AggregatedDocument `json:"document,omitempty"`
}

// ProcessDocumentEndpoint handles POST /api/documents/process.
type ProcessDocumentEndpoint struct{}

var _ api.Endpoint = (*ProcessDocumentEndpoint)(nil)

func (e *ProcessDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/process", e.handler
}

func (e *ProcessDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Recognize a document
//	@Description	Rasterize, tile and OCR every page of an uploaded file (or a server-side path) and merge the text
//	@Tags			documents
//	@Accept			mpfd,json
//	@Produce		json
//	@Param			file		formData	file			false	"Image or PDF to recognize"
//	@Param			request		body		DocumentFields	false	"Server-side path and options"
//	@Success		200			{object}	ProcessResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		422			{object}	ProcessResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/documents/process [post]
func (e *ProcessDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s := svcctx.ServicesFrom(r.Context())
	if s == nil || s.Pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	var fields DocumentFields
	path, cleanup, ok := readDocument(w, r, &fields, nil)
	if !ok {
		return
	}
	defer cleanup()

	provider, err := s.OCRProvider(fields.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := s.Pipeline.ProcessFile(r.Context(), path, pipeline.ProcessOptions{
		Prompt:   fields.Prompt,
		Page:     fields.Page,
		Provider: provider,
	})
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	resp := ProcessResponse{Success: doc.Success(), Document: doc}
	for _, pe := range doc.Errors {
		resp.Warnings = append(resp.Warnings, pe.Error())
	}
	if !resp.Success {
		resp.Error = pipeline.ErrNoPagesRecognized.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// readDocument resolves the source file of a process or run request. JSON
// bodies name a server-side path and decode into body; multipart bodies
// carry the file. It writes the error response itself and reports false
// on failure. body must embed fields for JSON requests.
func readDocument(w http.ResponseWriter, r *http.Request, fields *DocumentFields, body any) (string, func(), bool) {
	noop := func() {}

	if isMultipart(r) {
		path, cleanup, err := saveUpload(r)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return "", nil, false
		}
		if err := fields.fromForm(r); err != nil {
			cleanup()
			writeError(w, http.StatusBadRequest, err.Error())
			return "", nil, false
		}
		return path, cleanup, true
	}

	if body == nil {
		body = fields
	}
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", nil, false
	}
	if fields.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required (or upload a file)")
		return "", nil, false
	}
	if fields.Page < 0 {
		writeError(w, http.StatusBadRequest, "page must not be negative")
		return "", nil, false
	}
	return fields.Path, noop, true
}

func (e *ProcessDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	var fields DocumentFields
	var remote bool
	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Recognize a document on the server",
		Long: `Upload a document and return the merged page text.

With --remote the argument is a path on the server and nothing is uploaded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ProcessResponse
			if remote {
				fields.Path = args[0]
				if err := client.Post(cmd.Context(), "/api/documents/process", fields, &resp); err != nil {
					return err
				}
				return api.Output(resp)
			}
			form := map[string]string{
				"prompt":   fields.Prompt,
				"provider": fields.Provider,
			}
			if fields.Page > 0 {
				form["page"] = strconv.Itoa(fields.Page)
			}
			if err := client.PostFile(cmd.Context(), "/api/documents/process", args[0], form, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	addDocumentFlags(cmd, &fields)
	cmd.Flags().BoolVar(&remote, "remote", false, "Treat the argument as a path on the server")
	return cmd
}

// BatchRequest is the JSON body for POST /api/documents/batch.
type BatchRequest struct {
	// Paths are files on the server. Ignored for multipart uploads.
	Paths []string `json:"paths"`
	DocumentFields
}

// BatchResponse reports one item per file, in request order.
type BatchResponse struct {
	Total     int                  `json:"total"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Items     []pipeline.BatchItem `json:"items"`
}

// BatchProcessEndpoint handles POST /api/documents/batch.
type BatchProcessEndpoint struct{}

var _ api.Endpoint = (*BatchProcessEndpoint)(nil)

func (e *BatchProcessEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/batch", e.handler
}

func (e *BatchProcessEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Recognize several documents
//	@Description	Recognize up to 10 uploaded files (or server-side paths) one after another; each file gets its own result
//	@Tags			documents
//	@Accept			mpfd,json
//	@Produce		json
//	@Param			file		formData	file			false	"Images or PDFs, repeated"
//	@Param			request		body		BatchRequest	false	"Server-side paths and options"
//	@Success		200			{object}	BatchResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/documents/batch [post]
func (e *BatchProcessEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s := svcctx.ServicesFrom(r.Context())
	if s == nil || s.Pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	var req BatchRequest
	var names []string
	if isMultipart(r) {
		paths, cleanup, err := saveUploads(r, pipeline.MaxBatchFiles)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		defer cleanup()
		if err := req.fromForm(r); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Paths = paths
		for _, fh := range r.MultipartForm.File["file"] {
			names = append(names, fh.Filename)
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Page < 0 {
			writeError(w, http.StatusBadRequest, "page must not be negative")
			return
		}
	}

	provider, err := s.OCRProvider(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.Pipeline.ProcessBatch(r.Context(), req.Paths, pipeline.ProcessOptions{
		Prompt:   req.Prompt,
		Page:     req.Page,
		Provider: provider,
	})
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	resp := BatchResponse{Total: len(items), Items: items}
	for i := range resp.Items {
		// Report uploads by the client's file name, not the temp path.
		if i < len(names) {
			resp.Items[i].Source = names[i]
			if d := resp.Items[i].Document; d != nil {
				d.Source = names[i]
			}
		}
		if resp.Items[i].Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *BatchProcessEndpoint) Command(getServerURL func() string) *cobra.Command {
	var fields DocumentFields
	var remote bool
	cmd := &cobra.Command{
		Use:   "batch <file>...",
		Short: "Recognize several documents on the server",
		Long: `Upload up to 10 documents and return one result per file.

With --remote the arguments are paths on the server and nothing is uploaded.`,
		Args: cobra.RangeArgs(1, pipeline.MaxBatchFiles),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp BatchResponse
			if remote {
				body := BatchRequest{Paths: args, DocumentFields: fields}
				if err := client.Post(cmd.Context(), "/api/documents/batch", body, &resp); err != nil {
					return err
				}
				return api.Output(resp)
			}
			form := map[string]string{
				"prompt":   fields.Prompt,
				"provider": fields.Provider,
			}
			if fields.Page > 0 {
				form["page"] = strconv.Itoa(fields.Page)
			}
			if err := client.PostFiles(cmd.Context(), "/api/documents/batch", args, form, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	addDocumentFlags(cmd, &fields)
	cmd.Flags().BoolVar(&remote, "remote", false, "Treat the arguments as paths on the server")
	return cmd
}

func addDocumentFlags(cmd *cobra.Command, fields *DocumentFields) {
	cmd.Flags().StringVar(&fields.Prompt, "prompt", "", "Prompt text or preset name (general, table, diagram, specification)")
	cmd.Flags().IntVar(&fields.Page, "page", 0, "Process only this 1-based page (0 = all)")
	cmd.Flags().StringVar(&fields.Provider, "provider", "", "OCR provider name (default from config)")
}
