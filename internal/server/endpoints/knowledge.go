package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ragscan/internal/api"
	"github.com/jackzampolin/ragscan/internal/knowledge"
	"github.com/jackzampolin/ragscan/internal/pipeline"
	"github.com/jackzampolin/ragscan/internal/svcctx"
)

// PublishRequest is the body for POST /api/knowledge/publish.
type PublishRequest struct {
	Text string `json:"text"`
	PublishOptions
}

// PublishEndpoint handles POST /api/knowledge/publish.
type PublishEndpoint struct{}

var _ api.Endpoint = (*PublishEndpoint)(nil)

func (e *PublishEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/knowledge/publish", e.handler
}

func (e *PublishEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Publish text to a dataset
//	@Description	Resolve (or create) the dataset, upload the text as a document and trigger parsing
//	@Tags			knowledge
//	@Accept			json
//	@Produce		json
//	@Param			request	body		PublishRequest	true	"Text and publish options"
//	@Success		200		{object}	pipeline.RunResult
//	@Failure		400		{object}	pipeline.RunResult
//	@Failure		404		{object}	pipeline.RunResult
//	@Failure		502		{object}	pipeline.RunResult
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/knowledge/publish [post]
func (e *PublishEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s := svcctx.ServicesFrom(r.Context())
	if s == nil || s.Pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pubReq := req.PublishOptions.toRequest(s)
	pubReq.Text = req.Text
	res, err := s.Pipeline.PublishText(r.Context(), pubReq)
	if err != nil {
		writeJSON(w, errorStatus(err), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *PublishEndpoint) Command(getServerURL func() string) *cobra.Command {
	var opts PublishOptions
	var noCreate bool
	cmd := &cobra.Command{
		Use:   "publish <text-file>",
		Short: "Publish a text file to a dataset on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			create := !noCreate
			opts.CreateIfAbsent = &create
			if opts.Filename == "" {
				opts.Filename = filepath.Base(args[0])
			}

			client := api.NewClient(getServerURL())
			var resp pipeline.RunResult
			body := PublishRequest{Text: string(data), PublishOptions: opts}
			if err := client.Post(cmd.Context(), "/api/knowledge/publish", body, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	addPublishFlags(cmd, &opts, &noCreate)
	return cmd
}

// ListDatasetsResponse is the response for listing datasets.
type ListDatasetsResponse struct {
	Datasets []knowledge.Dataset `json:"datasets"`
}

// ListDatasetsEndpoint handles GET /api/knowledge/datasets.
type ListDatasetsEndpoint struct{}

var _ api.Endpoint = (*ListDatasetsEndpoint)(nil)

func (e *ListDatasetsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/knowledge/datasets", e.handler
}

func (e *ListDatasetsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List datasets
//	@Tags		knowledge
//	@Produce	json
//	@Param		name	query		string	false	"Exact dataset name"
//	@Success	200		{object}	ListDatasetsResponse
//	@Failure	502		{object}	ErrorResponse
//	@Failure	503		{object}	ErrorResponse
//	@Router		/api/knowledge/datasets [get]
func (e *ListDatasetsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.StoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge store not initialized")
		return
	}

	datasets, err := store.ListDatasets(r.Context(), knowledge.ListOptions{Name: r.URL.Query().Get("name")})
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if datasets == nil {
		datasets = []knowledge.Dataset{}
	}
	writeJSON(w, http.StatusOK, ListDatasetsResponse{Datasets: datasets})
}

func (e *ListDatasetsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List knowledge base datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/knowledge/datasets"
			if name != "" {
				path += "?name=" + url.QueryEscape(name)
			}
			client := api.NewClient(getServerURL())
			var resp ListDatasetsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Only show the dataset with this exact name")
	return cmd
}

// ListDocumentsResponse is the response for listing a dataset's documents.
type ListDocumentsResponse struct {
	DatasetID string               `json:"dataset_id"`
	Documents []knowledge.Document `json:"documents"`
}

// ListDocumentsEndpoint handles GET /api/knowledge/datasets/{dataset_id}/documents.
type ListDocumentsEndpoint struct{}

var _ api.Endpoint = (*ListDocumentsEndpoint)(nil)

func (e *ListDocumentsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/knowledge/datasets/{dataset_id}/documents", e.handler
}

func (e *ListDocumentsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List documents in a dataset
//	@Tags		knowledge
//	@Produce	json
//	@Param		dataset_id	path		string	true	"Dataset ID"
//	@Param		name		query		string	false	"Exact document name"
//	@Success	200			{object}	ListDocumentsResponse
//	@Failure	404			{object}	ErrorResponse
//	@Failure	502			{object}	ErrorResponse
//	@Failure	503			{object}	ErrorResponse
//	@Router		/api/knowledge/datasets/{dataset_id}/documents [get]
func (e *ListDocumentsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.StoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge store not initialized")
		return
	}

	datasetID := r.PathValue("dataset_id")
	docs, err := store.ListDocuments(r.Context(), datasetID, knowledge.ListOptions{Name: r.URL.Query().Get("name")})
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if docs == nil {
		docs = []knowledge.Document{}
	}
	writeJSON(w, http.StatusOK, ListDocumentsResponse{DatasetID: datasetID, Documents: docs})
}

func (e *ListDocumentsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "documents <dataset_id>",
		Short: "List documents in a dataset with their parse status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/knowledge/datasets/%s/documents", url.PathEscape(args[0]))
			if name != "" {
				path += "?name=" + url.QueryEscape(name)
			}
			client := api.NewClient(getServerURL())
			var resp ListDocumentsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Only show the document with this exact name")
	return cmd
}

// DeleteDatasetEndpoint handles DELETE /api/knowledge/datasets/{dataset_id}.
type DeleteDatasetEndpoint struct{}

var _ api.Endpoint = (*DeleteDatasetEndpoint)(nil)

func (e *DeleteDatasetEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/knowledge/datasets/{dataset_id}", e.handler
}

func (e *DeleteDatasetEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Delete a dataset
//	@Tags		knowledge
//	@Param		dataset_id	path	string	true	"Dataset ID"
//	@Success	204
//	@Failure	502	{object}	ErrorResponse
//	@Failure	503	{object}	ErrorResponse
//	@Router		/api/knowledge/datasets/{dataset_id} [delete]
func (e *DeleteDatasetEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.StoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge store not initialized")
		return
	}
	if err := store.DeleteDatasets(r.Context(), []string{r.PathValue("dataset_id")}); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *DeleteDatasetEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-dataset <dataset_id>",
		Short: "Delete a knowledge base dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/knowledge/datasets/"+url.PathEscape(args[0])); err != nil {
				return err
			}
			fmt.Printf("Deleted dataset %s\n", args[0])
			return nil
		},
	}
}

// ParseRequest lists the documents to parse.
type ParseRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

// ParseResponse acknowledges a parse start or stop.
type ParseResponse struct {
	DatasetID   string   `json:"dataset_id"`
	DocumentIDs []string `json:"document_ids"`
	Action      string   `json:"action"`
}

// ParseDocumentsEndpoint handles POST and DELETE on
// /api/knowledge/datasets/{dataset_id}/documents/parse.
type ParseDocumentsEndpoint struct {
	// Stop cancels parsing instead of starting it.
	Stop bool
}

var _ api.Endpoint = (*ParseDocumentsEndpoint)(nil)

func (e *ParseDocumentsEndpoint) Route() (string, string, http.HandlerFunc) {
	method := "POST"
	if e.Stop {
		method = "DELETE"
	}
	return method, "/api/knowledge/datasets/{dataset_id}/documents/parse", e.handler
}

func (e *ParseDocumentsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Start or stop parsing documents
//	@Tags		knowledge
//	@Accept		json
//	@Produce	json
//	@Param		dataset_id	path		string			true	"Dataset ID"
//	@Param		request		body		ParseRequest	true	"Documents"
//	@Success	202			{object}	ParseResponse
//	@Failure	400			{object}	ErrorResponse
//	@Failure	502			{object}	ErrorResponse
//	@Router		/api/knowledge/datasets/{dataset_id}/documents/parse [post]
//	@Router		/api/knowledge/datasets/{dataset_id}/documents/parse [delete]
func (e *ParseDocumentsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.StoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge store not initialized")
		return
	}

	var req ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.DocumentIDs) == 0 {
		writeError(w, http.StatusBadRequest, "document_ids is required")
		return
	}

	datasetID := r.PathValue("dataset_id")
	resp := ParseResponse{DatasetID: datasetID, DocumentIDs: req.DocumentIDs, Action: "start"}
	var err error
	if e.Stop {
		resp.Action = "stop"
		err = store.StopParse(r.Context(), datasetID, req.DocumentIDs)
	} else {
		err = store.StartParse(r.Context(), datasetID, req.DocumentIDs)
	}
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (e *ParseDocumentsEndpoint) Command(getServerURL func() string) *cobra.Command {
	use, short := "parse", "Start parsing documents in a dataset"
	if e.Stop {
		use, short = "stop-parse", "Stop parsing documents in a dataset"
	}
	return &cobra.Command{
		Use:   use + " <dataset_id> <document_id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/knowledge/datasets/%s/documents/parse", url.PathEscape(args[0]))
			method, _, _ := e.Route()
			var resp ParseResponse
			if err := client.SendJSON(cmd.Context(), method, path, ParseRequest{DocumentIDs: args[1:]}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// DocumentStatusEndpoint handles
// GET /api/knowledge/datasets/{dataset_id}/documents/{document_id}/status.
type DocumentStatusEndpoint struct{}

var _ api.Endpoint = (*DocumentStatusEndpoint)(nil)

func (e *DocumentStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/knowledge/datasets/{dataset_id}/documents/{document_id}/status", e.handler
}

func (e *DocumentStatusEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Document parse status
//	@Description	Fetch the parse status of a document and refresh its publication record
//	@Tags			knowledge
//	@Produce		json
//	@Param			dataset_id	path		string	true	"Dataset ID"
//	@Param			document_id	path		string	true	"Document ID"
//	@Success		200			{object}	knowledge.ParseStatus
//	@Failure		404			{object}	ErrorResponse
//	@Failure		502			{object}	ErrorResponse
//	@Router			/api/knowledge/datasets/{dataset_id}/documents/{document_id}/status [get]
func (e *DocumentStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	p := svcctx.PipelineFrom(r.Context())
	if p == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}
	st, err := p.RefreshStatus(r.Context(), r.PathValue("dataset_id"), r.PathValue("document_id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (e *DocumentStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "doc-status <dataset_id> <document_id>",
		Short: "Get the parse status of a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/knowledge/datasets/%s/documents/%s/status",
				url.PathEscape(args[0]), url.PathEscape(args[1]))
			var resp knowledge.ParseStatus
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
