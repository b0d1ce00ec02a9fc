package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ragscan/internal/api"
	"github.com/jackzampolin/ragscan/internal/ledger"
	"github.com/jackzampolin/ragscan/internal/svcctx"
)

// ListPublicationsResponse is the response for listing publications.
type ListPublicationsResponse struct {
	Publications []ledger.Publication `json:"publications"`
}

// ListPublicationsEndpoint handles GET /api/publications.
type ListPublicationsEndpoint struct{}

var _ api.Endpoint = (*ListPublicationsEndpoint)(nil)

func (e *ListPublicationsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/publications", e.handler
}

func (e *ListPublicationsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List recorded publications
//	@Tags		publications
//	@Produce	json
//	@Param		limit		query		int		false	"Maximum rows (default 50)"
//	@Param		dataset_id	query		string	false	"Only this dataset"
//	@Success	200			{object}	ListPublicationsResponse
//	@Failure	400			{object}	ErrorResponse
//	@Failure	500			{object}	ErrorResponse
//	@Router		/api/publications [get]
func (e *ListPublicationsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	l := svcctx.LedgerFrom(r.Context())
	if l == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not initialized")
		return
	}

	opts := ledger.ListOptions{DatasetID: r.URL.Query().Get("dataset_id")}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = limit
	}

	pubs, err := l.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pubs == nil {
		pubs = []ledger.Publication{}
	}
	writeJSON(w, http.StatusOK, ListPublicationsResponse{Publications: pubs})
}

func (e *ListPublicationsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var limit int
	var datasetID string
	cmd := &cobra.Command{
		Use:   "publications",
		Short: "List recorded publications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if datasetID != "" {
				q.Set("dataset_id", datasetID)
			}
			path := "/api/publications"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			client := api.NewClient(getServerURL())
			var resp ListPublicationsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows (default 50)")
	cmd.Flags().StringVar(&datasetID, "dataset-id", "", "Only show this dataset")
	return cmd
}

// GetPublicationEndpoint handles GET /api/publications/{id}.
type GetPublicationEndpoint struct{}

var _ api.Endpoint = (*GetPublicationEndpoint)(nil)

func (e *GetPublicationEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/publications/{id}", e.handler
}

func (e *GetPublicationEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Get a publication
//	@Tags		publications
//	@Produce	json
//	@Param		id	path		string	true	"Publication ID"
//	@Success	200	{object}	ledger.Publication
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/publications/{id} [get]
func (e *GetPublicationEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	l := svcctx.LedgerFrom(r.Context())
	if l == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not initialized")
		return
	}
	p, err := l.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("publication %s not found", r.PathValue("id")))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (e *GetPublicationEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "publication <id>",
		Short: "Get a recorded publication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ledger.Publication
			if err := client.Get(cmd.Context(), "/api/publications/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
