package endpoints

import (
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ragscan/internal/api"
	"github.com/jackzampolin/ragscan/internal/knowledge"
	"github.com/jackzampolin/ragscan/internal/pipeline"
	"github.com/jackzampolin/ragscan/internal/svcctx"
)

// PublishOptions controls where and how recognized text is published.
type PublishOptions struct {
	// Dataset defaults to the configured knowledge.dataset.
	Dataset string `json:"dataset,omitempty"`
	// CreateIfAbsent defaults to true.
	CreateIfAbsent *bool                       `json:"create_if_absent,omitempty"`
	Description    string                      `json:"description,omitempty"`
	ChunkMethod    string                      `json:"chunk_method,omitempty"`
	EmbeddingModel string                      `json:"embedding_model,omitempty"`
	ParserConfig   *knowledge.ParserConfigHint `json:"parser_config,omitempty"`
	Filename       string                      `json:"filename,omitempty"`
	SkipParse      bool                        `json:"skip_parse,omitempty"`
	Wait           bool                        `json:"wait,omitempty"`
}

// fromForm fills options from multipart form values.
func (o *PublishOptions) fromForm(r *http.Request) {
	o.Dataset = r.FormValue("dataset")
	create := formBool(r, "create_if_absent", true)
	o.CreateIfAbsent = &create
	o.Description = r.FormValue("description")
	o.ChunkMethod = r.FormValue("chunk_method")
	o.EmbeddingModel = r.FormValue("embedding_model")
	o.Filename = r.FormValue("filename")
	o.SkipParse = formBool(r, "skip_parse", false)
	o.Wait = formBool(r, "wait", false)
}

// toRequest builds a publish request, falling back to the configured dataset.
func (o PublishOptions) toRequest(s *svcctx.Services) knowledge.PublishRequest {
	dataset := o.Dataset
	if dataset == "" && s.Config != nil {
		dataset = s.Config.Get().Knowledge.Dataset
	}
	create := true
	if o.CreateIfAbsent != nil {
		create = *o.CreateIfAbsent
	}
	return knowledge.PublishRequest{
		DatasetName:    dataset,
		FilenameHint:   o.Filename,
		CreateIfAbsent: create,
		Description:    o.Description,
		ChunkMethod:    o.ChunkMethod,
		EmbeddingModel: o.EmbeddingModel,
		ParserConfig:   o.ParserConfig,
		SkipParse:      o.SkipParse,
		Wait:           o.Wait,
	}
}

// RunRequest is the JSON body for POST /api/runs.
type RunRequest struct {
	DocumentFields
	PublishOptions
}

// RunEndpoint handles POST /api/runs.
type RunEndpoint struct{}

var _ api.Endpoint = (*RunEndpoint)(nil)

func (e *RunEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/runs", e.handler
}

func (e *RunEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Recognize and publish a document
//	@Description	Process a document, publish the merged text to a dataset, trigger parsing and record the publication
//	@Tags			runs
//	@Accept			mpfd,json
//	@Produce		json
//	@Param			file		formData	file		false	"Image or PDF to recognize"
//	@Param			request		body		RunRequest	false	"Server-side path and options"
//	@Success		200			{object}	pipeline.RunResult
//	@Failure		400			{object}	ErrorResponse
//	@Failure		422			{object}	pipeline.RunResult
//	@Failure		502			{object}	pipeline.RunResult
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/runs [post]
func (e *RunEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s := svcctx.ServicesFrom(r.Context())
	if s == nil || s.Pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	var req RunRequest
	path, cleanup, ok := readDocument(w, r, &req.DocumentFields, &req)
	if !ok {
		return
	}
	defer cleanup()
	if isMultipart(r) {
		req.PublishOptions.fromForm(r)
	}

	provider, err := s.OCRProvider(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.Pipeline.Run(r.Context(), pipeline.RunRequest{
		Path:     path,
		Prompt:   req.Prompt,
		Page:     req.Page,
		Provider: provider,
		Publish:  req.PublishOptions.toRequest(s),
	})
	if err != nil {
		writeJSON(w, errorStatus(err), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *RunEndpoint) Command(getServerURL func() string) *cobra.Command {
	var fields DocumentFields
	var opts PublishOptions
	var noCreate, remote bool
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Recognize a document and publish it on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			create := !noCreate
			opts.CreateIfAbsent = &create

			var resp pipeline.RunResult
			if remote {
				fields.Path = args[0]
				body := RunRequest{DocumentFields: fields, PublishOptions: opts}
				if err := client.Post(cmd.Context(), "/api/runs", body, &resp); err != nil {
					return err
				}
				return api.Output(resp)
			}

			form := map[string]string{
				"prompt":           fields.Prompt,
				"provider":         fields.Provider,
				"dataset":          opts.Dataset,
				"create_if_absent": strconv.FormatBool(create),
				"description":      opts.Description,
				"chunk_method":     opts.ChunkMethod,
				"embedding_model":  opts.EmbeddingModel,
				"filename":         opts.Filename,
				"skip_parse":       strconv.FormatBool(opts.SkipParse),
				"wait":             strconv.FormatBool(opts.Wait),
			}
			if fields.Page > 0 {
				form["page"] = strconv.Itoa(fields.Page)
			}
			if err := client.PostFile(cmd.Context(), "/api/runs", args[0], form, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	addDocumentFlags(cmd, &fields)
	addPublishFlags(cmd, &opts, &noCreate)
	cmd.Flags().BoolVar(&remote, "remote", false, "Treat the argument as a path on the server")
	return cmd
}

func addPublishFlags(cmd *cobra.Command, opts *PublishOptions, noCreate *bool) {
	cmd.Flags().StringVarP(&opts.Dataset, "dataset", "d", "", "Target dataset (default from config)")
	cmd.Flags().BoolVar(noCreate, "no-create", false, "Fail instead of creating a missing dataset")
	cmd.Flags().StringVar(&opts.Description, "description", "", "Description for a newly created dataset")
	cmd.Flags().StringVar(&opts.ChunkMethod, "chunk-method", "", "Chunk method for a newly created dataset")
	cmd.Flags().StringVar(&opts.EmbeddingModel, "embedding-model", "", "Embedding model for a newly created dataset")
	cmd.Flags().StringVar(&opts.Filename, "filename", "", "Name hint for the uploaded text document")
	cmd.Flags().BoolVar(&opts.SkipParse, "skip-parse", false, "Upload without starting a parse job")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "Wait for parsing to finish")
}
