package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultRAGFlowURL     = "http://localhost:9380"
	DefaultRAGFlowTimeout = 60 * time.Second
	defaultListPageSize   = 30
	// maxListPages bounds pagination against a store that never returns a short page.
	maxListPages = 1000
)

// ErrDocumentNotFound is returned when a status lookup matches no document.
var ErrDocumentNotFound = errors.New("document not found")

// RAGFlowConfig configures a RAGFlowClient.
type RAGFlowConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	PageSize int
	Logger   *slog.Logger
}

// RAGFlowClient talks to the RAGFlow HTTP API v1.
type RAGFlowClient struct {
	baseURL  string
	apiKey   string
	pageSize int
	client   *http.Client
	logger   *slog.Logger
}

// Verify interface
var _ Store = (*RAGFlowClient)(nil)

// NewRAGFlowClient creates a RAGFlow client.
func NewRAGFlowClient(cfg RAGFlowConfig) *RAGFlowClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultRAGFlowURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultRAGFlowTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultListPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RAGFlowClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   cfg.Logger,
	}
}

// BaseURL returns the configured service URL.
func (c *RAGFlowClient) BaseURL() string { return c.baseURL }

// ListDatasets pages through all datasets, newest first. When opts.Page is
// set only that page is fetched. A Name filter is applied locally by exact match.
func (c *RAGFlowClient) ListDatasets(ctx context.Context, opts ListOptions) ([]Dataset, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	first, last := 1, maxListPages
	if opts.Page > 0 {
		first, last = opts.Page, opts.Page
	}

	var all []Dataset
	for page := first; page <= last; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(pageSize))
		q.Set("orderby", "create_time")
		q.Set("desc", "true")

		var batch []Dataset
		if err := c.doJSON(ctx, "list datasets", http.MethodGet, "/api/v1/datasets", q, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < pageSize {
			break
		}
	}

	if opts.Name == "" {
		return all, nil
	}
	matched := make([]Dataset, 0, 1)
	for _, d := range all {
		if d.Name == opts.Name {
			matched = append(matched, d)
		}
	}
	return matched, nil
}

// CreateDataset creates a dataset with a complete parser configuration.
func (c *RAGFlowClient) CreateDataset(ctx context.Context, req CreateDatasetRequest) (*Dataset, error) {
	body := struct {
		CreateDatasetRequest
		Permission string `json:"permission"`
	}{req, "me"}

	var ds Dataset
	err := c.doJSON(ctx, "create dataset", http.MethodPost, "/api/v1/datasets", nil, body, &ds)
	if err != nil {
		var ext *ExternalServiceError
		if errors.As(err, &ext) && ext.Err == nil && isConflictMessage(ext.Message) {
			ext.Err = ErrDatasetConflict
		}
		return nil, err
	}
	if ds.ID == "" {
		return nil, &ExternalServiceError{Op: "create dataset", Message: "response carried no dataset id"}
	}
	return &ds, nil
}

// DeleteDatasets removes datasets by id.
func (c *RAGFlowClient) DeleteDatasets(ctx context.Context, ids []string) error {
	body := map[string][]string{"ids": ids}
	return c.doJSON(ctx, "delete datasets", http.MethodDelete, "/api/v1/datasets", nil, body, nil)
}

// ListDocuments pages through a dataset's documents. When opts.Page is
// set only that page is fetched.
func (c *RAGFlowClient) ListDocuments(ctx context.Context, datasetID string, opts ListOptions) ([]Document, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	first, last := 1, maxListPages
	if opts.Page > 0 {
		first, last = opts.Page, opts.Page
	}
	path := "/api/v1/datasets/" + url.PathEscape(datasetID) + "/documents"

	var all []Document
	for page := first; page <= last; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(pageSize))
		q.Set("orderby", "create_time")
		q.Set("desc", "true")
		if opts.Name != "" {
			q.Set("name", opts.Name)
		}

		var data struct {
			Docs  []ragflowDocument `json:"docs"`
			Total int               `json:"total"`
		}
		if err := c.doJSON(ctx, "list documents", http.MethodGet, path, q, nil, &data); err != nil {
			return nil, err
		}
		for _, d := range data.Docs {
			if opts.Name != "" && d.Name != opts.Name {
				continue
			}
			all = append(all, d.document(datasetID))
		}
		if len(data.Docs) < pageSize {
			break
		}
	}
	if all == nil {
		all = []Document{}
	}
	return all, nil
}

// UploadText uploads content as a text/plain document.
func (c *RAGFlowClient) UploadText(ctx context.Context, datasetID, filename string, content []byte) (*DocumentRef, error) {
	const op = "upload document"

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", "text/plain")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write multipart body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	var docs []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Size      int64  `json:"size"`
		DatasetID string `json:"dataset_id"`
	}
	path := "/api/v1/datasets/" + url.PathEscape(datasetID) + "/documents"
	if err := c.do(ctx, op, http.MethodPost, path, nil, &buf, w.FormDataContentType(), &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 || docs[0].ID == "" {
		return nil, &ExternalServiceError{Op: op, Message: "response carried no document id"}
	}

	ref := &DocumentRef{ID: docs[0].ID, DatasetID: docs[0].DatasetID, Name: docs[0].Name, Size: docs[0].Size}
	if ref.DatasetID == "" {
		ref.DatasetID = datasetID
	}
	if ref.Name == "" {
		ref.Name = filename
	}
	if ref.Size == 0 {
		ref.Size = int64(len(content))
	}
	return ref, nil
}

// StartParse queues documents for chunking.
func (c *RAGFlowClient) StartParse(ctx context.Context, datasetID string, documentIDs []string) error {
	body := map[string][]string{"document_ids": documentIDs}
	path := "/api/v1/datasets/" + url.PathEscape(datasetID) + "/chunks"
	return c.doJSON(ctx, "start parse", http.MethodPost, path, nil, body, nil)
}

// StopParse cancels chunking for documents.
func (c *RAGFlowClient) StopParse(ctx context.Context, datasetID string, documentIDs []string) error {
	body := map[string][]string{"document_ids": documentIDs}
	path := "/api/v1/datasets/" + url.PathEscape(datasetID) + "/chunks"
	return c.doJSON(ctx, "stop parse", http.MethodDelete, path, nil, body, nil)
}

// DocumentStatus fetches a document's parse status.
func (c *RAGFlowClient) DocumentStatus(ctx context.Context, datasetID, documentID string) (*ParseStatus, error) {
	q := url.Values{}
	q.Set("id", documentID)

	var data struct {
		Docs []ragflowDocument `json:"docs"`
	}
	path := "/api/v1/datasets/" + url.PathEscape(datasetID) + "/documents"
	if err := c.doJSON(ctx, "document status", http.MethodGet, path, q, nil, &data); err != nil {
		return nil, err
	}
	for _, d := range data.Docs {
		if d.ID == documentID {
			return d.status(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
}

// Health lists a single dataset to confirm reachability and credentials.
func (c *RAGFlowClient) Health(ctx context.Context) error {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("page_size", "1")
	var ignored json.RawMessage
	return c.doJSON(ctx, "health", http.MethodGet, "/api/v1/datasets", q, nil, &ignored)
}

type ragflowDocument struct {
	ID          string  `json:"id"`
	DatasetID   string  `json:"dataset_id"`
	Name        string  `json:"name"`
	Size        int64   `json:"size"`
	Run         any     `json:"run"`
	Progress    float64 `json:"progress"`
	ProgressMsg string  `json:"progress_msg"`
	ChunkCount  *int    `json:"chunk_count"`
	ChunkNum    *int    `json:"chunk_num"`
	TokenCount  *int    `json:"token_count"`
	TokenNum    *int    `json:"token_num"`
}

func (d ragflowDocument) status() *ParseStatus {
	run := runString(d.Run)
	return &ParseStatus{
		State:      StateFromRun(run),
		Progress:   clampProgress(d.Progress),
		Message:    d.ProgressMsg,
		ChunkCount: firstInt(d.ChunkCount, d.ChunkNum),
		TokenCount: firstInt(d.TokenCount, d.TokenNum),
		Run:        run,
	}
}

func (d ragflowDocument) document(datasetID string) Document {
	doc := Document{ID: d.ID, DatasetID: d.DatasetID, Name: d.Name, Size: d.Size, Status: *d.status()}
	if doc.DatasetID == "" {
		doc.DatasetID = datasetID
	}
	return doc
}

func firstInt(vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

type ragflowEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *RAGFlowClient) doJSON(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, query, reader, contentType, out)
}

func (c *RAGFlowClient) do(ctx context.Context, op, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return &ExternalServiceError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ExternalServiceError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	c.logger.Debug("ragflow request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	var env ragflowEnvelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if decodeErr == nil && env.Message != "" {
			msg = env.Message
		}
		return &ExternalServiceError{Op: op, StatusCode: resp.StatusCode, Code: env.Code, Message: msg}
	}
	if decodeErr != nil {
		return &ExternalServiceError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to unmarshal response: %w", decodeErr)}
	}
	if env.Code != 0 {
		return &ExternalServiceError{Op: op, StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &ExternalServiceError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to unmarshal data: %w", err)}
	}
	return nil
}
