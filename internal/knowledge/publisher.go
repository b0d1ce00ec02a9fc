package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	DefaultPollAttempts = 30
	DefaultPollInterval = 2 * time.Second

	// nameSuffixLayout renders the timestamp appended to renamed datasets and uploads.
	nameSuffixLayout = "20060102_150405"
)

// errNotTerminal keeps the poll loop going.
var errNotTerminal = errors.New("parse not finished")

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Store Store
	// Locker serializes dataset resolution per name. Defaults to an in-process lock.
	Locker         Locker
	ChunkMethod    string
	EmbeddingModel string
	PollAttempts   int
	PollInterval   time.Duration
	// Now is the clock used for rename and filename suffixes.
	Now    func() time.Time
	Logger *slog.Logger
}

// Publisher resolves datasets, uploads text and tracks parsing.
type Publisher struct {
	store          Store
	locker         Locker
	chunkMethod    string
	embeddingModel string
	pollAttempts   int
	pollInterval   time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// NewPublisher creates a publisher over a store.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Locker == nil {
		cfg.Locker = NewLocalLocker()
	}
	if cfg.ChunkMethod == "" {
		cfg.ChunkMethod = DefaultChunkMethod
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Publisher{
		store:          cfg.Store,
		locker:         cfg.Locker,
		chunkMethod:    cfg.ChunkMethod,
		embeddingModel: cfg.EmbeddingModel,
		pollAttempts:   cfg.PollAttempts,
		pollInterval:   cfg.PollInterval,
		now:            cfg.Now,
		logger:         cfg.Logger,
	}, nil
}

// Store returns the underlying store.
func (p *Publisher) Store() Store { return p.store }

// ResolveOptions controls dataset resolution.
type ResolveOptions struct {
	CreateIfAbsent bool
	Description    string
	ChunkMethod    string
	EmbeddingModel string
	ParserConfig   *ParserConfigHint
}

// ResolveDataset finds a dataset by exact name, creating it when allowed.
// An existing dataset is always reused, even when creation was requested.
// A name collision on create is retried once under a timestamp-suffixed name.
func (p *Publisher) ResolveDataset(ctx context.Context, name string, opts ResolveOptions) (*DatasetRef, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: dataset name is required", ErrValidation)
	}

	unlock, err := p.locker.Lock(ctx, "dataset:"+name)
	if err != nil {
		return nil, fmt.Errorf("failed to lock dataset %q: %w", name, err)
	}
	defer unlock()

	existing, err := p.store.ListDatasets(ctx, ListOptions{Name: name})
	if err != nil {
		return nil, asExternal("list datasets", err)
	}
	for _, d := range existing {
		if d.Name == name {
			p.logger.Info("reusing dataset", "dataset", name, "dataset_id", d.ID)
			// Defaults only fill what the stored configuration leaves out.
			return &DatasetRef{
				ID:             d.ID,
				Name:           d.Name,
				ChunkMethod:    d.ChunkMethod,
				EmbeddingModel: d.EmbeddingModel,
				ParserConfig:   CompleteParserConfig(d.ChunkMethod, d.ParserConfig),
			}, nil
		}
	}

	if !opts.CreateIfAbsent {
		return nil, fmt.Errorf("%w: %q", ErrDatasetNotFound, name)
	}

	method := opts.ChunkMethod
	if method == "" {
		method = p.chunkMethod
	}
	model := opts.EmbeddingModel
	if model == "" {
		model = p.embeddingModel
	}
	desc := opts.Description
	if desc == "" {
		desc = "Engineering document OCR results, created " + p.now().Format("2006-01-02 15:04:05")
	}
	req := CreateDatasetRequest{
		Name:           name,
		Description:    desc,
		ChunkMethod:    method,
		EmbeddingModel: model,
		ParserConfig:   CompleteParserConfig(method, opts.ParserConfig),
	}

	ds, err := p.store.CreateDataset(ctx, req)
	if err != nil {
		if !IsNameConflict(err) {
			return nil, asExternal("create dataset", err)
		}
		req.Name = name + "_" + p.now().Format(nameSuffixLayout)
		p.logger.Warn("dataset name taken, retrying with suffix",
			"dataset", name,
			"retry_name", req.Name,
			"error", err)

		ds, err = p.store.CreateDataset(ctx, req)
		if err != nil {
			return nil, asExternal("create dataset", fmt.Errorf("retry as %q: %w", req.Name, err))
		}
	}

	p.logger.Info("created dataset", "dataset", ds.Name, "dataset_id", ds.ID)
	ref := &DatasetRef{
		ID:             ds.ID,
		Name:           req.Name,
		ChunkMethod:    method,
		EmbeddingModel: model,
		ParserConfig:   req.ParserConfig,
		Created:        true,
	}
	if req.Name != name {
		ref.RequestedName = name
	}
	return ref, nil
}

// PublishContent uploads text as one document. Blank text is rejected
// before any store call. An empty filename gets a generated one.
func (p *Publisher) PublishContent(ctx context.Context, ds *DatasetRef, text, filename string) (*DocumentRef, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: content is empty", ErrValidation)
	}
	if ds == nil || ds.ID == "" {
		return nil, fmt.Errorf("%w: dataset is required", ErrValidation)
	}
	if filename == "" {
		filename = FilenameFor("", p.now())
	}

	doc, err := p.store.UploadText(ctx, ds.ID, filename, []byte(text))
	if err != nil {
		return nil, asExternal("upload document", err)
	}
	p.logger.Info("uploaded document",
		"dataset_id", ds.ID,
		"document_id", doc.ID,
		"filename", doc.Name,
		"bytes", doc.Size)
	return doc, nil
}

// TriggerParse starts asynchronous parsing of a document.
func (p *Publisher) TriggerParse(ctx context.Context, ds *DatasetRef, doc *DocumentRef) error {
	if err := p.store.StartParse(ctx, ds.ID, []string{doc.ID}); err != nil {
		return fmt.Errorf("%w: %w", ErrParseTrigger, err)
	}
	return nil
}

// PollOptions bounds a status poll. Zero values use the publisher defaults.
type PollOptions struct {
	MaxAttempts int
	Interval    time.Duration
}

// PollParseStatus fetches status until the parse is terminal or attempts run
// out, returning the last observation either way. Cancellation is honored
// only between attempts; an in-flight status request always completes.
func (p *Publisher) PollParseStatus(ctx context.Context, ds *DatasetRef, doc *DocumentRef, opts PollOptions) (*ParseStatus, error) {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = p.pollAttempts
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = p.pollInterval
	}

	var last *ParseStatus
	var lastErr error
	err := retry.Do(
		func() error {
			st, err := p.store.DocumentStatus(context.WithoutCancel(ctx), ds.ID, doc.ID)
			if err != nil {
				lastErr = err
				return err
			}
			last = st
			if st.State.Terminal() {
				return nil
			}
			return errNotTerminal
		},
		retry.Attempts(uint(attempts)),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)

	if ctxErr := ctx.Err(); ctxErr != nil && (last == nil || !last.State.Terminal()) {
		return last, ctxErr
	}
	if err == nil || last != nil {
		return last, nil
	}
	return nil, asExternal("document status", lastErr)
}

// PublishRequest is the input to Publish.
type PublishRequest struct {
	DatasetName    string
	Text           string
	FilenameHint   string
	CreateIfAbsent bool
	Description    string
	ChunkMethod    string
	EmbeddingModel string
	ParserConfig   *ParserConfigHint
	// SkipParse uploads without starting a parse job.
	SkipParse bool
	// Wait polls until the parse is terminal or PollAttempts run out.
	Wait         bool
	PollAttempts int
	PollInterval time.Duration
}

// PublishResult is the structured outcome of Publish. A parse-trigger
// failure leaves Success true with a warning.
type PublishResult struct {
	Success        bool         `json:"success"`
	Error          string       `json:"error,omitempty"`
	Warnings       []string     `json:"warnings,omitempty"`
	Dataset        *DatasetRef  `json:"dataset,omitempty"`
	Document       *DocumentRef `json:"document,omitempty"`
	ParseTriggered bool         `json:"parse_triggered"`
	ParseStatus    *ParseStatus `json:"parse_status,omitempty"`
}

// Publish resolves the dataset, uploads the text, then optionally starts
// and waits for parsing. The result is always non-nil.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	result := &PublishResult{}
	fail := func(err error) (*PublishResult, error) {
		result.Error = err.Error()
		return result, err
	}

	if strings.TrimSpace(req.Text) == "" {
		return fail(fmt.Errorf("%w: content is empty", ErrValidation))
	}

	ds, err := p.ResolveDataset(ctx, req.DatasetName, ResolveOptions{
		CreateIfAbsent: req.CreateIfAbsent,
		Description:    req.Description,
		ChunkMethod:    req.ChunkMethod,
		EmbeddingModel: req.EmbeddingModel,
		ParserConfig:   req.ParserConfig,
	})
	if err != nil {
		return fail(err)
	}
	result.Dataset = ds
	if ds.RequestedName != "" {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("dataset %q already existed, created %q instead", ds.RequestedName, ds.Name))
	}

	doc, err := p.PublishContent(ctx, ds, req.Text, FilenameFor(req.FilenameHint, p.now()))
	if err != nil {
		return fail(err)
	}
	result.Document = doc
	result.Success = true

	if req.SkipParse {
		return result, nil
	}
	if err := p.TriggerParse(ctx, ds, doc); err != nil {
		p.logger.Warn("failed to trigger parse", "dataset_id", ds.ID, "document_id", doc.ID, "error", err)
		result.Warnings = append(result.Warnings, err.Error())
		return result, nil
	}
	result.ParseTriggered = true

	if !req.Wait {
		return result, nil
	}
	st, err := p.PollParseStatus(ctx, ds, doc, PollOptions{MaxAttempts: req.PollAttempts, Interval: req.PollInterval})
	result.ParseStatus = st
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("parse status unavailable: %v", err))
	} else if st != nil && !st.State.Terminal() {
		result.Warnings = append(result.Warnings, fmt.Sprintf("parse still %s after polling", st.State))
	}
	return result, nil
}

// FilenameFor derives the uploaded document name from a source path.
func FilenameFor(hint string, now time.Time) string {
	ts := now.Format(nameSuffixLayout)
	if hint == "" {
		return "ocr_result_" + ts + ".txt"
	}
	base := filepath.Base(hint)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return "ocr_result_" + ts + ".txt"
	}
	return stem + "_ocr_" + ts + ".txt"
}

// asExternal ensures err surfaces as an *ExternalServiceError.
func asExternal(op string, err error) error {
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		if _, ok := err.(*ExternalServiceError); ok {
			return err
		}
		return &ExternalServiceError{Op: op, StatusCode: ext.StatusCode, Code: ext.Code, Err: err}
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrDatasetNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ExternalServiceError{Op: op, Err: err}
}
