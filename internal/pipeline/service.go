package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jackzampolin/ragscan/internal/knowledge"
	"github.com/jackzampolin/ragscan/internal/ledger"
	"github.com/jackzampolin/ragscan/internal/providers"
	"github.com/jackzampolin/ragscan/internal/raster"
)

// ErrNoPagesRecognized means every page of a document failed.
var ErrNoPagesRecognized = errors.New("no page could be recognized")

// ServiceConfig configures a Service. Publisher and Ledger are optional.
type ServiceConfig struct {
	Aggregator *Aggregator
	Publisher  *knowledge.Publisher
	Ledger     *ledger.Ledger
	Logger     *slog.Logger
}

// Service runs documents through recognition and publication.
type Service struct {
	aggregator *Aggregator
	publisher  *knowledge.Publisher
	ledger     *ledger.Ledger
	logger     *slog.Logger
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Aggregator == nil {
		return nil, fmt.Errorf("aggregator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		aggregator: cfg.Aggregator,
		publisher:  cfg.Publisher,
		ledger:     cfg.Ledger,
		logger:     cfg.Logger,
	}, nil
}

// Aggregator returns the page aggregator.
func (s *Service) Aggregator() *Aggregator { return s.aggregator }

// Publisher returns the knowledge publisher, or nil when none is configured.
func (s *Service) Publisher() *knowledge.Publisher { return s.publisher }

// Ledger returns the publication ledger, or nil when none is configured.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// ProcessFile opens path and recognizes it.
func (s *Service) ProcessFile(ctx context.Context, path string, opts ProcessOptions) (*AggregatedDocument, error) {
	doc, err := raster.Open(path)
	if err != nil {
		return nil, err
	}
	return s.aggregator.Process(ctx, doc, opts)
}

// MaxBatchFiles is the most files one ProcessBatch call accepts.
const MaxBatchFiles = 10

// ErrBatchSize rejects an empty or oversized batch.
var ErrBatchSize = fmt.Errorf("%w: a batch needs 1 to %d files", knowledge.ErrValidation, MaxBatchFiles)

// BatchItem is the outcome for one file of a batch. Err is nil exactly
// when Success is true.
type BatchItem struct {
	Source   string              `json:"source" yaml:"source"`
	Success  bool                `json:"success" yaml:"success"`
	Error    string              `json:"error,omitempty" yaml:"error,omitempty"`
	Document *AggregatedDocument `json:"document,omitempty" yaml:"document,omitempty"`
	Err      error               `json:"-" yaml:"-"`
}

// ProcessBatch recognizes each file in order. A failed file does not stop
// the batch; its item carries the error. Files left when ctx ends fail
// with the context error.
func (s *Service) ProcessBatch(ctx context.Context, paths []string, opts ProcessOptions) ([]BatchItem, error) {
	if len(paths) == 0 || len(paths) > MaxBatchFiles {
		return nil, fmt.Errorf("%w, got %d", ErrBatchSize, len(paths))
	}

	items := make([]BatchItem, len(paths))
	for i, path := range paths {
		item := BatchItem{Source: path}
		if err := ctx.Err(); err != nil {
			item.Err = err
		} else {
			doc, err := s.ProcessFile(ctx, path, opts)
			item.Document = doc
			switch {
			case err != nil:
				item.Err = err
			case !doc.Success():
				item.Err = ErrNoPagesRecognized
			default:
				item.Success = true
			}
		}
		if item.Err != nil {
			item.Error = item.Err.Error()
			s.logger.Warn("batch file failed", "source", path, "error", item.Err)
		}
		items[i] = item
	}
	return items, nil
}

// RunRequest is the input to Run.
type RunRequest struct {
	Path   string
	Prompt string
	Page   int
	// Provider overrides the aggregator's OCR provider when set.
	Provider providers.OCRProvider
	Publish  knowledge.PublishRequest
	// SkipPublish stops after recognition.
	SkipPublish bool
}

// RunResult is the structured outcome of Run.
type RunResult struct {
	RunID         string                   `json:"run_id"`
	Success       bool                     `json:"success"`
	Error         string                   `json:"error,omitempty"`
	Warnings      []string                 `json:"warnings,omitempty"`
	Document      *AggregatedDocument      `json:"document,omitempty"`
	Publish       *knowledge.PublishResult `json:"publish,omitempty"`
	PublicationID string                   `json:"publication_id,omitempty"`
}

// Run recognizes a document and publishes the merged text. The result is
// always non-nil; page failures and parse-trigger failures become warnings.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	result := &RunResult{RunID: uuid.NewString()}
	logger := s.logger.With("run_id", result.RunID, "source", req.Path)
	fail := func(err error) (*RunResult, error) {
		result.Error = err.Error()
		logger.Error("run failed", "error", err)
		return result, err
	}

	doc, err := s.ProcessFile(ctx, req.Path, ProcessOptions{Prompt: req.Prompt, Page: req.Page, Provider: req.Provider})
	if err != nil {
		return fail(err)
	}
	result.Document = doc
	for _, pe := range doc.Errors {
		result.Warnings = append(result.Warnings, pe.Error())
	}
	if !doc.Success() {
		return fail(fmt.Errorf("%w: %d pages failed", ErrNoPagesRecognized, doc.TotalPages))
	}

	if req.SkipPublish || s.publisher == nil {
		result.Success = true
		return result, nil
	}

	pubReq := req.Publish
	pubReq.Text = doc.Text
	if pubReq.FilenameHint == "" {
		pubReq.FilenameHint = req.Path
	}
	pub, err := s.publisher.Publish(ctx, pubReq)
	result.Publish = pub
	if pub != nil {
		result.Warnings = append(result.Warnings, pub.Warnings...)
	}
	s.record(ctx, logger, result, pubReq)
	if err != nil {
		return fail(err)
	}

	result.Success = pub.Success
	logger.Info("run complete",
		"dataset", pub.Dataset.Name,
		"document_id", pub.Document.ID,
		"processed_pages", doc.ProcessedPages,
		"total_pages", doc.TotalPages,
		"warnings", len(result.Warnings))
	return result, nil
}

// PublishText publishes already-recognized text and records it in the
// ledger. The result is always non-nil.
func (s *Service) PublishText(ctx context.Context, req knowledge.PublishRequest) (*RunResult, error) {
	result := &RunResult{RunID: uuid.NewString()}
	logger := s.logger.With("run_id", result.RunID, "source", req.FilenameHint)
	if s.publisher == nil {
		err := fmt.Errorf("knowledge store is not configured")
		result.Error = err.Error()
		return result, err
	}

	pub, err := s.publisher.Publish(ctx, req)
	result.Publish = pub
	if pub != nil {
		result.Warnings = append(result.Warnings, pub.Warnings...)
	}
	if errors.Is(err, knowledge.ErrValidation) {
		result.Error = err.Error()
		return result, err
	}
	s.record(ctx, logger, result, req)
	if err != nil {
		result.Error = err.Error()
		logger.Error("publish failed", "error", err)
		return result, err
	}
	result.Success = pub.Success
	return result, nil
}

// record writes the run to the ledger. Ledger failures are logged only.
func (s *Service) record(ctx context.Context, logger *slog.Logger, result *RunResult, req knowledge.PublishRequest) {
	if s.ledger == nil {
		return
	}
	entry := &ledger.Publication{
		RunID:         result.RunID,
		Source:        req.FilenameHint,
		DatasetName:   req.DatasetName,
		ContentLength: len(req.Text),
		Warnings:      result.Warnings,
	}
	if doc := result.Document; doc != nil {
		entry.Source = doc.Source
		entry.Provider = doc.Provider
		entry.TotalPages = doc.TotalPages
		entry.ProcessedPages = doc.ProcessedPages
		entry.Confidence = doc.Confidence
	}
	if pub := result.Publish; pub != nil {
		entry.Success = pub.Success
		entry.Error = pub.Error
		if pub.Dataset != nil {
			entry.DatasetID = pub.Dataset.ID
			entry.DatasetName = pub.Dataset.Name
		}
		if pub.Document != nil {
			entry.DocumentID = pub.Document.ID
			entry.Filename = pub.Document.Name
		}
		if pub.ParseStatus != nil {
			entry.ParseState = string(pub.ParseStatus.State)
			entry.ParseProgress = pub.ParseStatus.Progress
			entry.ChunkCount = pub.ParseStatus.ChunkCount
		} else if pub.ParseTriggered {
			entry.ParseState = string(knowledge.ParsePending)
		}
	}
	if err := s.ledger.Record(ctx, entry); err != nil {
		logger.Warn("failed to record publication", "error", err)
		return
	}
	result.PublicationID = entry.ID
}

// RefreshStatus fetches a document's parse status and, when the ledger
// knows the document, stores the new observation.
func (s *Service) RefreshStatus(ctx context.Context, datasetID, documentID string) (*knowledge.ParseStatus, error) {
	if s.publisher == nil {
		return nil, fmt.Errorf("knowledge store is not configured")
	}
	st, err := s.publisher.Store().DocumentStatus(ctx, datasetID, documentID)
	if err != nil {
		return nil, err
	}
	if s.ledger == nil {
		return st, nil
	}
	entry, err := s.ledger.FindByDocument(ctx, documentID)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			s.logger.Warn("failed to look up publication", "document_id", documentID, "error", err)
		}
		return st, nil
	}
	update := ledger.StatusUpdate{State: string(st.State), Progress: st.Progress, ChunkCount: st.ChunkCount}
	if err := s.ledger.UpdateStatus(ctx, entry.ID, update); err != nil {
		s.logger.Warn("failed to update publication status", "id", entry.ID, "error", err)
	}
	return st, nil
}
