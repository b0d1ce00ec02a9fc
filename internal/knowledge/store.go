package knowledge

import "context"

// CreateDatasetRequest describes a dataset to create.
type CreateDatasetRequest struct {
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	ChunkMethod    string       `json:"chunk_method"`
	EmbeddingModel string       `json:"embedding_model,omitempty"`
	ParserConfig   ParserConfig `json:"parser_config"`
}

// ListOptions filters ListDatasets and ListDocuments. An empty Name lists everything.
type ListOptions struct {
	Name     string
	Page     int
	PageSize int
}

// Store is the retrieval service's dataset API.
type Store interface {
	// ListDatasets returns datasets matching opts. A name filter that
	// matches nothing returns an empty slice, not an error.
	ListDatasets(ctx context.Context, opts ListOptions) ([]Dataset, error)

	// CreateDataset creates a dataset. A duplicate name fails with an
	// error for which IsNameConflict reports true.
	CreateDataset(ctx context.Context, req CreateDatasetRequest) (*Dataset, error)

	// DeleteDatasets removes datasets by id.
	DeleteDatasets(ctx context.Context, ids []string) error

	// ListDocuments returns the documents of a dataset with their parse
	// status. A Name filter matches exactly.
	ListDocuments(ctx context.Context, datasetID string, opts ListOptions) ([]Document, error)

	// UploadText stores content as a document named filename.
	UploadText(ctx context.Context, datasetID, filename string, content []byte) (*DocumentRef, error)

	// StartParse queues documents for parsing.
	StartParse(ctx context.Context, datasetID string, documentIDs []string) error

	// StopParse cancels parsing for documents.
	StopParse(ctx context.Context, datasetID string, documentIDs []string) error

	// DocumentStatus reports the parse status of one document.
	DocumentStatus(ctx context.Context, datasetID, documentID string) (*ParseStatus, error)

	// Health reports whether the store answers authenticated requests.
	Health(ctx context.Context) error
}
