package knowledge

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store for tests and offline runs.
// Failure hooks must be set before the store is shared between goroutines.
type MemoryStore struct {
	// ConflictNames makes CreateDataset report a name collision for these
	// names even though they are not listed, as when another client wins a race.
	ConflictNames map[string]bool
	// CreateErr, when set, is consulted before every create.
	CreateErr func(req CreateDatasetRequest) error
	ListErr   error
	UploadErr error
	ParseErr  error
	StatusErr error
	HealthErr error
	// StatusScript is replayed by DocumentStatus, one entry per call,
	// repeating the last entry once exhausted.
	StatusScript []ParseStatus

	mu        sync.Mutex
	datasets  []Dataset
	documents map[string]memDocument
	docOrder  []string
	contents  map[string][]byte
	calls     map[string]int
	statusPos map[string]int
	nextID    int
}

type memDocument struct {
	ref     DocumentRef
	started bool
	stopped bool
}

// Verify interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]memDocument),
		contents:  make(map[string][]byte),
		calls:     make(map[string]int),
		statusPos: make(map[string]int),
	}
}

func (m *MemoryStore) record(op string) {
	m.calls[op]++
}

// Calls returns how many times op was invoked. Ops are named after Store methods.
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of Store calls of any kind.
func (m *MemoryStore) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// Content returns the stored bytes of a document.
func (m *MemoryStore) Content(documentID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.contents[documentID]
	return b, ok
}

// Datasets returns a snapshot of all datasets.
func (m *MemoryStore) Datasets() []Dataset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Dataset(nil), m.datasets...)
}

func (m *MemoryStore) ListDatasets(ctx context.Context, opts ListOptions) ([]Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListDatasets")
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]Dataset, 0, len(m.datasets))
	for _, d := range m.datasets {
		if opts.Name == "" || d.Name == opts.Name {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateDataset(ctx context.Context, req CreateDatasetRequest) (*Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateDataset")
	if m.CreateErr != nil {
		if err := m.CreateErr(req); err != nil {
			return nil, err
		}
	}
	if m.ConflictNames[req.Name] {
		return nil, conflictError(req.Name)
	}
	for _, d := range m.datasets {
		if d.Name == req.Name {
			return nil, conflictError(req.Name)
		}
	}

	m.nextID++
	ds := Dataset{
		ID:             fmt.Sprintf("ds-%d", m.nextID),
		Name:           req.Name,
		Description:    req.Description,
		ChunkMethod:    req.ChunkMethod,
		EmbeddingModel: req.EmbeddingModel,
		ParserConfig:   req.ParserConfig.Hint(),
	}
	m.datasets = append(m.datasets, ds)
	return &ds, nil
}

func conflictError(name string) error {
	return &ExternalServiceError{
		Op:      "create dataset",
		Code:    102,
		Message: fmt.Sprintf("Dataset name '%s' already exists", name),
		Err:     ErrDatasetConflict,
	}
}

func (m *MemoryStore) DeleteDatasets(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteDatasets")
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.datasets[:0]
	for _, d := range m.datasets {
		if !drop[d.ID] {
			kept = append(kept, d)
		}
	}
	m.datasets = kept
	return nil
}

func (m *MemoryStore) UploadText(ctx context.Context, datasetID, filename string, content []byte) (*DocumentRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UploadText")
	if m.UploadErr != nil {
		return nil, m.UploadErr
	}
	idx := m.datasetIndex(datasetID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, datasetID)
	}

	m.nextID++
	ref := DocumentRef{
		ID:        fmt.Sprintf("doc-%d", m.nextID),
		DatasetID: datasetID,
		Name:      filename,
		Size:      int64(len(content)),
	}
	m.documents[ref.ID] = memDocument{ref: ref}
	m.docOrder = append(m.docOrder, ref.ID)
	m.contents[ref.ID] = append([]byte(nil), content...)
	m.datasets[idx].DocumentCount++
	return &ref, nil
}

// AddDataset stores ds as if it had been created elsewhere. An empty ID is assigned.
func (m *MemoryStore) AddDataset(ds Dataset) Dataset {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ds.ID == "" {
		m.nextID++
		ds.ID = fmt.Sprintf("ds-%d", m.nextID)
	}
	m.datasets = append(m.datasets, ds)
	return ds
}

func (m *MemoryStore) ListDocuments(ctx context.Context, datasetID string, opts ListOptions) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListDocuments")
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	if m.datasetIndex(datasetID) < 0 {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, datasetID)
	}
	out := []Document{}
	for _, id := range m.docOrder {
		doc, ok := m.documents[id]
		if !ok || doc.ref.DatasetID != datasetID {
			continue
		}
		if opts.Name != "" && doc.ref.Name != opts.Name {
			continue
		}
		out = append(out, Document{
			ID:        doc.ref.ID,
			DatasetID: doc.ref.DatasetID,
			Name:      doc.ref.Name,
			Size:      doc.ref.Size,
			Status:    *doc.status(),
		})
	}
	return out, nil
}

func (m *MemoryStore) StartParse(ctx context.Context, datasetID string, documentIDs []string) error {
	return m.setParse("StartParse", datasetID, documentIDs, true)
}

func (m *MemoryStore) StopParse(ctx context.Context, datasetID string, documentIDs []string) error {
	return m.setParse("StopParse", datasetID, documentIDs, false)
}

func (m *MemoryStore) setParse(op, datasetID string, documentIDs []string, start bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(op)
	if m.ParseErr != nil {
		return m.ParseErr
	}
	for _, id := range documentIDs {
		doc, ok := m.documents[id]
		if !ok || doc.ref.DatasetID != datasetID {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		doc.started = start
		doc.stopped = !start
		m.documents[id] = doc
	}
	return nil
}

func (m *MemoryStore) DocumentStatus(ctx context.Context, datasetID, documentID string) (*ParseStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DocumentStatus")
	if m.StatusErr != nil {
		return nil, m.StatusErr
	}
	doc, ok := m.documents[documentID]
	if !ok || doc.ref.DatasetID != datasetID {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	if len(m.StatusScript) > 0 {
		pos := m.statusPos[documentID]
		if pos >= len(m.StatusScript) {
			pos = len(m.StatusScript) - 1
		}
		m.statusPos[documentID] = pos + 1
		st := m.StatusScript[pos]
		return &st, nil
	}

	return doc.status(), nil
}

func (d memDocument) status() *ParseStatus {
	switch {
	case d.stopped:
		return &ParseStatus{State: ParseFailed, Run: "CANCEL"}
	case d.started:
		return &ParseStatus{State: ParseDone, Progress: 1, Run: "DONE", ChunkCount: 1}
	default:
		return &ParseStatus{State: ParsePending, Run: "UNSTART"}
	}
}

func (m *MemoryStore) Health(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Health")
	return m.HealthErr
}

func (m *MemoryStore) datasetIndex(id string) int {
	for i, d := range m.datasets {
		if d.ID == id {
			return i
		}
	}
	return -1
}
