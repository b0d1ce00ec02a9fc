package knowledge

import "encoding/json"

// Chunk methods understood by the store.
const (
	ChunkMethodNaive = "naive"

	DefaultChunkMethod    = ChunkMethodNaive
	DefaultEmbeddingModel = "BAAI/bge-large-zh-v1.5@BAAI"
)

// Defaults filled in by CompleteParserConfig. The store fails internally
// when filename_embd_weight or the raptor/graphrag toggles are missing or null.
const (
	defaultChunkTokenNum      = 128
	defaultDelimiter          = "\n"
	defaultLayoutRecognize    = "DeepDOC"
	defaultFilenameEmbdWeight = 0.1
)

// RaptorConfig toggles recursive summarization.
type RaptorConfig struct {
	UseRaptor bool `json:"use_raptor"`
}

// GraphRAGConfig toggles knowledge-graph extraction.
type GraphRAGConfig struct {
	UseGraphRAG bool `json:"use_graphrag"`
}

// ParserConfig is a fully specified parser configuration. Build it with
// CompleteParserConfig; every field is populated for its chunk method.
type ParserConfig struct {
	ChunkMethod        string         `json:"-"`
	ChunkTokenNum      int            `json:"chunk_token_num,omitempty"`
	Delimiter          string         `json:"delimiter,omitempty"`
	HTML4Excel         bool           `json:"html4excel"`
	LayoutRecognize    string         `json:"layout_recognize,omitempty"`
	FilenameEmbdWeight float64        `json:"filename_embd_weight"`
	Raptor             RaptorConfig   `json:"raptor"`
	GraphRAG           GraphRAGConfig `json:"graphrag"`
}

// MarshalJSON emits the naive-only fields only for the naive method.
func (c ParserConfig) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"filename_embd_weight": c.FilenameEmbdWeight,
		"raptor":               c.Raptor,
		"graphrag":             c.GraphRAG,
	}
	if c.ChunkMethod == ChunkMethodNaive {
		out["chunk_token_num"] = c.ChunkTokenNum
		out["delimiter"] = c.Delimiter
		out["html4excel"] = c.HTML4Excel
		out["layout_recognize"] = c.LayoutRecognize
	}
	return json.Marshal(out)
}

// Hint returns c as a hint that CompleteParserConfig reproduces exactly.
func (c ParserConfig) Hint() *ParserConfigHint {
	h := &ParserConfigHint{
		FilenameEmbdWeight: &c.FilenameEmbdWeight,
		Raptor:             &RaptorHint{UseRaptor: &c.Raptor.UseRaptor},
		GraphRAG:           &GraphRAGHint{UseGraphRAG: &c.GraphRAG.UseGraphRAG},
	}
	if c.ChunkMethod == ChunkMethodNaive {
		h.ChunkTokenNum = &c.ChunkTokenNum
		h.Delimiter = &c.Delimiter
		h.HTML4Excel = &c.HTML4Excel
		h.LayoutRecognize = &c.LayoutRecognize
	}
	return h
}

// ParserConfigHint is a caller-supplied, possibly partial configuration.
type ParserConfigHint struct {
	ChunkTokenNum      *int          `json:"chunk_token_num,omitempty"`
	Delimiter          *string       `json:"delimiter,omitempty"`
	HTML4Excel         *bool         `json:"html4excel,omitempty"`
	LayoutRecognize    *string       `json:"layout_recognize,omitempty"`
	FilenameEmbdWeight *float64      `json:"filename_embd_weight,omitempty"`
	Raptor             *RaptorHint   `json:"raptor,omitempty"`
	GraphRAG           *GraphRAGHint `json:"graphrag,omitempty"`
}

// RaptorHint is the optional form of RaptorConfig.
type RaptorHint struct {
	UseRaptor *bool `json:"use_raptor,omitempty"`
}

// GraphRAGHint is the optional form of GraphRAGConfig.
type GraphRAGHint struct {
	UseGraphRAG *bool `json:"use_graphrag,omitempty"`
}

// CompleteParserConfig merges hint over the defaults for chunkMethod.
// It is total: any hint, including nil, yields a complete configuration.
func CompleteParserConfig(chunkMethod string, hint *ParserConfigHint) ParserConfig {
	if chunkMethod == "" {
		chunkMethod = DefaultChunkMethod
	}
	cfg := ParserConfig{
		ChunkMethod:        chunkMethod,
		FilenameEmbdWeight: defaultFilenameEmbdWeight,
	}
	if chunkMethod == ChunkMethodNaive {
		cfg.ChunkTokenNum = defaultChunkTokenNum
		cfg.Delimiter = defaultDelimiter
		cfg.LayoutRecognize = defaultLayoutRecognize
	}
	if hint == nil {
		return cfg
	}

	if hint.ChunkTokenNum != nil && *hint.ChunkTokenNum > 0 {
		cfg.ChunkTokenNum = *hint.ChunkTokenNum
	}
	if hint.Delimiter != nil && *hint.Delimiter != "" {
		cfg.Delimiter = *hint.Delimiter
	}
	if hint.HTML4Excel != nil {
		cfg.HTML4Excel = *hint.HTML4Excel
	}
	if hint.LayoutRecognize != nil && *hint.LayoutRecognize != "" {
		cfg.LayoutRecognize = *hint.LayoutRecognize
	}
	if hint.FilenameEmbdWeight != nil {
		cfg.FilenameEmbdWeight = *hint.FilenameEmbdWeight
	}
	if hint.Raptor != nil && hint.Raptor.UseRaptor != nil {
		cfg.Raptor.UseRaptor = *hint.Raptor.UseRaptor
	}
	if hint.GraphRAG != nil && hint.GraphRAG.UseGraphRAG != nil {
		cfg.GraphRAG.UseGraphRAG = *hint.GraphRAG.UseGraphRAG
	}
	return cfg
}
