// Package knowledge publishes recognized documents into a retrieval
// service's datasets and tracks their asynchronous parsing.
package knowledge

import (
	"strconv"
	"strings"
)

// Dataset is a knowledge-base container as listed by the store.
type Dataset struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	ChunkMethod    string `json:"chunk_method,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	DocumentCount  int    `json:"document_count"`
	ChunkCount     int    `json:"chunk_count"`
	CreateTime     int64  `json:"create_time,omitempty"`
	// ParserConfig is the dataset's stored configuration, possibly partial.
	ParserConfig *ParserConfigHint `json:"parser_config,omitempty"`
}

// DatasetRef identifies a resolved dataset. A renamed dataset is a new ref.
type DatasetRef struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	ChunkMethod    string       `json:"chunk_method"`
	EmbeddingModel string       `json:"embedding_model,omitempty"`
	ParserConfig   ParserConfig `json:"parser_config"`
	// Created is true when this call created the dataset.
	Created bool `json:"created"`
	// RequestedName is set when a name collision forced a rename.
	RequestedName string `json:"requested_name,omitempty"`
}

// DocumentRef identifies a stored document inside a dataset.
type DocumentRef struct {
	ID        string `json:"id"`
	DatasetID string `json:"dataset_id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
}

// Document is a stored document as listed by the store.
type Document struct {
	ID        string      `json:"id"`
	DatasetID string      `json:"dataset_id"`
	Name      string      `json:"name"`
	Size      int64       `json:"size"`
	Status    ParseStatus `json:"status"`
}

// ParseState is the lifecycle of an asynchronous parse job.
type ParseState string

const (
	ParsePending ParseState = "pending"
	ParseRunning ParseState = "running"
	ParseDone    ParseState = "done"
	ParseFailed  ParseState = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s ParseState) Terminal() bool {
	return s == ParseDone || s == ParseFailed
}

// ParseStatus is an observation of a document's parse job.
type ParseStatus struct {
	State      ParseState `json:"state"`
	Progress   float64    `json:"progress"`
	Message    string     `json:"message,omitempty"`
	ChunkCount int        `json:"chunk_count"`
	TokenCount int        `json:"token_count,omitempty"`
	// Run is the store's raw run state.
	Run string `json:"run,omitempty"`
}

// StateFromRun maps the store's run value to a ParseState.
// Both numeric ("0".."4") and symbolic ("UNSTART", "DONE", ...) forms occur.
func StateFromRun(run string) ParseState {
	switch strings.ToUpper(strings.TrimSpace(run)) {
	case "1", "RUNNING":
		return ParseRunning
	case "3", "DONE":
		return ParseDone
	case "2", "CANCEL", "4", "FAIL":
		return ParseFailed
	default:
		return ParsePending
	}
}

// clampProgress bounds p to [0,1].
func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// runString renders a decoded JSON run value (string or number) as a string.
func runString(v any) string {
	switch r := v.(type) {
	case string:
		return r
	case float64:
		return strconv.FormatFloat(r, 'f', -1, 64)
	default:
		return ""
	}
}
