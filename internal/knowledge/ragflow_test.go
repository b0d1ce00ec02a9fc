package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func writeEnvelope(w http.ResponseWriter, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message, "data": data})
}

func newTestRAGFlow(t *testing.T, handler http.HandlerFunc) *RAGFlowClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRAGFlowClient(RAGFlowConfig{BaseURL: srv.URL, APIKey: "test-key", PageSize: 2})
}

func TestRAGFlow_ListDatasets_Paginates(t *testing.T) {
	all := []Dataset{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}, {ID: "3", Name: "target"}}
	var pages []int
	client := newTestRAGFlow(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/api/v1/datasets" || r.Method != http.MethodGet {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
		pages = append(pages, page)
		start := (page - 1) * size
		end := min(start+size, len(all))
		if start > len(all) {
			start = len(all)
		}
		writeEnvelope(w, 0, "", all[start:end])
	})

	got, err := client.ListDatasets(context.Background(), ListOptions{})
	if err != nil {
		t.Fatalf("ListDatasets() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d datasets, want 3", len(got))
	}
	if len(pages) != 2 {
		t.Errorf("fetched pages %v, want 2 pages", pages)
	}

	t.Run("exact name filter", func(t *testing.T) {
		got, err := client.ListDatasets(context.Background(), ListOptions{Name: "target"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "3" {
			t.Errorf("got %+v", got)
		}
		got, err = client.ListDatasets(context.Background(), ListOptions{Name: "Target"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("name match should be case-sensitive, got %+v", got)
		}
	})
}

func TestRAGFlow_CreateDataset(t *testing.T) {
	t.Run("sends complete parser config", func(t *testing.T) {
		client := newTestRAGFlow(t, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			pc, ok := body["parser_config"].(map[string]any)
			if !ok {
				t.Fatalf("parser_config missing: %v", body)
			}
			if pc["filename_embd_weight"] != 0.1 {
				t.Errorf("filename_embd_weight = %v", pc["filename_embd_weight"])
			}
			if _, ok := pc["graphrag"].(map[string]any); !ok {
				t.Errorf("graphrag missing: %v", pc)
			}
			if body["permission"] != "me" || body["name"] != "docs" {
				t.Errorf("body = %v", body)
			}
			writeEnvelope(w, 0, "", map[string]any{"id": "ds-1", "name": "docs"})
		})
		ds, err := client.CreateDataset(context.Background(), CreateDatasetRequest{
			Name:         "docs",
			ChunkMethod:  "naive",
			ParserConfig: CompleteParserConfig("naive", nil),
		})
		if err != nil {
			t.Fatalf("CreateDataset() error = %v", err)
		}
		if ds.ID != "ds-1" {
			t.Errorf("ID = %q", ds.ID)
		}
	})

	t.Run("name collision maps to conflict", func(t *testing.T) {
		client := newTestRAGFlow(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, 102, "Dataset name 'docs' already exists", nil)
		})
		_, err := client.CreateDataset(context.Background(), CreateDatasetRequest{Name: "docs"})
		if !errors.Is(err, ErrDatasetConflict) {
			t.Fatalf("err = %v, want ErrDatasetConflict", err)
		}
		var ext *ExternalServiceError
		if !errors.As(err, &ext) || ext.Code != 102 {
			t.Errorf("err = %#v", err)
		}
	})

	t.Run("other envelope error", func(t *testing.T) {
		client := newTestRAGFlow(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, 101, "embedding model not found", nil)
		})
		_, err := client.CreateDataset(context.Background(), CreateDatasetRequest{Name: "docs"})
		if err == nil || errors.Is(err, ErrDatasetConflict) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestRAGFlow_UploadText(t *testing.T) {
	client := newTestRAGFlow(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/datasets/ds-1/documents" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		if string(body) != "hello" {
			t.Errorf("content = %q", body)
		}
		if header.Header.Get("Content-Type") != "text/plain" {
			t.Errorf("part content type = %q", header.Header.Get("Content-Type"))
		}
		writeEnvelope(w, 0, "", []map[string]any{{"id": "doc-9", "name": header.Filename, "size": len(body), "dataset_id": "ds-1"}})
	})

	doc, err := client.UploadText(context.Background(), "ds-1", "manual_ocr.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("UploadText() error = %v", err)
	}
	if doc.ID != "doc-9" || doc.Name != "manual_ocr.txt" || doc.Size != 5 {
		t.Errorf("doc = %+v", doc)
	}
}

func TestRAGFlow_DocumentStatus(t *testing.T) {
	tests := []struct {
		name      string
		doc       map[string]any
		wantState ParseState
		wantChunk int
	}{
		{"symbolic done", map[string]any{"id": "d", "run": "DONE", "progress": 1.0, "chunk_count": 7}, ParseDone, 7},
		{"numeric running", map[string]any{"id": "d", "run": 1, "progress": 0.4, "chunk_num": 2}, ParseRunning, 2},
		{"string failed", map[string]any{"id": "d", "run": "4", "progress_msg": "boom"}, ParseFailed, 0},
		{"missing run", map[string]any{"id": "d"}, ParsePending, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestRAGFlow(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("id") != "d" {
					t.Errorf("id query = %q", r.URL.Query().Get("id"))
				}
				writeEnvelope(w, 0, "", map[string]any{"docs": []any{tt.doc}, "total": 1})
			})
			st, err := client.DocumentStatus(context.Background(), "ds", "d")
			if err != nil {
				t.Fatalf("DocumentStatus() error = %v", err)
			}
			if st.State != tt.wantState || st.ChunkCount != tt.wantChunk {
				t.Errorf("status = %+v", st)
			}
		})
	}

	t.Run("unknown document", func(t *testing.T) {
		client := newTestRAGFlow(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, 0, "", map[string]any{"docs": []any{}, "total": 0})
		})
		if _, err := client.DocumentStatus(context.Background(), "ds", "d"); !errors.Is(err, ErrDocumentNotFound) {
			t.Errorf("err = %v, want ErrDocumentNotFound", err)
		}
	})
}

func TestRAGFlow_Errors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"code":401,"message":"invalid api key"}`)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "non-json 502",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				fmt.Fprint(w, "bad gateway")
			},
			wantStatus: http.StatusBadGateway,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "not json")
			},
			wantStatus: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestRAGFlow(t, tt.handler)
			err := client.Health(context.Background())
			var ext *ExternalServiceError
			if !errors.As(err, &ext) {
				t.Fatalf("err = %v, want *ExternalServiceError", err)
			}
			if ext.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", ext.StatusCode, tt.wantStatus)
			}
		})
	}

	t.Run("transport failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close()
		client := NewRAGFlowClient(RAGFlowConfig{BaseURL: srv.URL})
		var ext *ExternalServiceError
		if err := client.Health(context.Background()); !errors.As(err, &ext) {
			t.Errorf("err = %v, want *ExternalServiceError", err)
		}
	})
}

func TestRAGFlow_ParseControl(t *testing.T) {
	var methods []string
	client := newTestRAGFlow(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/datasets/ds/chunks" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			DocumentIDs []string `json:"document_ids"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.DocumentIDs) != 1 || body.DocumentIDs[0] != "d" {
			t.Errorf("document_ids = %v", body.DocumentIDs)
		}
		methods = append(methods, r.Method)
		writeEnvelope(w, 0, "", nil)
	})
	if err := client.StartParse(context.Background(), "ds", []string{"d"}); err != nil {
		t.Fatalf("StartParse() error = %v", err)
	}
	if err := client.StopParse(context.Background(), "ds", []string{"d"}); err != nil {
		t.Fatalf("StopParse() error = %v", err)
	}
	if len(methods) != 2 || methods[0] != http.MethodPost || methods[1] != http.MethodDelete {
		t.Errorf("methods = %v", methods)
	}
}

func TestRAGFlow_ListDatasets_ParserConfig(t *testing.T) {
	client := newTestRAGFlow(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 0, "", []any{map[string]any{
			"id":           "1",
			"name":         "manuals",
			"chunk_method": "naive",
			"parser_config": map[string]any{
				"chunk_token_num":  512,
				"delimiter":        "\n!?",
				"layout_recognize": "Plain Text",
				"raptor":           map[string]any{"use_raptor": true},
			},
		}})
	})

	got, err := client.ListDatasets(context.Background(), ListOptions{Page: 1})
	if err != nil {
		t.Fatalf("ListDatasets() error = %v", err)
	}
	if len(got) != 1 || got[0].ParserConfig == nil {
		t.Fatalf("got %+v, want parser config decoded", got)
	}
	cfg := CompleteParserConfig(got[0].ChunkMethod, got[0].ParserConfig)
	if cfg.ChunkTokenNum != 512 || cfg.Delimiter != "\n!?" || cfg.LayoutRecognize != "Plain Text" || !cfg.Raptor.UseRaptor {
		t.Errorf("completed config = %+v", cfg)
	}
	if cfg.FilenameEmbdWeight != defaultFilenameEmbdWeight {
		t.Errorf("FilenameEmbdWeight = %v, want default", cfg.FilenameEmbdWeight)
	}
}

func TestRAGFlow_ListDocuments(t *testing.T) {
	all := []map[string]any{
		{"id": "d1", "name": "a.txt", "size": 10, "run": "DONE", "progress": 1.0, "chunk_count": 3},
		{"id": "d2", "name": "b.txt", "size": 20, "run": "RUNNING", "progress": 0.5},
		{"id": "d3", "name": "c.txt", "size": 30, "run": "UNSTART"},
	}
	var pages []int
	client := newTestRAGFlow(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/datasets/ds-1/documents" || r.Method != http.MethodGet {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
		pages = append(pages, page)
		docs := all
		if name := r.URL.Query().Get("name"); name != "" {
			docs = nil
			for _, d := range all {
				if d["name"] == name {
					docs = append(docs, d)
				}
			}
		}
		start := min((page-1)*size, len(docs))
		end := min(start+size, len(docs))
		writeEnvelope(w, 0, "", map[string]any{"docs": docs[start:end], "total": len(docs)})
	})

	got, err := client.ListDocuments(context.Background(), "ds-1", ListOptions{})
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(got) != 3 || len(pages) != 2 {
		t.Fatalf("got %d documents over pages %v", len(got), pages)
	}
	if got[0].DatasetID != "ds-1" || got[0].Size != 10 || got[0].Status.State != ParseDone || got[0].Status.ChunkCount != 3 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Status.State != ParseRunning {
		t.Errorf("second state = %q", got[1].Status.State)
	}

	t.Run("name filter", func(t *testing.T) {
		got, err := client.ListDocuments(context.Background(), "ds-1", ListOptions{Name: "c.txt"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "d3" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("empty dataset", func(t *testing.T) {
		client := newTestRAGFlow(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, 0, "", map[string]any{"docs": []any{}, "total": 0})
		})
		got, err := client.ListDocuments(context.Background(), "ds-1", ListOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("got %#v, want empty slice", got)
		}
	})
}
