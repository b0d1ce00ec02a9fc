package knowledge

import (
	"encoding/json"
	"testing"
)

func TestCompleteParserConfig_Defaults(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		wantNaive bool
	}{
		{"empty method is naive", "", true},
		{"naive", "naive", true},
		{"qa", "qa", false},
		{"table", "table", false},
		{"unknown", "whatever", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := CompleteParserConfig(tt.method, nil)
			if cfg.FilenameEmbdWeight != 0.1 {
				t.Errorf("FilenameEmbdWeight = %v, want 0.1", cfg.FilenameEmbdWeight)
			}
			if cfg.Raptor.UseRaptor || cfg.GraphRAG.UseGraphRAG {
				t.Errorf("raptor/graphrag should default off: %+v", cfg)
			}
			if tt.wantNaive {
				if cfg.ChunkTokenNum != 128 || cfg.Delimiter != "\n" || cfg.LayoutRecognize != "DeepDOC" {
					t.Errorf("naive defaults not applied: %+v", cfg)
				}
			} else if cfg.ChunkTokenNum != 0 || cfg.Delimiter != "" {
				t.Errorf("non-naive should not carry naive fields: %+v", cfg)
			}
		})
	}
}

func TestCompleteParserConfig_HintOverrides(t *testing.T) {
	tokens := 512
	delim := "。"
	weight := 0.3
	yes := true
	cfg := CompleteParserConfig("naive", &ParserConfigHint{
		ChunkTokenNum:      &tokens,
		Delimiter:          &delim,
		FilenameEmbdWeight: &weight,
		Raptor:             &RaptorHint{UseRaptor: &yes},
		// Empty nested hint must still yield a populated toggle.
		GraphRAG: &GraphRAGHint{},
	})
	if cfg.ChunkTokenNum != 512 || cfg.Delimiter != "。" || cfg.FilenameEmbdWeight != 0.3 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if !cfg.Raptor.UseRaptor {
		t.Error("raptor override lost")
	}
	if cfg.GraphRAG.UseGraphRAG {
		t.Error("graphrag should stay false")
	}
	if cfg.LayoutRecognize != "DeepDOC" {
		t.Errorf("unhinted field lost default: %q", cfg.LayoutRecognize)
	}
}

func TestCompleteParserConfig_IgnoresInvalidHints(t *testing.T) {
	zero := 0
	empty := ""
	cfg := CompleteParserConfig("naive", &ParserConfigHint{ChunkTokenNum: &zero, Delimiter: &empty})
	if cfg.ChunkTokenNum != 128 || cfg.Delimiter != "\n" {
		t.Errorf("invalid hints should fall back to defaults: %+v", cfg)
	}
}

func TestParserConfig_MarshalJSON(t *testing.T) {
	t.Run("naive carries chunking fields", func(t *testing.T) {
		b, err := json.Marshal(CompleteParserConfig("naive", nil))
		if err != nil {
			t.Fatal(err)
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatal(err)
		}
		for _, k := range []string{"chunk_token_num", "delimiter", "html4excel", "layout_recognize", "filename_embd_weight", "raptor", "graphrag"} {
			if _, ok := m[k]; !ok {
				t.Errorf("missing key %q in %s", k, b)
			}
		}
		graphrag, ok := m["graphrag"].(map[string]any)
		if !ok || graphrag["use_graphrag"] != false {
			t.Errorf("graphrag = %v", m["graphrag"])
		}
	})

	t.Run("other methods omit chunking fields", func(t *testing.T) {
		b, err := json.Marshal(CompleteParserConfig("qa", nil))
		if err != nil {
			t.Fatal(err)
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatal(err)
		}
		if _, ok := m["chunk_token_num"]; ok {
			t.Errorf("qa config should not carry chunk_token_num: %s", b)
		}
		if m["filename_embd_weight"] != 0.1 {
			t.Errorf("filename_embd_weight = %v", m["filename_embd_weight"])
		}
	})
}

func TestStateFromRun(t *testing.T) {
	tests := []struct {
		run  string
		want ParseState
	}{
		{"0", ParsePending},
		{"UNSTART", ParsePending},
		{"", ParsePending},
		{"1", ParseRunning},
		{"running", ParseRunning},
		{"2", ParseFailed},
		{"CANCEL", ParseFailed},
		{"3", ParseDone},
		{"DONE", ParseDone},
		{"4", ParseFailed},
		{"FAIL", ParseFailed},
	}
	for _, tt := range tests {
		t.Run(tt.run, func(t *testing.T) {
			if got := StateFromRun(tt.run); got != tt.want {
				t.Errorf("StateFromRun(%q) = %v, want %v", tt.run, got, tt.want)
			}
		})
	}
}

func TestIsNameConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrDatasetConflict, true},
		{"english", &ExternalServiceError{Op: "create", Message: "Dataset name 'x' Already Exists"}, true},
		{"chinese", &ExternalServiceError{Op: "create", Message: "数据集名称已存在"}, true},
		{"duplicate", &ExternalServiceError{Op: "create", Message: "Duplicate dataset name"}, true},
		{"other", &ExternalServiceError{Op: "create", Message: "quota exceeded"}, false},
		{"plain error", errTest("name already exists"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNameConflict(tt.err); got != tt.want {
				t.Errorf("IsNameConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
