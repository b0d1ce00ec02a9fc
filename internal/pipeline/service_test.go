package pipeline

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackzampolin/ragscan/internal/knowledge"
	"github.com/jackzampolin/ragscan/internal/ledger"
	"github.com/jackzampolin/ragscan/internal/raster"
)

func writeTestPNG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pump-manual.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 40, 20))); err != nil {
		t.Fatal(err)
	}
	return path
}

type serviceFixture struct {
	svc    *Service
	store  *knowledge.MemoryStore
	ledger *ledger.Ledger
}

func newServiceFixture(t *testing.T, aggCfg func(*Config)) serviceFixture {
	t.Helper()
	cfg := Config{Provider: quietMock(), Rasterizer: raster.NewRenderer(raster.RendererConfig{}), Tiling: testTiling}
	if aggCfg != nil {
		aggCfg(&cfg)
	}
	agg, err := NewAggregator(cfg)
	if err != nil {
		t.Fatal(err)
	}

	store := knowledge.NewMemoryStore()
	pub, err := knowledge.NewPublisher(knowledge.PublisherConfig{
		Store:        store,
		PollAttempts: 3,
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	svc, err := NewService(ServiceConfig{Aggregator: agg, Publisher: pub, Ledger: l})
	if err != nil {
		t.Fatal(err)
	}
	return serviceFixture{svc: svc, store: store, ledger: l}
}

func TestService_Run(t *testing.T) {
	f := newServiceFixture(t, nil)
	path := writeTestPNG(t)

	res, err := f.svc.Run(context.Background(), RunRequest{
		Path: path,
		Publish: knowledge.PublishRequest{
			DatasetName:    "manuals",
			CreateIfAbsent: true,
			Wait:           true,
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Success || res.RunID == "" || res.PublicationID == "" {
		t.Errorf("result = %+v", res)
	}

	stored, ok := f.store.Content(res.Publish.Document.ID)
	if !ok || string(stored) != res.Document.Text {
		t.Errorf("stored content = %q, want %q", stored, res.Document.Text)
	}
	if res.Publish.ParseStatus == nil || res.Publish.ParseStatus.State != knowledge.ParseDone {
		t.Errorf("parse status = %+v", res.Publish.ParseStatus)
	}

	entry, err := f.ledger.Get(context.Background(), res.PublicationID)
	if err != nil {
		t.Fatalf("ledger Get() error = %v", err)
	}
	if entry.RunID != res.RunID || entry.DatasetName != "manuals" || entry.ParseState != "done" || !entry.Success {
		t.Errorf("ledger entry = %+v", entry)
	}
	if entry.Source != path || entry.ProcessedPages != 1 {
		t.Errorf("ledger entry = %+v", entry)
	}
}

func TestService_Run_NoPagesRecognized(t *testing.T) {
	f := newServiceFixture(t, func(c *Config) {
		m := quietMock()
		m.ShouldFail = true
		c.Provider = m
	})

	res, err := f.svc.Run(context.Background(), RunRequest{
		Path:    writeTestPNG(t),
		Publish: knowledge.PublishRequest{DatasetName: "manuals", CreateIfAbsent: true},
	})
	if !errors.Is(err, ErrNoPagesRecognized) {
		t.Fatalf("err = %v, want ErrNoPagesRecognized", err)
	}
	if res.Success || res.Error == "" || len(res.Warnings) != 1 {
		t.Errorf("result = %+v", res)
	}
	if f.store.TotalCalls() != 0 {
		t.Errorf("store calls = %d, want 0", f.store.TotalCalls())
	}
}

func TestService_Run_MissingFile(t *testing.T) {
	f := newServiceFixture(t, nil)
	res, err := f.svc.Run(context.Background(), RunRequest{Path: filepath.Join(t.TempDir(), "nope.pdf")})
	if err == nil || res.Success || res.Error == "" {
		t.Errorf("res = %+v, err = %v", res, err)
	}
}

func TestService_Run_SkipPublish(t *testing.T) {
	f := newServiceFixture(t, nil)
	res, err := f.svc.Run(context.Background(), RunRequest{Path: writeTestPNG(t), SkipPublish: true})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Publish != nil {
		t.Errorf("result = %+v", res)
	}
	if f.store.TotalCalls() != 0 {
		t.Errorf("store calls = %d, want 0", f.store.TotalCalls())
	}
}

func TestService_Run_ParseTriggerWarning(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.store.ParseErr = errors.New("queue unavailable")

	res, err := f.svc.Run(context.Background(), RunRequest{
		Path:    writeTestPNG(t),
		Publish: knowledge.PublishRequest{DatasetName: "manuals", CreateIfAbsent: true},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Success || len(res.Warnings) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestService_RefreshStatus(t *testing.T) {
	f := newServiceFixture(t, nil)
	res, err := f.svc.Run(context.Background(), RunRequest{
		Path:    writeTestPNG(t),
		Publish: knowledge.PublishRequest{DatasetName: "manuals", CreateIfAbsent: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	entry, _ := f.ledger.Get(context.Background(), res.PublicationID)
	if entry.ParseState != "pending" {
		t.Fatalf("initial ParseState = %q, want pending", entry.ParseState)
	}

	st, err := f.svc.RefreshStatus(context.Background(), res.Publish.Dataset.ID, res.Publish.Document.ID)
	if err != nil {
		t.Fatalf("RefreshStatus() error = %v", err)
	}
	if st.State != knowledge.ParseDone {
		t.Errorf("State = %v", st.State)
	}
	entry, _ = f.ledger.Get(context.Background(), res.PublicationID)
	if entry.ParseState != "done" {
		t.Errorf("ledger ParseState = %q, want done", entry.ParseState)
	}
}

func TestService_PublishText(t *testing.T) {
	f := newServiceFixture(t, nil)

	t.Run("records publication", func(t *testing.T) {
		res, err := f.svc.PublishText(context.Background(), knowledge.PublishRequest{
			DatasetName:    "notes",
			Text:           "pump curve data",
			FilenameHint:   "notes.txt",
			CreateIfAbsent: true,
		})
		if err != nil {
			t.Fatalf("PublishText() error = %v", err)
		}
		if !res.Success || res.PublicationID == "" {
			t.Fatalf("result = %+v", res)
		}
		entry, err := f.ledger.Get(context.Background(), res.PublicationID)
		if err != nil {
			t.Fatal(err)
		}
		if entry.Source != "notes.txt" || entry.ContentLength != len("pump curve data") || entry.TotalPages != 0 {
			t.Errorf("entry = %+v", entry)
		}
	})

	t.Run("blank text is not recorded", func(t *testing.T) {
		before, _ := f.ledger.List(context.Background(), ledger.ListOptions{})
		res, err := f.svc.PublishText(context.Background(), knowledge.PublishRequest{DatasetName: "notes", Text: "  "})
		if !errors.Is(err, knowledge.ErrValidation) || res.Success {
			t.Errorf("res = %+v, err = %v", res, err)
		}
		after, _ := f.ledger.List(context.Background(), ledger.ListOptions{})
		if len(after) != len(before) {
			t.Errorf("ledger rows %d -> %d", len(before), len(after))
		}
	})
}

func TestService_ProcessBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("one item per file in order", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		good := writeTestPNG(t)
		missing := filepath.Join(t.TempDir(), "nope.png")
		unsupported := filepath.Join(t.TempDir(), "notes.docx")

		items, err := f.svc.ProcessBatch(ctx, []string{good, missing, unsupported, good}, ProcessOptions{})
		if err != nil {
			t.Fatalf("ProcessBatch() error = %v", err)
		}
		if len(items) != 4 {
			t.Fatalf("got %d items, want 4", len(items))
		}
		for i, want := range []bool{true, false, false, true} {
			if items[i].Success != want {
				t.Errorf("items[%d].Success = %v, want %v (%s)", i, items[i].Success, want, items[i].Error)
			}
		}
		if items[0].Source != good || items[0].Document == nil || items[0].Err != nil {
			t.Errorf("items[0] = %+v", items[0])
		}
		if !errors.Is(items[2].Err, raster.ErrUnsupportedFormat) {
			t.Errorf("items[2].Err = %v, want ErrUnsupportedFormat", items[2].Err)
		}
		if f.store.TotalCalls() != 0 {
			t.Errorf("store calls = %d, want 0", f.store.TotalCalls())
		}
	})

	t.Run("unrecognized file fails its item", func(t *testing.T) {
		f := newServiceFixture(t, func(c *Config) {
			m := quietMock()
			m.ShouldFail = true
			c.Provider = m
		})
		items, err := f.svc.ProcessBatch(ctx, []string{writeTestPNG(t)}, ProcessOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if items[0].Success || !errors.Is(items[0].Err, ErrNoPagesRecognized) || items[0].Document == nil {
			t.Errorf("item = %+v", items[0])
		}
	})

	t.Run("size limits", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		if _, err := f.svc.ProcessBatch(ctx, nil, ProcessOptions{}); !errors.Is(err, knowledge.ErrValidation) {
			t.Errorf("empty batch err = %v, want ErrValidation", err)
		}
		paths := make([]string, MaxBatchFiles+1)
		for i := range paths {
			paths[i] = "page.png"
		}
		if _, err := f.svc.ProcessBatch(ctx, paths, ProcessOptions{}); !errors.Is(err, ErrBatchSize) {
			t.Errorf("oversized batch err = %v, want ErrBatchSize", err)
		}
	})

	t.Run("cancelled context fails remaining files", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		items, err := f.svc.ProcessBatch(cctx, []string{writeTestPNG(t), writeTestPNG(t)}, ProcessOptions{})
		if err != nil {
			t.Fatal(err)
		}
		for i, item := range items {
			if !errors.Is(item.Err, context.Canceled) {
				t.Errorf("items[%d].Err = %v, want context.Canceled", i, item.Err)
			}
		}
	})
}
