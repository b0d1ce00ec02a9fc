package svcctx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/ragscan/internal/config"
	"github.com/jackzampolin/ragscan/internal/home"
	"github.com/jackzampolin/ragscan/internal/knowledge"
	"github.com/jackzampolin/ragscan/internal/providers"
)

func newTestManager(t *testing.T, content string) *config.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr
}

func mockRegistry() *providers.Registry {
	r := providers.NewRegistry()
	m := providers.NewMockOCRProvider()
	m.Latency = 0
	r.RegisterOCR(providers.MockOCRName, m)
	return r
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	h, _ := home.New(dir)

	t.Run("wires services with defaults", func(t *testing.T) {
		mgr := newTestManager(t, "defaults:\n  ocr_provider: mock\n")
		s, err := Build(context.Background(), BuildOptions{
			Config:   mgr,
			Home:     h,
			Store:    knowledge.NewMemoryStore(),
			Registry: mockRegistry(),
		})
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		defer s.Close()

		if s.Pipeline == nil || s.Publisher == nil || s.Ledger == nil {
			t.Fatalf("services incomplete: %+v", s)
		}
		if s.Ledger.Path() != h.LedgerPath() {
			t.Errorf("ledger path = %q, want %q", s.Ledger.Path(), h.LedgerPath())
		}
		p, err := s.OCRProvider("")
		if err != nil || p.Name() != providers.MockOCRName {
			t.Errorf("OCRProvider(\"\") = %v, %v", p, err)
		}
	})

	t.Run("unknown default provider", func(t *testing.T) {
		mgr := newTestManager(t, "defaults:\n  ocr_provider: nope\n")
		_, err := Build(context.Background(), BuildOptions{
			Config:   mgr,
			Home:     h,
			Store:    knowledge.NewMemoryStore(),
			Registry: mockRegistry(),
		})
		if err == nil {
			t.Error("expected error for unknown provider")
		}
	})

	t.Run("unreachable redis fails fast", func(t *testing.T) {
		mgr := newTestManager(t, "defaults:\n  ocr_provider: mock\nredis:\n  addr: 127.0.0.1:1\n")
		_, err := Build(context.Background(), BuildOptions{
			Config:   mgr,
			Home:     h,
			Store:    knowledge.NewMemoryStore(),
			Registry: mockRegistry(),
		})
		if err == nil {
			t.Error("expected redis ping error")
		}
	})
}

func TestExtractors(t *testing.T) {
	ctx := context.Background()
	if ServicesFrom(ctx) != nil || PipelineFrom(ctx) != nil || StoreFrom(ctx) != nil || LedgerFrom(ctx) != nil {
		t.Error("expected nil services on bare context")
	}

	store := knowledge.NewMemoryStore()
	pub, err := knowledge.NewPublisher(knowledge.PublisherConfig{Store: store})
	if err != nil {
		t.Fatal(err)
	}
	ctx = WithServices(ctx, &Services{Publisher: pub})
	if PublisherFrom(ctx) != pub {
		t.Error("PublisherFrom did not return attached publisher")
	}
	if StoreFrom(ctx) != store {
		t.Error("StoreFrom did not return the publisher's store")
	}
}
