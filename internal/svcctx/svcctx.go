// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jackzampolin/ragscan/internal/config"
	"github.com/jackzampolin/ragscan/internal/home"
	"github.com/jackzampolin/ragscan/internal/knowledge"
	"github.com/jackzampolin/ragscan/internal/ledger"
	"github.com/jackzampolin/ragscan/internal/pipeline"
	"github.com/jackzampolin/ragscan/internal/providers"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Pipeline  *pipeline.Service
	Registry  *providers.Registry
	Publisher *knowledge.Publisher
	Ledger    *ledger.Ledger
	Config    *config.Manager
	Logger    *slog.Logger
	Home      *home.Dir

	redis *redis.Client
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// PipelineFrom extracts the document pipeline from context.
func PipelineFrom(ctx context.Context) *pipeline.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Pipeline
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// PublisherFrom extracts the knowledge publisher from context.
func PublisherFrom(ctx context.Context) *knowledge.Publisher {
	if s := ServicesFrom(ctx); s != nil {
		return s.Publisher
	}
	return nil
}

// StoreFrom extracts the knowledge store behind the publisher.
func StoreFrom(ctx context.Context) knowledge.Store {
	if p := PublisherFrom(ctx); p != nil {
		return p.Store()
	}
	return nil
}

// LedgerFrom extracts the publication ledger from context.
func LedgerFrom(ctx context.Context) *ledger.Ledger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Ledger
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
