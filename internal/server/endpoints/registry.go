package endpoints

import (
	"github.com/jackzampolin/ragscan/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	swagger := &SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath}
	eps := []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Pipeline endpoints
		&ProcessDocumentEndpoint{},
		&BatchProcessEndpoint{},
		&RunEndpoint{},

		// Knowledge base endpoints
		&PublishEndpoint{},
		&ListDatasetsEndpoint{},
		&ListDocumentsEndpoint{},
		&DeleteDatasetEndpoint{},
		&ParseDocumentsEndpoint{},
		&ParseDocumentsEndpoint{Stop: true},
		&DocumentStatusEndpoint{},

		// Ledger endpoints
		&ListPublicationsEndpoint{},
		&GetPublicationEndpoint{},

		// Swagger/OpenAPI endpoints
		swagger,
		&SwaggerUIEndpoint{},
	}
	swagger.Routes = eps
	return eps
}

// KnowledgeCommands returns endpoints grouped under the "knowledge" subcommand.
func KnowledgeCommands() []api.Endpoint {
	return []api.Endpoint{
		&PublishEndpoint{},
		&ListDatasetsEndpoint{},
		&ListDocumentsEndpoint{},
		&DeleteDatasetEndpoint{},
		&ParseDocumentsEndpoint{},
		&ParseDocumentsEndpoint{Stop: true},
		&DocumentStatusEndpoint{},
	}
}
