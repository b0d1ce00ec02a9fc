package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/ragscan/internal/api"
	"github.com/jackzampolin/ragscan/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running ragscan server via HTTP.

These commands require a running server (ragscan serve).
Use --server to specify a custom server URL.

Examples:
  ragscan api ready                              # Check OCR and knowledge store health
  ragscan api process drawing.png                # Recognize an uploaded document
  ragscan api batch a.pdf b.png                  # Recognize several uploaded documents
  ragscan api run manual.pdf -d manuals --wait   # Recognize, publish and wait for parsing
  ragscan api knowledge datasets                 # List datasets
  ragscan api knowledge documents <dataset_id>   # List documents and parse status
  ragscan api publications                       # List recorded publications`,
}

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Knowledge base commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))

	// Pipeline
	apiCmd.AddCommand((&endpoints.ProcessDocumentEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.BatchProcessEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.RunEndpoint{}).Command(getServerURL))

	// Ledger
	apiCmd.AddCommand((&endpoints.ListPublicationsEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.GetPublicationEndpoint{}).Command(getServerURL))

	// Swagger
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerUIEndpoint{}).Command(getServerURL))

	// Knowledge base as subcommand group
	addCommands(knowledgeCmd, endpoints.KnowledgeCommands())

	apiCmd.AddCommand(knowledgeCmd)
	rootCmd.AddCommand(apiCmd)
}

func addCommands(parent *cobra.Command, eps []api.Endpoint) {
	for _, ep := range eps {
		parent.AddCommand(ep.Command(getServerURL))
	}
}
