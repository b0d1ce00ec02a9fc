package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/ragscan/internal/server"
	"github.com/jackzampolin/ragscan/internal/server/endpoints"
)

var (
	serveHost        string
	servePort        string
	serveSwaggerPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ragscan server",
	Long: `Start the ragscan HTTP server.

The server builds the OCR provider registry, pipeline, knowledge base
publisher and publication ledger from configuration. The config file is
watched; provider settings are reloaded without a restart.

The server provides:
  - /health  - Basic server health check
  - /ready   - Readiness check (OCR provider and knowledge store)
  - /status  - Provider, knowledge store and ledger details
  - /api/... - Document processing, publishing and ledger queries
  - /swagger - API documentation

Examples:
  ragscan serve                    # Start on default port 8080
  ragscan serve --port 3000        # Start on custom port
  ragscan serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, h, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(mgr.Get())
		if mgr.ConfigFile() != "" {
			logger.Info("using config file", "path", mgr.ConfigFile())
			mgr.WatchConfig()
		}

		swaggerPath := serveSwaggerPath
		if swaggerPath == "" {
			swaggerPath = endpoints.GetSwaggerSpecPath()
		}

		srv, err := server.New(server.Config{
			Host:            serveHost,
			Port:            servePort,
			ConfigManager:   mgr,
			Home:            h,
			SwaggerSpecPath: swaggerPath,
			Logger:          logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")
	serveCmd.Flags().StringVar(&serveSwaggerPath, "swagger-spec", "", "Path to swagger.json (default: next to the binary, then docs/swagger/swagger.json)")

	rootCmd.AddCommand(serveCmd)
}
