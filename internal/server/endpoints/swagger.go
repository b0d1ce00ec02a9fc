package endpoints

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ragscan/internal/api"
	"github.com/jackzampolin/ragscan/version"
)

// SwaggerEndpoint serves the OpenAPI spec. A generated swagger.json at
// SpecPath wins; otherwise the document is built from Routes.
type SwaggerEndpoint struct {
	// SpecPath is the path to the swagger.json file
	SpecPath string
	// Routes are the endpoints described when no spec file exists.
	Routes []api.Endpoint

	once  sync.Once
	built []byte
	err   error
}

func (e *SwaggerEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/swagger.json", e.handler
}

func (e *SwaggerEndpoint) RequiresInit() bool { return false }

func (e *SwaggerEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	specPath := e.SpecPath
	if specPath == "" {
		// Default to docs/swagger/swagger.json relative to working dir
		specPath = "docs/swagger/swagger.json"
	}

	data, err := os.ReadFile(specPath)
	if err != nil {
		e.once.Do(func() { e.built, e.err = json.Marshal(BuildOpenAPI(e.Routes)) })
		if e.err != nil {
			writeError(w, http.StatusInternalServerError, e.err.Error())
			return
		}
		data = e.built
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(data)
}

// OpenAPIDoc is a minimal Swagger 2.0 document.
type OpenAPIDoc struct {
	Swagger  string                                 `json:"swagger"`
	Info     OpenAPIInfo                            `json:"info"`
	BasePath string                                 `json:"basePath"`
	Paths    map[string]map[string]OpenAPIOperation `json:"paths"`
}

// OpenAPIInfo is the document's info block.
type OpenAPIInfo struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// OpenAPIOperation describes one method on a path.
type OpenAPIOperation struct {
	Summary     string                     `json:"summary,omitempty"`
	Tags        []string                   `json:"tags,omitempty"`
	Produces    []string                   `json:"produces,omitempty"`
	Parameters  []OpenAPIParameter         `json:"parameters,omitempty"`
	Responses   map[string]OpenAPIResponse `json:"responses"`
	RequireInit bool                       `json:"x-requires-init,omitempty"`
}

// OpenAPIParameter is a path parameter.
type OpenAPIParameter struct {
	Name     string `json:"name"`
	In       string `json:"in"`
	Required bool   `json:"required"`
	Type     string `json:"type"`
}

// OpenAPIResponse is a response description.
type OpenAPIResponse struct {
	Description string `json:"description"`
}

// BuildOpenAPI describes eps. Summaries come from each endpoint's CLI
// command; path parameters come from {name} segments of the route.
func BuildOpenAPI(eps []api.Endpoint) OpenAPIDoc {
	doc := OpenAPIDoc{
		Swagger: "2.0",
		Info: OpenAPIInfo{
			Title:       "ragscan API",
			Description: "Engineering document OCR and knowledge-base ingestion.",
			Version:     version.GitRelease,
		},
		BasePath: "/",
		Paths:    make(map[string]map[string]OpenAPIOperation),
	}
	noServer := func() string { return "" }
	for _, ep := range eps {
		method, path, _ := ep.Route()
		op := OpenAPIOperation{
			Summary:     ep.Command(noServer).Short,
			Tags:        []string{routeTag(path)},
			Produces:    []string{"application/json"},
			Responses:   map[string]OpenAPIResponse{"200": {Description: "OK"}},
			RequireInit: ep.RequiresInit(),
		}
		for _, seg := range strings.Split(path, "/") {
			if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
				op.Parameters = append(op.Parameters, OpenAPIParameter{
					Name:     strings.Trim(seg, "{}"),
					In:       "path",
					Required: true,
					Type:     "string",
				})
			}
		}
		if op.RequireInit {
			op.Responses["503"] = OpenAPIResponse{Description: "Server not initialized"}
		}
		if doc.Paths[path] == nil {
			doc.Paths[path] = make(map[string]OpenAPIOperation)
		}
		doc.Paths[path][strings.ToLower(method)] = op
	}
	return doc
}

// routeTag groups /api/<group>/... routes by group.
func routeTag(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/")
	if !ok {
		return "system"
	}
	group, _, _ := strings.Cut(rest, "/")
	return group
}

func (e *SwaggerEndpoint) Command(getServerURL func() string) *cobra.Command {
	var outputFile string
	cmd := &cobra.Command{
		Use:   "swagger",
		Short: "Fetch OpenAPI spec from server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())

			var spec map[string]any
			if err := client.Get(ctx, "/swagger.json", &spec); err != nil {
				return err
			}

			if outputFile != "" {
				return api.OutputToFile(spec, outputFile)
			}
			return api.Output(spec)
		},
	}
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path")
	return cmd
}

// SwaggerUIEndpoint serves Swagger UI.
type SwaggerUIEndpoint struct{}

func (e *SwaggerUIEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/swagger", e.handler
}

func (e *SwaggerUIEndpoint) RequiresInit() bool { return false }

func (e *SwaggerUIEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html>
<head>
  <title>ragscan API</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '/swagger.json',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}

func (e *SwaggerUIEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:    "swagger-ui",
		Hidden: true,
		Short:  "Open Swagger UI in browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println("Open in browser:", getServerURL()+"/swagger")
			return nil
		},
	}
}

// GetSwaggerSpecPath returns the path to swagger.json based on executable location.
func GetSwaggerSpecPath() string {
	// Try relative to executable first
	if exe, err := os.Executable(); err == nil {
		specPath := filepath.Join(filepath.Dir(exe), "docs", "swagger", "swagger.json")
		if _, err := os.Stat(specPath); err == nil {
			return specPath
		}
	}
	// Fall back to working directory
	return "docs/swagger/swagger.json"
}
