// Package docs provides generated OpenAPI documentation.
//
// ragscan API
//
//	@title			ragscan API
//	@version		1.0
//	@description	Engineering document OCR and knowledge-base ingestion: recognize scanned pages, publish the text to RAGFlow datasets, and track parsing.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/ragscan
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/ragscan/serve.go -o ./swagger --parseDependency --parseInternal
