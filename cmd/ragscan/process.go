package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ragscan/internal/api"
	"github.com/jackzampolin/ragscan/internal/knowledge"
	"github.com/jackzampolin/ragscan/internal/pipeline"
	"github.com/jackzampolin/ragscan/internal/svcctx"
)

// documentFlags are shared by process and run.
type documentFlags struct {
	prompt   string
	page     int
	provider string
}

func (f *documentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "Prompt text or preset name (general, table, diagram, specification)")
	cmd.Flags().IntVar(&f.page, "page", 0, "Process only this 1-based page (0 = all)")
	cmd.Flags().StringVar(&f.provider, "provider", "", "OCR provider name (default from config)")
}

// publishFlags are shared by run and publish.
type publishFlags struct {
	dataset        string
	noCreate       bool
	description    string
	chunkMethod    string
	embeddingModel string
	filename       string
	skipParse      bool
	wait           bool
}

func (f *publishFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.dataset, "dataset", "d", "", "Target dataset (default from config)")
	cmd.Flags().BoolVar(&f.noCreate, "no-create", false, "Fail instead of creating a missing dataset")
	cmd.Flags().StringVar(&f.description, "description", "", "Description for a newly created dataset")
	cmd.Flags().StringVar(&f.chunkMethod, "chunk-method", "", "Chunk method for a newly created dataset")
	cmd.Flags().StringVar(&f.embeddingModel, "embedding-model", "", "Embedding model for a newly created dataset")
	cmd.Flags().StringVar(&f.filename, "filename", "", "Name hint for the uploaded text document")
	cmd.Flags().BoolVar(&f.skipParse, "skip-parse", false, "Upload without starting a parse job")
	cmd.Flags().BoolVar(&f.wait, "wait", false, "Wait for parsing to finish")
}

func (f *publishFlags) request(s *svcctx.Services) knowledge.PublishRequest {
	dataset := f.dataset
	if dataset == "" {
		dataset = s.Config.Get().Knowledge.Dataset
	}
	return knowledge.PublishRequest{
		DatasetName:    dataset,
		FilenameHint:   f.filename,
		CreateIfAbsent: !f.noCreate,
		Description:    f.description,
		ChunkMethod:    f.chunkMethod,
		EmbeddingModel: f.embeddingModel,
		SkipParse:      f.skipParse,
		Wait:           f.wait,
	}
}

var (
	processDoc  documentFlags
	processText string
	processSave string
)

var processCmd = &cobra.Command{
	Use:   "process <file>...",
	Short: "Recognize documents locally without publishing",
	Long: `Rasterize, tile and OCR every page of an image or PDF and print the
merged result. Nothing is sent to the knowledge base.

Several files (up to 10) are recognized one after another and reported
one result per file; --text and --save apply to a single file only.

Examples:
  ragscan process drawing.png
  ragscan process manual.pdf --page 3 --prompt table
  ragscan process manual.pdf --text manual.txt --save manual.json
  ragscan process a.pdf b.png c.jpg`,
	Args: cobra.RangeArgs(1, pipeline.MaxBatchFiles),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 && (processText != "" || processSave != "") {
			return fmt.Errorf("--text and --save take a single file, got %d", len(args))
		}
		return withLocalServices(cmd.Context(), func(ctx context.Context, s *svcctx.Services) error {
			provider, err := s.OCRProvider(processDoc.provider)
			if err != nil {
				return err
			}
			opts := pipeline.ProcessOptions{
				Prompt:   processDoc.prompt,
				Page:     processDoc.page,
				Provider: provider,
			}
			if len(args) > 1 {
				return processBatch(ctx, s, args, opts)
			}

			doc, err := s.Pipeline.ProcessFile(ctx, args[0], opts)
			if err != nil {
				return err
			}
			for _, pe := range doc.Errors {
				s.Logger.Warn("page failed", "page", pe.Page+1, "stage", pe.Stage, "error", pe.Err)
			}

			if processText != "" && doc.Success() {
				if err := os.WriteFile(processText, []byte(doc.Text), 0o644); err != nil {
					return fmt.Errorf("failed to write text: %w", err)
				}
			}
			if processSave != "" {
				if err := api.OutputToFile(doc, processSave); err != nil {
					return err
				}
			}
			if err := api.Output(doc); err != nil {
				return err
			}
			if !doc.Success() {
				return pipeline.ErrNoPagesRecognized
			}
			return nil
		})
	},
}

// processBatch prints one item per file and fails when any file failed.
func processBatch(ctx context.Context, s *svcctx.Services, paths []string, opts pipeline.ProcessOptions) error {
	items, err := s.Pipeline.ProcessBatch(ctx, paths, opts)
	if err != nil {
		return err
	}
	if err := api.Output(items); err != nil {
		return err
	}
	failed := 0
	for _, item := range items {
		if !item.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(items))
	}
	return nil
}

var (
	runDoc     documentFlags
	runPublish publishFlags
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Recognize a document and publish it to the knowledge base",
	Long: `Recognize every page of a document, publish the merged text to a
dataset (created if absent), trigger parsing and record the publication.

Examples:
  ragscan run manual.pdf
  ragscan run manual.pdf -d pump_room --wait
  ragscan run drawing.png --no-create -d existing_dataset`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalServices(cmd.Context(), func(ctx context.Context, s *svcctx.Services) error {
			provider, err := s.OCRProvider(runDoc.provider)
			if err != nil {
				return err
			}

			req := runPublish.request(s)
			if req.FilenameHint == "" {
				req.FilenameHint = filepath.Base(args[0])
			}
			res, runErr := s.Pipeline.Run(ctx, pipeline.RunRequest{
				Path:     args[0],
				Prompt:   runDoc.prompt,
				Page:     runDoc.page,
				Provider: provider,
				Publish:  req,
			})
			if err := api.Output(res); err != nil {
				return err
			}
			return resultError(runErr)
		})
	},
}

func init() {
	processDoc.register(processCmd)
	processCmd.Flags().StringVar(&processText, "text", "", "Also write the merged text to this file")
	processCmd.Flags().StringVar(&processSave, "save", "", "Also save the result to this file (.json or .yaml)")

	runDoc.register(runCmd)
	runPublish.register(runCmd)

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(runCmd)
}
