package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ragscan/internal/api"
	"github.com/jackzampolin/ragscan/internal/svcctx"
)

var publishOpts publishFlags

var publishCmd = &cobra.Command{
	Use:   "publish <text-file>",
	Short: "Publish an existing text file to the knowledge base",
	Long: `Publish already-recognized text, for example the output of
"ragscan process --text", without running OCR again.

Examples:
  ragscan publish manual.txt -d manuals
  ragscan publish notes.txt --skip-parse`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		return withLocalServices(cmd.Context(), func(ctx context.Context, s *svcctx.Services) error {
			req := publishOpts.request(s)
			req.Text = string(data)
			if req.FilenameHint == "" {
				req.FilenameHint = filepath.Base(args[0])
			}

			res, pubErr := s.Pipeline.PublishText(ctx, req)
			if err := api.Output(res); err != nil {
				return err
			}
			return resultError(pubErr)
		})
	},
}

func init() {
	publishOpts.register(publishCmd)
	rootCmd.AddCommand(publishCmd)
}
