package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dealerrag/internal/types"
)

var (
	ingestNamespace  string
	ingestSourceType string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [source]",
	Short: "Ingest documents into the retrieval indexes",
	Long: `Chunks, embeds and indexes content into both the vector and
keyword stores.

The source argument depends on --type:

  file   path to a document or a directory to walk
  text   literal content to index
  dms    no argument; pulls the full inventory from the configured DMS`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := types.IngestRequest{
			SourceType: ingestSourceType,
			Namespace:  ingestNamespace,
		}
		switch ingestSourceType {
		case "file":
			if len(args) != 1 {
				return fmt.Errorf("ingest --type file requires a path argument")
			}
			req.SourceIdentifier = args[0]
		case "text":
			if len(args) != 1 {
				return fmt.Errorf("ingest --type text requires the content argument")
			}
			req.Content = args[0]
		case "dms":
		default:
			return fmt.Errorf("unsupported source type %q (file, text or dms)", ingestSourceType)
		}

		app, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer app.close()

		resp, err := app.engine.Ingest(cmd.Context(), req)
		if err != nil {
			return err
		}

		fmt.Printf("status=%s  documents=%d  chunks=%d  vectors=%d  time=%.0fms\n",
			resp.Status, resp.DocumentsProcessed, resp.ChunksCreated,
			resp.VectorsUpserted, resp.ProcessingTimeMS)
		for _, msg := range resp.Errors {
			fmt.Println("  error:", msg)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestNamespace, "namespace", "", "target namespace (default from config)")
	ingestCmd.Flags().StringVar(&ingestSourceType, "type", "file", "source type: file, text or dms")
}
