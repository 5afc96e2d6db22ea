package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dealerrag/internal/types"
)

var (
	queryTopK           int
	queryConversationID string
	queryShowSources    bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Answer a single question from the command line",
	Long: `Runs one question through the full pipeline: intent
classification, hybrid retrieval, DMS augmentation and answer
synthesis. Useful for smoke-testing a deployment without the HTTP
server.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer app.close()

		resp, err := app.engine.ProcessQuery(cmd.Context(), types.QueryRequest{
			Query:          strings.Join(args, " "),
			ConversationID: queryConversationID,
			TopK:           queryTopK,
			IncludeSources: queryShowSources,
		})
		if err != nil {
			return err
		}

		fmt.Println(resp.Answer)
		fmt.Println()
		fmt.Printf("intent=%s  model=%s  time=%.0fms  conversation=%s\n",
			resp.Intent, resp.ModelUsed, resp.QueryTimeMS, resp.ConversationID)

		if queryShowSources && len(resp.Sources) > 0 {
			fmt.Println("\nSources:")
			for i, src := range resp.Sources {
				name, _ := src.Metadata["source"].(string)
				docType, _ := src.Metadata["doc_type"].(string)
				fmt.Printf("  %d. %s (%s, score %.3f)\n", i+1, name, docType, src.Score)
			}
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "number of documents to retrieve (0 = default)")
	queryCmd.Flags().StringVar(&queryConversationID, "conversation", "", "continue an existing conversation")
	queryCmd.Flags().BoolVar(&queryShowSources, "sources", true, "print the cited sources")
}
