package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print component counters and breaker states",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer app.close()

		out := map[string]interface{}{
			"breakers":   app.breakers.Snapshots(),
			"embedding":  app.embedder.Stats(),
			"vector":     app.vector.Stats(),
			"opensearch": app.lexical.Stats(),
			"dms": map[string]interface{}{
				"provider": app.dms.Name(),
				"counters": app.dms.Stats(),
			},
		}
		if idx, err := app.vector.DescribeStats(cmd.Context()); err == nil {
			out["vector_index"] = idx
		} else {
			out["vector_index"] = map[string]string{"error": err.Error()}
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}
