package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrapeease/scrapeease/internal/analyze"
	"github.com/scrapeease/scrapeease/internal/fetcher"
)

var detectCmd = &cobra.Command{
	Use:   "detect <url>",
	Short: "Detect extraction strategies on a page",
	Long:  "Fetches the page and prints candidate extraction strategies ranked by confidence, best first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rawURL := args[0]

		client := fetcher.FromConfig(cfg.Fetch)
		if err := client.CheckRobots(ctx, rawURL); err != nil {
			return err
		}
		doc, err := client.Fetch(ctx, rawURL)
		if err != nil {
			return err
		}

		candidates := analyze.Analyze(doc)
		if len(candidates) == 0 {
			fmt.Println("no tabular structure detected")
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(candidates)
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}
