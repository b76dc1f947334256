package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"retrace/internal/domain"
)

var (
	queryText string
	queryTopK int
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search the archive",
	Long: `Run a hybrid search: keyword results from the external backend first,
then semantic nearest-neighbor results from the vector index.

Examples:
  retrace query -q "tax return draft"
  retrace query -q "error message" --top-k 10 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of semantic results (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	searcher, err := buildSearcher()
	if err != nil {
		return err
	}

	topK := cfg.Search.TopK
	if queryTopK > 0 {
		topK = queryTopK
	}

	results := searcher.Search(context.Background(), queryText, topK)

	if queryJSON {
		output, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results for: %s\n\n", len(results), queryText)
	for i, r := range results {
		printResult(i+1, r)
	}
	return nil
}

func printResult(n int, r domain.Result) {
	switch r.Source {
	case domain.SourceSemantic:
		fmt.Printf("--- [%d] %s (score: %.3f, %s) ---\n", n, r.Path, r.Score, r.Source)
	default:
		fmt.Printf("--- [%d] %s ---\n", n, r.Source)
	}
	text := r.Content
	if len(text) > 500 {
		text = text[:500] + "..."
	}
	fmt.Println(text)
	fmt.Println()
}
