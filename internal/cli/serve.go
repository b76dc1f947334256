package cli

import (
	"github.com/spf13/cobra"

	"retrace/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the search API over HTTP",
	Long: `Start an HTTP server exposing POST /search and GET /status.
The server holds an in-memory snapshot of the index; restart it after an
indexing cycle to pick up new documents.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	searcher, err := buildSearcher()
	if err != nil {
		return err
	}

	addr := cfg.API.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	server := api.NewServer(searcher, collectStats, cfg.Search.TopK, logger)
	return server.Run(addr)
}
