package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rankradar",
		Short: "Track trending games from app store chart snapshots",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(ingestCmd())
	root.AddCommand(refreshCmd())
	root.AddCommand(trendsCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func ingestCmd() *cobra.Command {
	var (
		dataDir  string
		maxFiles int
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load scrape result files into the snapshot store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(dataDir, maxFiles)
		},
	}

	cmd.Flags().StringVar(&dataDir, "dir", "", "data directory (default: from config)")
	cmd.Flags().IntVar(&maxFiles, "max-files", 0, "newest files to load (default: from config)")
	return cmd
}

func refreshCmd() *cobra.Command {
	var (
		country  string
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the trend cache country by country",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(country, parallel)
		},
	}

	cmd.Flags().StringVar(&country, "country", "", "refresh a single country instead of all active ones")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "countries refreshed concurrently (default: from config)")
	return cmd
}

func trendsCmd() *cobra.Command {
	var (
		country    string
		chartType  string
		genre      string
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Show the current trending chart for a country",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrends(country, chartType, genre, jsonOutput, limit)
		},
	}

	cmd.Flags().StringVar(&country, "country", "US", "country code")
	cmd.Flags().StringVar(&chartType, "type", "grossing", "chart type: free, paid or grossing")
	cmd.Flags().StringVar(&genre, "genre", "", "filter by genre")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 25, "max rows to show")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP read API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
