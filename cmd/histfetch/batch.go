package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/histfetch/internal/config"
	"github.com/Sternrassler/histfetch/pkg/client"
)

func newBatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Fetch every table listed in a job file",
		Long: `Fetch every query in a YAML job file in one run and write each table to
<SYMBOL>_<start>_<end>.csv in the output directory.

Settings in the job file override the environment; flags override both.

Example job file:
  concurrency: 10
  memoize: true
  policy: drain
  queries:
    - symbol: AAPL
      start: 2020-01-01
      end: 2020-12-31

Example:
  histfetch batch -f jobs.yaml --out-dir data`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd)
		},
	}
	cmd.Flags().StringP("file", "f", "", "path to job file (required)")
	cmd.Flags().String("out-dir", ".", "directory for table files")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) runBatch(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("file")
	outDir, _ := cmd.Flags().GetString("out-dir")

	jobs, err := config.LoadJobs(path)
	if err != nil {
		return fmt.Errorf("invalid job file: %w", err)
	}

	cfg := a.clientConfig()
	cfg.HTTPClient = a.httpClient()
	flags := cmd.Flags()
	if jobs.Concurrency > 0 && !flags.Changed("concurrency") {
		cfg.ConcurrencyCap = jobs.Concurrency
	}
	if jobs.Memoize != nil && !flags.Changed("memoize") {
		cfg.Memoize = *jobs.Memoize
	}
	if !flags.Changed("policy") {
		cfg.Policy = jobs.Policy.Policy()
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	c, cleanup, err := a.newClient(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	results := make([]*client.Result, len(jobs.Queries))
	for i, q := range jobs.Queries {
		if results[i], err = c.EnqueueResult(q.Symbol, q.Start.Date(), q.End.Date()); err != nil {
			return fmt.Errorf("queries[%d]: %w", i, err)
		}
	}

	runErr := c.RunAll(cmd.Context())

	written := 0
	for i, q := range jobs.Queries {
		body, ok := results[i].Body()
		if !ok {
			continue
		}
		file := filepath.Join(outDir, q.FileName())
		if err := os.WriteFile(file, body, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", file, err)
		}
		written++
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d tables written to %s\n", written, len(jobs.Queries), outDir)
	if runErr != nil {
		if missing := client.NotFoundSymbols(runErr); len(missing) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "not found: %v\n", missing)
		}
		return fmt.Errorf("batch failed: %w", runErr)
	}
	return nil
}
