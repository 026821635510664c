package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/histfetch/pkg/client"
)

func newGetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get SYMBOL START END",
		Short: "Fetch one table",
		Long: `Fetch the daily price table for SYMBOL between START and END (inclusive).

Dates may be written as 2020-01-31, 2020/01/31, 20200131, "Jan 31 2020" or
"January 31, 2020".

get honours --base-url, --user-agent, --http-timeout and --request-timeout.
--policy, --memoize and --redis-addr have no effect on a single query.

Example:
  histfetch get AAPL 2020-01-01 2020-12-31
  histfetch get MSFT 2019-01-01 2019-06-30 --out msft.csv`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runGet(cmd, args)
		},
	}
	cmd.Flags().StringP("out", "o", "", "write the table to this file instead of stdout")
	return cmd
}

func (a *app) runGet(cmd *cobra.Command, args []string) error {
	symbol, start, end := args[0], args[1], args[2]

	body, err := client.QuickQueryStrings(cmd.Context(), symbol, start, end,
		client.WithBaseURL(a.env.BaseURL),
		client.WithUserAgent(a.env.UserAgent),
		client.WithHTTPClient(a.httpClient()),
		client.WithRequestTimeout(a.requestTimeout),
	)
	if err != nil {
		return fmt.Errorf("get %s: %w", symbol, err)
	}

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		_, err = cmd.OutOrStdout().Write(body)
		return err
	}
	if err := os.WriteFile(out, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	a.logger.Info().Str("symbol", symbol).Str("file", out).Int("bytes", len(body)).Msg("Table written")
	return nil
}
