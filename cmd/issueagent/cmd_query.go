package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/katerpii/issue-agent/internal/domain"
)

const dayLayout = "2006-01-02"

var (
	queryKeywords []string
	querySources  []string
	queryDetail   string
	queryFrom     string
	queryTo       string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a one-off search and print the scored digest",
	Long: `Fans the keywords out to the requested sources, merges and dedupes the
answers, reduces them through the filter stages and prints what survived.

Example:
  issueagent query -k "rust async" -k cancellation -s google -s reddit \
    --detail "prefer production postmortems over tutorials"`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringSliceVarP(&queryKeywords, "keyword", "k", nil, "keyword to search for (repeatable)")
	queryCmd.Flags().StringSliceVarP(&querySources, "source", "s", nil, "source to query (repeatable)")
	queryCmd.Flags().StringVar(&queryDetail, "detail", "", "free-text preferences steering the relevance scoring")
	queryCmd.Flags().StringVar(&queryFrom, "from", "", "only items published on or after this day (YYYY-MM-DD)")
	queryCmd.Flags().StringVar(&queryTo, "to", "", "only items published on or before this day (YYYY-MM-DD)")
	queryCmd.MarkFlagRequired("keyword")
	queryCmd.MarkFlagRequired("source")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	rng, err := parseRange(queryFrom, queryTo)
	if err != nil {
		return err
	}
	res, err := application.Queries.Run(ctx, queryKeywords, querySources, queryDetail, rng)
	if err != nil {
		return err
	}
	printDigest(cmd.OutOrStdout(), res)
	return nil
}

// parseRange turns the optional from/to day flags into a published-date
// range covering the named days fully. A missing end is open until now.
func parseRange(from, to string) (*domain.DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	rng := &domain.DateRange{End: time.Now().UTC()}
	if from != "" {
		start, err := time.Parse(dayLayout, from)
		if err != nil {
			return nil, fmt.Errorf("parse --from: %w", err)
		}
		rng.Start = start
	}
	if to != "" {
		end, err := time.Parse(dayLayout, to)
		if err != nil {
			return nil, fmt.Errorf("parse --to: %w", err)
		}
		rng.End = end.Add(24*time.Hour - time.Second)
	}
	return rng, nil
}

func printDigest(w io.Writer, res domain.FilteredResult) {
	if res.TotalCount == 0 {
		fmt.Fprintln(w, "No results matched.")
		return
	}
	for _, name := range res.Sources {
		items := res.BySource[name]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s (%d)\n", name, len(items))
		for _, item := range items {
			fmt.Fprintf(w, "  [%d/10] %s\n          %s\n", item.Score, item.Title, item.URL)
			if item.Reason != "" {
				fmt.Fprintf(w, "          %s\n", item.Reason)
			}
		}
	}
	if res.Summary != "" {
		fmt.Fprintf(w, "\nSummary: %s\n", res.Summary)
	}
}
