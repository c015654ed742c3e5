package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	subEmail    string
	subKeywords []string
	subSources  []string
	subDetail   string
	subFrom     string
	subTo       string
	subNotifyAt string
)

var subCmd = &cobra.Command{
	Use:   "sub",
	Short: "Manage stored subscriptions",
	Long: `Subscriptions are stored searches run daily at their notify time. Each
delivery skips results already sent for the same subscription.`,
}

var subAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a subscription delivered daily at its notify time",
	Long: `Example:
  issueagent sub add -e dev@example.com -k "sqlite wal" -s google -s github --at 08:30`,
	RunE: runSubAdd,
}

var subListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the subscriptions stored for an address",
	RunE:  runSubList,
}

var subRemoveCmd = &cobra.Command{
	Use:     "remove [id]",
	Aliases: []string{"rm"},
	Short:   "Delete a subscription and its seen history",
	Args:    cobra.ExactArgs(1),
	RunE:    runSubRemove,
}

var subTriggerCmd = &cobra.Command{
	Use:   "trigger [id]",
	Short: "Run a subscription now, ignoring its schedule and seen history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubTrigger,
}

func init() {
	subCmd.PersistentFlags().StringVarP(&subEmail, "email", "e", "", "subscriber address")
	subCmd.MarkPersistentFlagRequired("email")

	subAddCmd.Flags().StringSliceVarP(&subKeywords, "keyword", "k", nil, "keyword to search for (repeatable)")
	subAddCmd.Flags().StringSliceVarP(&subSources, "source", "s", nil, "source to query (repeatable)")
	subAddCmd.Flags().StringVar(&subDetail, "detail", "", "free-text preferences steering the relevance scoring")
	subAddCmd.Flags().StringVar(&subFrom, "from", "", "only items published on or after this day (YYYY-MM-DD)")
	subAddCmd.Flags().StringVar(&subTo, "to", "", "only items published on or before this day (YYYY-MM-DD)")
	subAddCmd.Flags().StringVar(&subNotifyAt, "at", "08:00", "daily delivery time, HH:MM in the scheduler timezone")
	subAddCmd.MarkFlagRequired("keyword")
	subAddCmd.MarkFlagRequired("source")

	subCmd.AddCommand(subAddCmd)
	subCmd.AddCommand(subListCmd)
	subCmd.AddCommand(subRemoveCmd)
	subCmd.AddCommand(subTriggerCmd)
}

func runSubAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	rng, err := parseRange(subFrom, subTo)
	if err != nil {
		return err
	}
	sub, err := application.Subscriptions.Create(ctx, subEmail, subKeywords, subSources, subDetail, rng, subNotifyAt)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created subscription %s (daily at %s)\n", sub.ID, sub.NotifyAt)
	return nil
}

func runSubList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	subs, err := application.Subscriptions.List(ctx, subEmail)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No subscriptions for %s.\n", subEmail)
		return nil
	}
	for _, sub := range subs {
		lastRun := "never"
		if sub.LastRun != nil {
			lastRun = sub.LastRun.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  at %s  last run %s\n  keywords: %s\n  sources:  %s\n",
			sub.ID, sub.NotifyAt, lastRun,
			strings.Join(sub.Query.Keywords, ", "),
			strings.Join(sub.Query.Sources, ", "))
	}
	return nil
}

func runSubRemove(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	if err := application.Subscriptions.Remove(ctx, subEmail, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed subscription %s\n", args[0])
	return nil
}

func runSubTrigger(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	res, err := application.Subscriptions.Trigger(ctx, subEmail, args[0])
	if res.BySource != nil {
		// The query ran; show the digest even when delivery failed.
		printDigest(cmd.OutOrStdout(), res)
	}
	return err
}
