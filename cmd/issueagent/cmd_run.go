package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent daemon",
	Long: `Starts the scheduler and blocks. Once a minute the stored subscriptions
are matched against the wall clock in the configured timezone; due ones are
queried and their digests delivered. SIGINT or SIGTERM shuts the daemon
down, waiting for an in-flight check to finish.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	return application.RunDaemon(ctx)
}
