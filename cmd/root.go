// Package cmd defines the CLI commands for the shopcrawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var (
	cfgFile   string
	flagDebug bool
)

// Execute is the main entry point. It installs signal handling so a Ctrl-C
// aborts the crawl but still flushes buffered records.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
