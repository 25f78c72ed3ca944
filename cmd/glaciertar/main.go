// glaciertar - resumable encrypted chunked backups to S3 Glacier Deep Archive.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/glaciertar/glaciertar/internal/cli"
)

func main() {
	// SIGTERM is what docker sends to stop a container; treat it like Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cli.NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
