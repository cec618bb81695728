package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/ledgerline/bankfeed/internal/commands"
	"github.com/ledgerline/bankfeed/internal/console"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := commands.NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		console.NewPrinter(os.Stderr).Failure(err)
		stop()
		os.Exit(commands.ExitCode(err))
	}
}
