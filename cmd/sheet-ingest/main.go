package main

import (
	"errors"
	"fmt"
	"os"

	"sheet-ingest/internal/app"
	"sheet-ingest/internal/logging"
)

// main is the entry point for the sheet-ingest command.
func main() {
	runner := app.NewAppRunner()

	err := runner.Run(os.Args[1:])
	if err != nil {
		printUsage := errors.Is(err, app.ErrUsage) || errors.Is(err, app.ErrConfigNotFound) || errors.Is(err, app.ErrMissingArgs)
		if printUsage {
			fmt.Fprintln(os.Stderr, "")
			runner.Usage(os.Stderr)
		}

		// The error must be visible even with --loglevel none.
		if logging.GetLevel() < logging.Error {
			logging.SetLevel(logging.Error)
		}
		logging.Logf(logging.Error, "sheet-ingest failed: %v", err)
		os.Exit(1)
	}
}
