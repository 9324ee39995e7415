// hearth-worker hosts one widget instance in its own process. The
// supervisor launches it with the reply endpoint and instance ID as
// arguments, then drives it over the wire protocol.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hearthboard/hearth/internal/log"
	"github.com/hearthboard/hearth/internal/widget"
	"github.com/hearthboard/hearth/internal/widget/builtin"
	"github.com/hearthboard/hearth/internal/worker"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("hearth-worker", flag.ExitOnError)
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: hearth-worker [flags] <endpoint> <instance_id>")
		return 1
	}
	endpoint := fs.Arg(0)
	instanceID := fs.Arg(1)

	// Workers log to stderr; stdout stays clean for the supervisor's
	// output capture.
	log.Setup(*logLevel, "text")
	logger := log.WithInstance(instanceID)

	registry := widget.NewRegistry()
	if err := builtin.Register(registry); err != nil {
		logger.Error("failed to register widgets", "error", err)
		return 1
	}

	rt := worker.New(endpoint, instanceID, registry)
	logger.Info("worker starting", "endpoint", endpoint)
	if err := rt.Run(); err != nil {
		logger.Error("worker failed", "error", err)
		return 1
	}
	logger.Info("worker exited")
	return 0
}
