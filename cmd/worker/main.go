package main

import (
	"github.com/alarmdispatch/core/internal/app"
	"go.uber.org/fx"
)

// main is the entry point for the background worker process: bus
// consumer, LISTEN/NOTIFY fallback, dead-letter reprocessor, and
// worker-registry heartbeat/sweep.
func main() {
	fx.New(app.WorkerModule).Run()
}
