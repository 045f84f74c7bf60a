package main

import (
	"github.com/alarmdispatch/core/internal/app"
	"go.uber.org/fx"
)

// main is the entry point for the admin HTTP process: circuit-breaker
// inspection/reset, system pause/mock toggles, dead-letter replay, and
// modem management.
func main() {
	fx.New(app.AdminModule).Run()
}
