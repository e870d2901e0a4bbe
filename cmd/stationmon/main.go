package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"stationmon/internal/app"
	"stationmon/internal/clock"
	"stationmon/internal/config"
)

// main starts stationmon using file or directory config source.
// Params: CLI flags (--config-file or --config-dir).
// Returns: exit code 2 for CLI/config errors, 1 for init/run errors.
func main() {
	var (
		configFile = flag.String("config-file", "", "path to one TOML config file")
		configDir  = flag.String("config-dir", "", "path to directory with TOML config fragments")
	)
	flag.Parse()

	source, err := config.FromCLI(*configFile, *configDir)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if _, err := config.LoadSnapshot(source); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "invalid config:", err.Error())
		os.Exit(2)
	}

	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service init failed:", err.Error())
		os.Exit(1)
	}

	if err := service.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service run failed:", err.Error())
		os.Exit(1)
	}
}
