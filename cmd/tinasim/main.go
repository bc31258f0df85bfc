package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/tina/internal/logging"
	"github.com/danmuck/tina/internal/runner"
)

func main() {
	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tinasim: %v\n", err)
		os.Exit(1)
	}
	logging.ConfigureRuntimeWith(cfg.Log.Level, cfg.Log.File)

	if err := runner.NewService(cfg).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tinasim: %v\n", err)
		os.Exit(1)
	}
}
