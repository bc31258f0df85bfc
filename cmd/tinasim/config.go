package main

import (
	"flag"
	"io"
	"strings"

	"github.com/danmuck/tina/internal/config"
	"github.com/danmuck/tina/internal/protocol"
)

type options struct {
	configPath string
	clock      string
	topology   string
	epochs     int
	speed      float64
	dot        string
	httpAddr   string
	mode       string
	tct        uint

	// set records which flags appeared on the command line.
	set map[string]bool
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("tinasim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "config file (defaults are used when empty)")
	fs.StringVar(&opts.clock, "clock", "", "virtual steps simulated time, wall runs the nodes in real time")
	fs.StringVar(&opts.topology, "topology", "", "topology file of \"src dst gain\" lines")
	fs.IntVar(&opts.epochs, "epochs", 0, "epochs to run")
	fs.Float64Var(&opts.speed, "speed", 0, "virtual seconds per wall second, 0 runs unpaced")
	fs.StringVar(&opts.dot, "dot", "", "write the final routing tree as DOT")
	fs.StringVar(&opts.httpAddr, "http", "", "serve the sink API on this address")
	fs.StringVar(&opts.mode, "mode", "", "aggregation mode: max|count|maxcount")
	fs.UintVar(&opts.tct, "tct", 0, "temporal coherency tolerance")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.set = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// loadConfig reads the config file, if any, and lays the flags over it.
func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if opts.set["clock"] {
		cfg.Clock = strings.ToLower(strings.TrimSpace(opts.clock))
	}
	if opts.set["topology"] {
		cfg.Topology = strings.TrimSpace(opts.topology)
	}
	if opts.set["epochs"] {
		cfg.Epochs = opts.epochs
	}
	if opts.set["speed"] {
		cfg.Speed = opts.speed
	}
	if opts.set["dot"] {
		cfg.DOTOutput = strings.TrimSpace(opts.dot)
	}
	if opts.set["http"] {
		cfg.HTTP.Enabled = strings.TrimSpace(opts.httpAddr) != ""
		cfg.HTTP.Addr = strings.TrimSpace(opts.httpAddr)
	}
	if opts.set["mode"] {
		mode, err := protocol.ParseMode(strings.TrimSpace(opts.mode))
		if err != nil {
			return config.Config{}, err
		}
		cfg.Node.Params.Mode = mode
	}
	if opts.set["tct"] {
		if opts.tct > protocol.MaxTCT {
			return config.Config{}, protocol.ErrInvalidTCT
		}
		cfg.Node.Params.TCT = uint8(opts.tct)
	}
	return cfg, config.Validate(cfg)
}
