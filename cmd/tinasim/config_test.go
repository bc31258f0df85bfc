package main

import (
	"io"
	"testing"
	"time"

	"github.com/danmuck/tina/internal/config"
	"github.com/danmuck/tina/internal/protocol"
	"github.com/danmuck/tina/internal/testutil/testlog"
)

func TestLoadExampleConfig(t *testing.T) {
	testlog.Start(t)
	opts, err := parseOptions([]string{"-config", "ex.config.toml"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Clock != config.ClockVirtual || cfg.Epochs != 30 || cfg.Grid.Diameter != 5 {
		t.Fatalf("unexpected run shape: %+v", cfg)
	}
	if cfg.Node.FastPeriod != 128*time.Millisecond {
		t.Fatalf("unexpected fast period: %v", cfg.Node.FastPeriod)
	}
	if cfg.Medium.LossRate != 0.02 || cfg.Medium.Seed != 7 {
		t.Fatalf("unexpected medium: %+v", cfg.Medium)
	}
	if len(cfg.Failures) != 1 || cfg.Failures[0].Node != 6 {
		t.Fatalf("unexpected failures: %+v", cfg.Failures)
	}
	if cfg.HTTP.Enabled || cfg.MQTT.Enabled {
		t.Fatalf("example keeps outer surfaces off")
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	testlog.Start(t)
	opts, err := parseOptions([]string{
		"-config", "ex.config.toml",
		"-epochs", "4",
		"-mode", "count",
		"-tct", "0",
		"-http", "127.0.0.1:9400",
		"-clock", "wall",
	}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Epochs != 4 || cfg.Clock != config.ClockWall {
		t.Fatalf("epochs=%d", cfg.Epochs)
	}
	if cfg.Node.Params != (protocol.ExecParams{Mode: protocol.ModeCount, TCT: 0}) {
		t.Fatalf("params=%+v", cfg.Node.Params)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Addr != "127.0.0.1:9400" {
		t.Fatalf("http=%+v", cfg.HTTP)
	}
	if cfg.Grid.Radius != 1.5 {
		t.Fatalf("unset flags must keep file values, radius=%v", cfg.Grid.Radius)
	}
}

func TestFlagsRejectBadParams(t *testing.T) {
	testlog.Start(t)
	for _, args := range [][]string{
		{"-mode", "avg"},
		{"-tct", "64"},
		{"-epochs", "0"},
		{"-clock", "lunar"},
	} {
		opts, err := parseOptions(args, io.Discard)
		if err != nil {
			t.Fatalf("parse %v: %v", args, err)
		}
		if _, err := loadConfig(opts); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
}
