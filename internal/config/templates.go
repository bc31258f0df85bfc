package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/tina/internal/protocol"
)

// Kinds lists the templates Template knows.
var Kinds = []string{"sim", "lossy", "sink"}

// TemplateConfig returns the Config behind a template kind.
func TemplateConfig(kind string) (Config, error) {
	cfg := Default()
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "sim", "":
	case "lossy":
		cfg.Grid.Diameter = 6
		cfg.Epochs = 40
		cfg.Medium.LossRate = 0.05
		cfg.Medium.StuckRate = 0.01
		cfg.Failures = []Failure{{Node: protocol.NodeID(cfg.Grid.Diameter + 1), AtEpoch: 15}}
	case "sink":
		cfg.Speed = 32
		cfg.HTTP.Enabled = true
		cfg.HTTP.Linger = true
		cfg.MQTT.Enabled = true
		cfg.Node.Params = protocol.ExecParams{Mode: protocol.ModeMax, TCT: 4}
	default:
		return Config{}, fmt.Errorf("unknown config kind: %s", kind)
	}
	return cfg, nil
}

// Template renders the TOML document for kind.
func Template(kind string) (string, error) {
	cfg, err := TemplateConfig(kind)
	if err != nil {
		return "", err
	}
	return Marshal(cfg)
}

func Marshal(cfg Config) (string, error) {
	out, err := toml.Marshal(toFile(cfg))
	if err != nil {
		return "", fmt.Errorf("config: marshal: %w", err)
	}
	return string(out), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
