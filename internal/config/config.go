package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/tina/internal/node"
	"github.com/danmuck/tina/internal/protocol"
	"github.com/danmuck/tina/internal/sim"
	"github.com/danmuck/tina/internal/sink"
)

var ErrInvalid = errors.New("config: invalid")

// Clock kinds. A virtual run steps simulated time epoch by epoch; a wall
// run drives the nodes from a sched.LoopClock in real time.
const (
	ClockVirtual = "virtual"
	ClockWall    = "wall"
)

type Grid struct {
	Diameter int
	Radius   float64
}

type Sensors struct {
	// Kind is "constant" (id modulo Modulo) or "random_walk".
	Kind   string
	Step   uint8
	Modulo int
	Seed   int64
}

type HTTP struct {
	Enabled     bool
	Addr        string
	CorsOrigins []string
	// Token, when set, is required as a bearer token on PUT routes.
	Token string
	// Linger keeps the API up after the run until interrupted.
	Linger bool
}

type MQTT struct {
	Enabled bool
	sink.MQTTConfig
}

type Log struct {
	Level string
	File  string
}

type Failure struct {
	Node    protocol.NodeID
	AtEpoch int
}

// Config drives one tinasim run.
type Config struct {
	Clock     string
	Topology  string
	Grid      Grid
	Sink      protocol.NodeID
	Epochs    int
	Speed     float64
	DOTOutput string

	Node     node.Config
	Medium   sim.MediumConfig
	Sensors  Sensors
	HTTP     HTTP
	MQTT     MQTT
	Log      Log
	Failures []Failure
}

func Default() Config {
	return Config{
		Clock:  ClockVirtual,
		Grid:   Grid{Diameter: 5, Radius: 1.5},
		Sink:   0,
		Epochs: 20,
		Node:   node.DefaultConfig(0),
		Medium: sim.DefaultMediumConfig(),
		Sensors: Sensors{
			Kind:   "random_walk",
			Step:   2,
			Modulo: 100,
			Seed:   1,
		},
		HTTP: HTTP{Addr: ":9300", CorsOrigins: []string{"http://localhost:3000"}},
		MQTT: MQTT{MQTTConfig: sink.DefaultMQTTConfig()},
		Log:  Log{Level: "info"},
	}
}

func Validate(cfg Config) error {
	if cfg.Clock != ClockVirtual && cfg.Clock != ClockWall {
		return fmt.Errorf("%w: clock must be %q or %q, got %q", ErrInvalid, ClockVirtual, ClockWall, cfg.Clock)
	}
	if strings.TrimSpace(cfg.Topology) == "" && cfg.Grid.Diameter < 1 {
		return fmt.Errorf("%w: grid.diameter must be positive when no topology file is set", ErrInvalid)
	}
	if cfg.Grid.Radius <= 0 && strings.TrimSpace(cfg.Topology) == "" {
		return fmt.Errorf("%w: grid.radius must be positive", ErrInvalid)
	}
	if cfg.Epochs < 1 {
		return fmt.Errorf("%w: epochs must be positive", ErrInvalid)
	}
	if cfg.Speed < 0 {
		return fmt.Errorf("%w: speed must not be negative", ErrInvalid)
	}
	if err := cfg.Node.Params.Validate(); err != nil {
		return fmt.Errorf("%w: params: %v", ErrInvalid, err)
	}
	n := cfg.Node
	for name, d := range map[string]time.Duration{
		"node.epoch_period":      n.EpochPeriod,
		"node.fast_period":       n.FastPeriod,
		"node.send_check_period": n.SendCheckPeriod,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, name)
		}
	}
	if n.EpochSlot < 0 || (n.SlotDepths > 0 && time.Duration(n.SlotDepths)*n.EpochSlot >= n.EpochPeriod) {
		return fmt.Errorf("%w: node.epoch_slot * node.slot_depths must fit inside the epoch", ErrInvalid)
	}
	if n.SendQueueSize < 1 || n.RecvQueueSize < 1 {
		return fmt.Errorf("%w: queue sizes must be positive", ErrInvalid)
	}
	if n.LinkTimeoutLimit < 0 || n.ParentTimeoutEpochs < 0 {
		return fmt.Errorf("%w: timeout limits must not be negative", ErrInvalid)
	}
	m := cfg.Medium
	if m.LossRate < 0 || m.LossRate >= 1 || m.StuckRate < 0 || m.StuckRate >= 1 {
		return fmt.Errorf("%w: medium rates must be in [0,1)", ErrInvalid)
	}
	if m.Airtime < 0 || m.Jitter < 0 {
		return fmt.Errorf("%w: medium delays must not be negative", ErrInvalid)
	}
	switch cfg.Sensors.Kind {
	case "constant":
		if cfg.Sensors.Modulo < 1 || cfg.Sensors.Modulo > 256 {
			return fmt.Errorf("%w: sensors.modulo must be in 1..256", ErrInvalid)
		}
	case "random_walk":
	default:
		return fmt.Errorf("%w: unknown sensors.kind %q", ErrInvalid, cfg.Sensors.Kind)
	}
	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.Addr) == "" {
		return fmt.Errorf("%w: http.addr required when http is enabled", ErrInvalid)
	}
	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.Broker) == "" {
			return fmt.Errorf("%w: mqtt.broker required when mqtt is enabled", ErrInvalid)
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalid)
		}
	}
	for i, f := range cfg.Failures {
		if f.Node == cfg.Sink {
			return fmt.Errorf("%w: failures[%d] targets the sink", ErrInvalid, i)
		}
		if f.AtEpoch < 1 {
			return fmt.Errorf("%w: failures[%d].at_epoch must be positive", ErrInvalid, i)
		}
	}
	return nil
}

// SensorFactory builds the per-node sensors cfg describes.
func (cfg Config) SensorFactory() sim.SensorFactory {
	if cfg.Sensors.Kind == "constant" {
		return sim.ConstantByID(cfg.Sensors.Modulo)
	}
	return sim.RandomWalks(cfg.Sensors.Seed, cfg.Sensors.Step)
}

// Links loads the topology file or generates the configured grid.
func (cfg Config) Links() ([]sim.Link, error) {
	if path := strings.TrimSpace(cfg.Topology); path != "" {
		return sim.LoadLinks(path)
	}
	return sim.GenerateGrid(cfg.Grid.Diameter, cfg.Grid.Radius, sim.DefaultGainDB)
}

// EpochAt is the offset of the given epoch boundary from the run's start.
func (cfg Config) EpochAt(epoch int) time.Duration {
	return time.Duration(epoch) * cfg.Node.EpochPeriod
}
