package config

import "time"

// fileConfig is the on-disk shape. Durations are Go duration strings;
// each has an integer "_ms" alternative.
type fileConfig struct {
	Clock     string  `toml:"clock"`
	Topology  string  `toml:"topology"`
	Sink      uint16  `toml:"sink"`
	Epochs    int     `toml:"epochs"`
	Speed     float64 `toml:"speed"`
	DOTOutput string  `toml:"dot_output"`

	Grid     gridFile      `toml:"grid"`
	Params   paramsFile    `toml:"params"`
	Node     nodeFile      `toml:"node"`
	Medium   mediumFile    `toml:"medium"`
	Sensors  sensorsFile   `toml:"sensors"`
	HTTP     httpFile      `toml:"http"`
	MQTT     mqttFile      `toml:"mqtt"`
	Log      logFile       `toml:"log"`
	Failures []failureFile `toml:"failures,omitempty"`
}

type gridFile struct {
	Diameter int     `toml:"diameter"`
	Radius   float64 `toml:"radius"`
}

type paramsFile struct {
	Mode string `toml:"mode"`
	TCT  uint8  `toml:"tct"`
}

type nodeFile struct {
	EpochPeriod       string `toml:"epoch_period"`
	EpochPeriodMS     int64  `toml:"epoch_period_ms,omitempty"`
	FastPeriod        string `toml:"fast_period"`
	FastPeriodMS      int64  `toml:"fast_period_ms,omitempty"`
	SendCheckPeriod   string `toml:"send_check_period"`
	SendCheckPeriodMS int64  `toml:"send_check_period_ms,omitempty"`
	EpochSlot         string `toml:"epoch_slot"`
	EpochSlotMS       int64  `toml:"epoch_slot_ms,omitempty"`
	SlotDepths        int    `toml:"slot_depths"`

	SendQueueSize int    `toml:"send_queue_size"`
	SendPolicy    string `toml:"send_policy"`
	RecvQueueSize int    `toml:"recv_queue_size"`
	RecvPolicy    string `toml:"recv_policy"`

	LinkTimeoutLimit    int `toml:"link_timeout_limit"`
	ParentTimeoutEpochs int `toml:"parent_timeout_epochs"`

	BackoffInitial    string  `toml:"backoff_initial"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	BackoffMax        string  `toml:"backoff_max"`
	BackoffJitter     bool    `toml:"backoff_jitter"`
}

type mediumFile struct {
	Airtime   string  `toml:"airtime"`
	AirtimeMS int64   `toml:"airtime_ms,omitempty"`
	Jitter    string  `toml:"jitter"`
	JitterMS  int64   `toml:"jitter_ms,omitempty"`
	LossRate  float64 `toml:"loss_rate"`
	StuckRate float64 `toml:"stuck_rate"`
	Seed      int64   `toml:"seed"`
}

type sensorsFile struct {
	Kind   string `toml:"kind"`
	Step   uint8  `toml:"step"`
	Modulo int    `toml:"modulo"`
	Seed   int64  `toml:"seed"`
}

type httpFile struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
	Linger      bool     `toml:"linger"`
}

type mqttFile struct {
	Enabled          bool   `toml:"enabled"`
	Broker           string `toml:"broker"`
	ClientID         string `toml:"client_id"`
	TopicPrefix      string `toml:"topic_prefix"`
	Username         string `toml:"username"`
	Password         string `toml:"password"`
	QoS              uint8  `toml:"qos"`
	Retain           bool   `toml:"retain"`
	KeepAlive        string `toml:"keep_alive"`
	PublishTimeout   string `toml:"publish_timeout"`
	PublishTimeoutMS int64  `toml:"publish_timeout_ms,omitempty"`
}

type logFile struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type failureFile struct {
	Node    uint16 `toml:"node"`
	AtEpoch int    `toml:"at_epoch"`
}

func toFile(cfg Config) fileConfig {
	n := cfg.Node
	out := fileConfig{
		Clock:     cfg.Clock,
		Topology:  cfg.Topology,
		Sink:      uint16(cfg.Sink),
		Epochs:    cfg.Epochs,
		Speed:     cfg.Speed,
		DOTOutput: cfg.DOTOutput,
		Grid:      gridFile{Diameter: cfg.Grid.Diameter, Radius: cfg.Grid.Radius},
		Params:    paramsFile{Mode: n.Params.Mode.String(), TCT: n.Params.TCT},
		Node: nodeFile{
			EpochPeriod:         n.EpochPeriod.String(),
			FastPeriod:          n.FastPeriod.String(),
			SendCheckPeriod:     n.SendCheckPeriod.String(),
			EpochSlot:           n.EpochSlot.String(),
			SlotDepths:          n.SlotDepths,
			SendQueueSize:       n.SendQueueSize,
			SendPolicy:          n.SendPolicy.String(),
			RecvQueueSize:       n.RecvQueueSize,
			RecvPolicy:          n.RecvPolicy.String(),
			LinkTimeoutLimit:    n.LinkTimeoutLimit,
			ParentTimeoutEpochs: n.ParentTimeoutEpochs,
			BackoffInitial:      n.Backoff.InitialDelay.String(),
			BackoffMultiplier:   n.Backoff.Multiplier,
			BackoffMax:          n.Backoff.MaxDelay.String(),
			BackoffJitter:       n.Backoff.Jitter,
		},
		Medium: mediumFile{
			Airtime:   cfg.Medium.Airtime.String(),
			Jitter:    cfg.Medium.Jitter.String(),
			LossRate:  cfg.Medium.LossRate,
			StuckRate: cfg.Medium.StuckRate,
			Seed:      cfg.Medium.Seed,
		},
		Sensors: sensorsFile{
			Kind:   cfg.Sensors.Kind,
			Step:   cfg.Sensors.Step,
			Modulo: cfg.Sensors.Modulo,
			Seed:   cfg.Sensors.Seed,
		},
		HTTP: httpFile{
			Enabled:     cfg.HTTP.Enabled,
			Addr:        cfg.HTTP.Addr,
			CorsOrigins: append([]string(nil), cfg.HTTP.CorsOrigins...),
			Token:       cfg.HTTP.Token,
			Linger:      cfg.HTTP.Linger,
		},
		MQTT: mqttFile{
			Enabled:        cfg.MQTT.Enabled,
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			QoS:            cfg.MQTT.QoS,
			Retain:         cfg.MQTT.Retain,
			KeepAlive:      cfg.MQTT.KeepAlive.String(),
			PublishTimeout: cfg.MQTT.PublishTimeout.String(),
		},
		Log: logFile{Level: cfg.Log.Level, File: cfg.Log.File},
	}
	for _, f := range cfg.Failures {
		out.Failures = append(out.Failures, failureFile{Node: uint16(f.Node), AtEpoch: f.AtEpoch})
	}
	return out
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
