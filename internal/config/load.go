package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/tina/internal/protocol"
	"github.com/danmuck/tina/internal/queue"
)

// Load reads path and lays every key it defines over Default().
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	return fromFile(raw, meta)
}

// Decode is Load for in-memory documents.
func Decode(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return fromFile(raw, meta)
}

type overlay struct {
	meta toml.MetaData
	err  error
}

func (o *overlay) defined(keys ...string) bool {
	return o.meta.IsDefined(keys...)
}

func (o *overlay) fail(format string, args ...any) {
	if o.err == nil {
		o.err = fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
	}
}

// duration applies table.key (a duration string) and then table.key_ms.
func (o *overlay) duration(dst *time.Duration, raw string, ms int64, table, key string) {
	if o.defined(table, key) {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			o.fail("%s.%s: %v", table, key, err)
			return
		}
		*dst = d
	}
	if o.defined(table, key+"_ms") {
		*dst = millis(ms)
	}
}

func set[T any](o *overlay, dst *T, v T, keys ...string) {
	if o.defined(keys...) {
		*dst = v
	}
}

func fromFile(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}

	cfg := Default()
	o := &overlay{meta: meta}

	set(o, &cfg.Clock, strings.ToLower(strings.TrimSpace(raw.Clock)), "clock")
	set(o, &cfg.Topology, strings.TrimSpace(raw.Topology), "topology")
	set(o, &cfg.Sink, protocol.NodeID(raw.Sink), "sink")
	set(o, &cfg.Epochs, raw.Epochs, "epochs")
	set(o, &cfg.Speed, raw.Speed, "speed")
	set(o, &cfg.DOTOutput, strings.TrimSpace(raw.DOTOutput), "dot_output")
	set(o, &cfg.Grid.Diameter, raw.Grid.Diameter, "grid", "diameter")
	set(o, &cfg.Grid.Radius, raw.Grid.Radius, "grid", "radius")

	n := &cfg.Node
	if o.defined("params", "mode") {
		mode, err := protocol.ParseMode(strings.TrimSpace(raw.Params.Mode))
		if err != nil {
			o.fail("params.mode: %v", err)
		}
		n.Params.Mode = mode
	}
	set(o, &n.Params.TCT, raw.Params.TCT, "params", "tct")

	rn := raw.Node
	o.duration(&n.EpochPeriod, rn.EpochPeriod, rn.EpochPeriodMS, "node", "epoch_period")
	o.duration(&n.FastPeriod, rn.FastPeriod, rn.FastPeriodMS, "node", "fast_period")
	o.duration(&n.SendCheckPeriod, rn.SendCheckPeriod, rn.SendCheckPeriodMS, "node", "send_check_period")
	if o.defined("node", "epoch_period") || o.defined("node", "epoch_period_ms") {
		// slot width follows the period unless set explicitly
		n.EpochSlot = n.EpochPeriod / 32
	}
	o.duration(&n.EpochSlot, rn.EpochSlot, rn.EpochSlotMS, "node", "epoch_slot")
	set(o, &n.SlotDepths, rn.SlotDepths, "node", "slot_depths")
	set(o, &n.SendQueueSize, rn.SendQueueSize, "node", "send_queue_size")
	set(o, &n.RecvQueueSize, rn.RecvQueueSize, "node", "recv_queue_size")
	o.policy(&n.SendPolicy, rn.SendPolicy, "send_policy")
	o.policy(&n.RecvPolicy, rn.RecvPolicy, "recv_policy")
	set(o, &n.LinkTimeoutLimit, rn.LinkTimeoutLimit, "node", "link_timeout_limit")
	set(o, &n.ParentTimeoutEpochs, rn.ParentTimeoutEpochs, "node", "parent_timeout_epochs")
	if o.defined("node", "fast_period") || o.defined("node", "fast_period_ms") {
		n.Backoff.InitialDelay = n.FastPeriod
		n.Backoff.MaxDelay = n.FastPeriod
	}
	o.duration(&n.Backoff.InitialDelay, rn.BackoffInitial, 0, "node", "backoff_initial")
	o.duration(&n.Backoff.MaxDelay, rn.BackoffMax, 0, "node", "backoff_max")
	set(o, &n.Backoff.Multiplier, rn.BackoffMultiplier, "node", "backoff_multiplier")
	set(o, &n.Backoff.Jitter, rn.BackoffJitter, "node", "backoff_jitter")

	rm := raw.Medium
	o.duration(&cfg.Medium.Airtime, rm.Airtime, rm.AirtimeMS, "medium", "airtime")
	o.duration(&cfg.Medium.Jitter, rm.Jitter, rm.JitterMS, "medium", "jitter")
	set(o, &cfg.Medium.LossRate, rm.LossRate, "medium", "loss_rate")
	set(o, &cfg.Medium.StuckRate, rm.StuckRate, "medium", "stuck_rate")
	set(o, &cfg.Medium.Seed, rm.Seed, "medium", "seed")

	set(o, &cfg.Sensors.Kind, strings.ToLower(strings.TrimSpace(raw.Sensors.Kind)), "sensors", "kind")
	set(o, &cfg.Sensors.Step, raw.Sensors.Step, "sensors", "step")
	set(o, &cfg.Sensors.Modulo, raw.Sensors.Modulo, "sensors", "modulo")
	set(o, &cfg.Sensors.Seed, raw.Sensors.Seed, "sensors", "seed")

	set(o, &cfg.HTTP.Enabled, raw.HTTP.Enabled, "http", "enabled")
	set(o, &cfg.HTTP.Addr, strings.TrimSpace(raw.HTTP.Addr), "http", "addr")
	set(o, &cfg.HTTP.CorsOrigins, raw.HTTP.CorsOrigins, "http", "cors_origins")
	set(o, &cfg.HTTP.Token, strings.TrimSpace(raw.HTTP.Token), "http", "token")
	set(o, &cfg.HTTP.Linger, raw.HTTP.Linger, "http", "linger")

	rq := raw.MQTT
	set(o, &cfg.MQTT.Enabled, rq.Enabled, "mqtt", "enabled")
	set(o, &cfg.MQTT.Broker, strings.TrimSpace(rq.Broker), "mqtt", "broker")
	set(o, &cfg.MQTT.ClientID, strings.TrimSpace(rq.ClientID), "mqtt", "client_id")
	set(o, &cfg.MQTT.TopicPrefix, strings.Trim(strings.TrimSpace(rq.TopicPrefix), "/"), "mqtt", "topic_prefix")
	set(o, &cfg.MQTT.Username, rq.Username, "mqtt", "username")
	set(o, &cfg.MQTT.Password, rq.Password, "mqtt", "password")
	set(o, &cfg.MQTT.QoS, rq.QoS, "mqtt", "qos")
	set(o, &cfg.MQTT.Retain, rq.Retain, "mqtt", "retain")
	o.duration(&cfg.MQTT.KeepAlive, rq.KeepAlive, 0, "mqtt", "keep_alive")
	o.duration(&cfg.MQTT.PublishTimeout, rq.PublishTimeout, rq.PublishTimeoutMS, "mqtt", "publish_timeout")

	set(o, &cfg.Log.Level, strings.TrimSpace(raw.Log.Level), "log", "level")
	set(o, &cfg.Log.File, strings.TrimSpace(raw.Log.File), "log", "file")

	if o.defined("failures") {
		cfg.Failures = cfg.Failures[:0]
		for _, f := range raw.Failures {
			cfg.Failures = append(cfg.Failures, Failure{Node: protocol.NodeID(f.Node), AtEpoch: f.AtEpoch})
		}
	}

	if o.err != nil {
		return Config{}, o.err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (o *overlay) policy(dst *queue.Policy, raw, key string) {
	if !o.defined("node", key) {
		return
	}
	p, err := queue.ParsePolicy(raw)
	if err != nil {
		o.fail("node.%s: %v", key, err)
		return
	}
	*dst = p
}
