package sink

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/tina/internal/node"
	"github.com/danmuck/tina/internal/protocol"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

type MQTTConfig struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	Username       string
	Password       string
	QoS            byte
	Retain         bool
	KeepAlive      time.Duration
	PublishTimeout time.Duration
}

func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:         "tcp://127.0.0.1:1883",
		ClientID:       "tina-sink",
		TopicPrefix:    "tina",
		QoS:            1,
		KeepAlive:      30 * time.Second,
		PublishTimeout: 2 * time.Second,
	}
}

// Publisher forwards each epoch report as JSON to
// <prefix>/<sink>/aggregate.
type Publisher struct {
	client mqtt.Client
	cfg    MQTTConfig
	topic  string
	status string
}

// DialMQTT connects to the broker and returns a ready publisher. A last
// will marks the sink offline on unexpected disconnect.
func DialMQTT(cfg MQTTConfig, sinkID protocol.NodeID) (*Publisher, error) {
	statusTopic := topicFor(cfg.TopicPrefix, sinkID, "status")
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.PublishTimeout).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetWill(statusTopic, "offline", 1, true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("sink: mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	p := NewPublisher(client, cfg, sinkID)
	client.Publish(statusTopic, 1, true, "online")
	log.Info().Str("broker", cfg.Broker).Str("topic", p.topic).Msg("mqtt publisher connected")
	return p, nil
}

// NewPublisher wraps an already connected client.
func NewPublisher(client mqtt.Client, cfg MQTTConfig, sinkID protocol.NodeID) *Publisher {
	return &Publisher{
		client: client,
		cfg:    cfg,
		topic:  topicFor(cfg.TopicPrefix, sinkID, "aggregate"),
		status: topicFor(cfg.TopicPrefix, sinkID, "status"),
	}
}

func topicFor(prefix string, sinkID protocol.NodeID, leaf string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s", sinkID, leaf)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, sinkID, leaf)
}

func (p *Publisher) Topic() string { return p.topic }

// Report publishes r without blocking the caller; delivery failures are
// logged once the token settles.
func (p *Publisher) Report(r node.EpochReport) {
	payload, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Msg("encode epoch report")
		return
	}
	token := p.client.Publish(p.topic, p.cfg.QoS, p.cfg.Retain, payload)
	go func() {
		if !token.WaitTimeout(p.cfg.PublishTimeout) {
			log.Warn().Str("topic", p.topic).Uint32("epoch", r.Epoch).Msg("mqtt publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("topic", p.topic).Uint32("epoch", r.Epoch).Msg("mqtt publish failed")
		}
	}()
}

func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Publish(p.status, 1, true, "offline").WaitTimeout(p.cfg.PublishTimeout)
	}
	p.client.Disconnect(250)
}
