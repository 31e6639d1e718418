// Package publisher forwards instrument events to an MQTT broker.
package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"specan/pkg/instrument"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const publishTimeout = 2 * time.Second

type Config struct {
	Broker   string
	Username string
	Password string
	ClientID string
}

// NewClient connects to the MQTT broker described by cfg.
func NewClient(cfg Config) (mqtt.Client, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "specan"
	}

	opts := mqtt.NewClientOptions()
	opts.SetClientID(clientID)
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}
	return client, nil
}

// Publisher implements instrument.Notifier. Publish failures are logged and
// never reach the caller.
type Publisher struct {
	client mqtt.Client
	root   string
	logger log.FieldLogger
}

func New(client mqtt.Client, root string, logger log.FieldLogger) *Publisher {
	p := Publisher{
		client: client,
		root:   strings.TrimSuffix(root, "/"),
		logger: logger.WithField("component", "mqtt"),
	}
	return &p
}

// Topic returns the topic an event is published on. Mode and connection
// events are retained so late subscribers see the current state.
func (p *Publisher) Topic(e instrument.Event) (string, bool) {
	switch e.Type {
	case instrument.EventSet, instrument.EventVerify:
		return p.root + "/results/" + topicLevel(e.Setting), false
	case instrument.EventMode:
		return p.root + "/mode", true
	default:
		return p.root + "/" + topicLevel(string(e.Type)), true
	}
}

func (p *Publisher) Notify(e instrument.Event) {
	topic, retained := p.Topic(e)

	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Errorf("Failed to encode event: %v", err)
		return
	}

	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warnf("Timed out publishing to %s", topic)
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warnf("Failed to publish to %s: %v", topic, err)
		return
	}
	p.logger.Debugf("Published %s event to %s", e.Type, topic)
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// topicLevel makes s usable as a single topic level.
func topicLevel(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
