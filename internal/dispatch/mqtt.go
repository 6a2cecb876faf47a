package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"whereabouts-backend/internal/announce"
	"whereabouts-backend/internal/events"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// MQTTConfig configures the MQTT sink
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

const mqttPublishTimeout = 10 * time.Second

// MQTTSink publishes events for displays at the venue:
//
//	<prefix>/<party id>/status   status updates of a party
//	<prefix>/clients/<client id> client lifecycle events
//	<prefix>/tags                tag creation
type MQTTSink struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// ConnectMQTT connects to the broker and returns the sink
func ConnectMQTT(cfg MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("Connection to MQTT broker lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection error: %w", err)
	}

	return NewMQTTSink(client, cfg.TopicPrefix, cfg.QoS), nil
}

// NewMQTTSink wraps a connected client
func NewMQTTSink(client mqtt.Client, prefix string, qos byte) *MQTTSink {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "whereabouts"
	}
	return &MQTTSink{client: client, prefix: prefix, qos: qos}
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Topic returns the topic an event is published to
func (s *MQTTSink) Topic(ev events.Event) string {
	switch e := ev.(type) {
	case events.StatusUpdated:
		return fmt.Sprintf("%s/%s/status", s.prefix, e.Party.ID)
	case events.TagCreated:
		return s.prefix + "/tags"
	case events.ClientRegistered, events.ClientApproved, events.ClientDeleted,
		events.ClientSignedOn, events.ClientSignedOff:
		clientID, _ := events.ClientIDOf(ev)
		return fmt.Sprintf("%s/clients/%s", s.prefix, clientID)
	default:
		panic(fmt.Sprintf("unexpected event type %T", ev))
	}
}

// mqttPayload carries the event together with its rendered text so
// displays need no further lookups
type mqttPayload struct {
	Type string       `json:"type"`
	Text string       `json:"text"`
	Data events.Event `json:"data"`
}

func (s *MQTTSink) Publish(ctx context.Context, ev events.Event) error {
	if !s.client.IsConnected() {
		return fmt.Errorf("not connected to MQTT broker")
	}

	payload, err := json.Marshal(mqttPayload{Type: ev.Name(), Text: announce.Text(ev), Data: ev})
	if err != nil {
		return fmt.Errorf("failed to marshal mqtt payload: %w", err)
	}

	topic := s.Topic(ev)
	token := s.client.Publish(topic, s.qos, false, payload)

	timeout := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker
func (s *MQTTSink) Close() {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
