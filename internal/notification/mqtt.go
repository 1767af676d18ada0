package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink mirrors pushes to per-room topics for devices that keep a broker
// connection instead of a websocket. Room "user:7" maps to <prefix>/user/7.
type MQTTSink struct {
	client publisher
	prefix string
	qos    byte
}

type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// NewMQTTSink connects to the broker
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, nil, fmt.Errorf("timed out connecting to mqtt broker %s", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return newMQTTSink(client, cfg.TopicPrefix, cfg.QoS), client, nil
}

func newMQTTSink(client publisher, prefix string, qos byte) *MQTTSink {
	if qos > 2 {
		qos = 1
	}
	return &MQTTSink{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: qos}
}

func (s *MQTTSink) Topic(room string) string {
	return s.prefix + "/" + strings.ReplaceAll(room, ":", "/")
}

func (s *MQTTSink) PushToUser(ctx context.Context, userID int64, event string, payload interface{}) error {
	return s.PushToRoom(ctx, UserRoom(userID), event, payload)
}

func (s *MQTTSink) PushToRoom(ctx context.Context, room, event string, payload interface{}) error {
	env, err := NewEnvelope(room, event, payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	token := s.client.Publish(s.Topic(room), s.qos, false, msg)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish to mqtt: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
