package location

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lcrostarosa/safecheck/internal/logging"
)

// MQTTConfig configures the MQTT location source.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic carries JSON encoded Location fixes published by the device.
	Topic string
	QoS   byte
}

// Subscriber is the part of an MQTT client the provider uses.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// MQTTProvider receives fixes published by the device's location service
// over MQTT. Permission is considered granted once subscribed.
type MQTTProvider struct {
	*Feed
	sub   Subscriber
	topic string
}

// DialMQTT connects to the broker and subscribes to cfg.Topic.
func DialMQTT(cfg MQTTConfig) (*MQTTProvider, mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	p, err := NewMQTTProvider(client, cfg.Topic, cfg.QoS)
	if err != nil {
		client.Disconnect(250)
		return nil, nil, err
	}
	return p, client, nil
}

// NewMQTTProvider subscribes to topic on an already connected client.
func NewMQTTProvider(sub Subscriber, topic string, qos byte) (*MQTTProvider, error) {
	p := &MQTTProvider{
		Feed:  NewFeed(false),
		sub:   sub,
		topic: topic,
	}
	if token := sub.Subscribe(topic, qos, p.onMessage); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	p.SetPermission(true)
	logging.Info("Subscribed to location updates", logging.String("topic", topic))
	return p, nil
}

func (p *MQTTProvider) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var loc Location
	if err := json.Unmarshal(msg.Payload(), &loc); err != nil {
		logging.Warn("Dropping malformed location message",
			logging.String("topic", msg.Topic()),
			logging.Err(err))
		return
	}
	if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
		logging.Warn("Dropping out of range location",
			logging.Float64("lat", loc.Latitude),
			logging.Float64("lon", loc.Longitude))
		return
	}
	if loc.Timestamp.IsZero() {
		loc.Timestamp = time.Now()
	}
	p.Push(loc)
}

// Close unsubscribes and ends every stream.
func (p *MQTTProvider) Close(ctx context.Context) error {
	p.SetPermission(false)
	p.Feed.Close()

	token := p.sub.Unsubscribe(p.topic)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
