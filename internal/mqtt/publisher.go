// Package mqtt publishes decoded frames to an MQTT broker as JSON.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"wpan-sniffer/internal/capture"
)

// Config holds MQTT publisher configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Publisher is a pipeline sink that forwards every record to the
// broker. Publish failures are logged, not propagated, so a flaky
// broker never stalls capture.
type Publisher struct {
	client pahomqtt.Client
	prefix string
	logger *slog.Logger
}

// NewPublisher creates and connects an MQTT publisher.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	p := &Publisher{
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("wpan-sniffer").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			p.logger.Info("MQTT connected")
			p.publish(p.prefix+"/state", []byte("online"), true)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	p.client = client
	return p, nil
}

// Consume implements capture.Sink.
func (p *Publisher) Consume(rec *capture.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("mqtt: marshal frame %d: %w", rec.Num, err)
	}
	p.publish(frameTopic(p.prefix, rec), payload, false)
	return nil
}

// Close publishes offline state and disconnects.
func (p *Publisher) Close() {
	p.publish(p.prefix+"/state", []byte("offline"), true)
	p.client.Disconnect(1000)
	p.logger.Info("MQTT publisher stopped")
}

func (p *Publisher) publish(topic string, payload []byte, retained bool) {
	token := p.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			p.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			p.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// frameTopic routes records into per-type subtopics, e.g.
// sniffer/frames/data, sniffer/frames/beacon.
func frameTopic(prefix string, rec *capture.Record) string {
	return prefix + "/frames/" + strings.ToLower(rec.Result.Frame.Type.String())
}
