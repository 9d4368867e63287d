// Package notify publishes estimates, phase changes and user notifications
// over MQTT. A disabled configuration yields a no-op publisher so callers
// never branch on whether MQTT is wired.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/luxd/internal/config"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Publisher delivers room estimates, phase changes and notifications
type Publisher interface {
	PublishEstimate(room string, lux float64)
	PublishPhase(room, phase string)
	Notify(ctx context.Context, title, message string)
	Close()
}

// MQTT implements Publisher over an MQTT broker.
//
// Topics:
//
//	<prefix>/<room>/estimated_lux  - retained, latest estimate
//	<prefix>/<room>/phase          - retained, calibration phase
//	<prefix>/notification          - transient user notifications
type MQTT struct {
	client pahomqtt.Client
	prefix string
	qos    byte
}

// Connect creates an MQTT publisher with auto-reconnect
func Connect(cfg config.MQTTConfig) (*MQTT, error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetConnectRetry(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost, reconnecting")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out after %v", cfg.Broker, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	return &MQTT{
		client: client,
		prefix: cfg.TopicPrefix,
		qos:    cfg.QoS,
	}, nil
}

// PublishEstimate publishes the latest estimate for a room, retained so
// subscribers joining later see the current value.
func (m *MQTT) PublishEstimate(room string, lux float64) {
	topic := fmt.Sprintf("%s/%s/estimated_lux", m.prefix, room)
	m.publish(topic, fmt.Sprintf("%.1f", lux), true)
}

// PublishPhase publishes the current calibration phase for a room, retained
func (m *MQTT) PublishPhase(room, phase string) {
	topic := fmt.Sprintf("%s/%s/phase", m.prefix, room)
	m.publish(topic, phase, true)
}

// Notify publishes a user notification
func (m *MQTT) Notify(ctx context.Context, title, message string) {
	payload, err := json.Marshal(map[string]string{
		"title":   title,
		"message": message,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal notification")
		return
	}
	m.publish(m.prefix+"/notification", string(payload), false)
}

// Close disconnects from the broker, allowing in-flight messages to drain
func (m *MQTT) Close() {
	m.client.Disconnect(uint(publishTimeout.Milliseconds()))
}

func (m *MQTT) publish(topic, payload string, retained bool) {
	token := m.client.Publish(topic, m.qos, retained, payload)
	// Fire and forget; surface failures without blocking callers
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Warn().Str("topic", topic).Msg("MQTT publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// Nop is a Publisher that discards everything
type Nop struct{}

func (Nop) PublishEstimate(string, float64)        {}
func (Nop) PublishPhase(string, string)            {}
func (Nop) Notify(context.Context, string, string) {}
func (Nop) Close()                                 {}
