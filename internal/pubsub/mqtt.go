// Package pubsub provides implementations of message publishers.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/resident-x/go-apsecu/internal/config"
	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/resident-x/go-apsecu/internal/homeassistant"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Second

// NoopPublisher is a no-operation implementation of the MessagePublisher interface.
type NoopPublisher struct{}

// NewNoopPublisher creates a new no-operation publisher.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

// Connect is a no-op for the NoopPublisher.
func (p *NoopPublisher) Connect(_ context.Context) error {
	return nil
}

// Publish is a no-op for the NoopPublisher.
func (p *NoopPublisher) Publish(_ context.Context, _ string, _ interface{}) error {
	return nil
}

// Close is a no-op for the NoopPublisher.
func (p *NoopPublisher) Close() error {
	return nil
}

// MQTTPublisher implements the MessagePublisher interface for MQTT.
type MQTTPublisher struct {
	config        *config.Config
	client        mqtt.Client
	logger        zerolog.Logger
	clientFactory func(*mqtt.ClientOptions) mqtt.Client // Factory function for creating MQTT clients (testable)
	haDiscovery   *homeassistant.AutoDiscovery

	mu                sync.Mutex
	connected         bool
	discoveredSensors map[string]bool // Track which sensors have been discovered
	birthSubscribed   bool
}

// NewMQTTPublisher creates a new MQTT publisher.
func NewMQTTPublisher(cfg *config.Config) *MQTTPublisher {
	return &MQTTPublisher{
		config:            cfg,
		clientFactory:     mqtt.NewClient,
		discoveredSensors: make(map[string]bool),
		logger:            log.With().Str("component", "mqtt").Logger(),
	}
}

// NewMQTTPublisherWithClient creates a new MQTT publisher with a custom client (for testing).
func NewMQTTPublisherWithClient(cfg *config.Config, client mqtt.Client) *MQTTPublisher {
	p := NewMQTTPublisher(cfg)
	p.client = client
	return p
}

// clientOptions builds the paho options, including connection handlers.
func (p *MQTTPublisher) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.MQTT.Host, p.config.MQTT.Port)).
		SetClientID(fmt.Sprintf("go-apsecu-%d", time.Now().UnixNano())).
		SetAutoReconnect(true).
		SetConnectTimeout(p.connectTimeout()).
		SetWriteTimeout(publishTimeout).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	// Set credentials if provided
	if p.config.MQTT.Username != "" {
		opts.SetUsername(p.config.MQTT.Username)
		opts.SetPassword(p.config.MQTT.Password)
	}

	return opts
}

func (p *MQTTPublisher) connectTimeout() time.Duration {
	if p.config.MQTT.ConnectionTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.config.MQTT.ConnectionTimeout) * time.Second
}

// onConnect runs on every (re)connection. Discovery is re-sent afterwards.
func (p *MQTTPublisher) onConnect(_ mqtt.Client) {
	p.logger.Info().Msg("MQTT connection established")

	p.mu.Lock()
	p.connected = true
	p.discoveredSensors = make(map[string]bool)
	p.mu.Unlock()
}

func (p *MQTTPublisher) onConnectionLost(_ mqtt.Client, err error) {
	p.logger.Warn().Err(err).Msg("MQTT connection lost")

	p.mu.Lock()
	p.connected = false
	p.birthSubscribed = false
	p.mu.Unlock()
}

// Connect establishes a connection to the MQTT broker.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	// If MQTT is disabled, do nothing
	if !p.config.MQTT.Enabled {
		return nil
	}

	if p.client == nil {
		p.client = p.clientFactory(p.clientOptions())
	}

	timeout := p.connectTimeout()
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	connToken := p.client.Connect()

	select {
	case <-connectCtx.Done():
		return fmt.Errorf("failed to connect to MQTT broker: timeout after %s", timeout)
	case <-connToken.Done():
		if connToken.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", connToken.Error())
		}
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()

	p.logger.Info().
		Str("host", p.config.MQTT.Host).
		Int("port", p.config.MQTT.Port).
		Msg("Connected to MQTT broker")

	if p.config.MQTT.HomeAssistantAutoDiscovery.Enabled {
		p.subscribeToBirthMessage()
	}

	return nil
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// subscribeToBirthMessage subscribes to Home Assistant birth messages.
func (p *MQTTPublisher) subscribeToBirthMessage() {
	p.mu.Lock()
	if p.birthSubscribed || !p.connected {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	birthTopic := fmt.Sprintf("%s/status", p.config.MQTT.HomeAssistantAutoDiscovery.DiscoveryPrefix)

	token := p.client.Subscribe(birthTopic, 0, p.handleBirthMessage)
	if token.Wait() && token.Error() != nil {
		p.logger.Warn().Err(token.Error()).Str("topic", birthTopic).Msg("Failed to subscribe to birth message")
		return
	}

	p.mu.Lock()
	p.birthSubscribed = true
	p.mu.Unlock()
	p.logger.Info().Str("topic", birthTopic).Msg("Subscribed to Home Assistant birth messages")
}

// handleBirthMessage clears the discovery cache when Home Assistant comes online.
func (p *MQTTPublisher) handleBirthMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := string(msg.Payload())

	p.logger.Debug().
		Str("topic", msg.Topic()).
		Str("payload", payload).
		Msg("Received Home Assistant birth message")

	if payload == "online" {
		p.logger.Info().Msg("Home Assistant came online, triggering auto-discovery refresh")
		p.mu.Lock()
		p.discoveredSensors = make(map[string]bool)
		p.mu.Unlock()
	}
}

// Publish sends data to the specified topic. A *domain.Snapshot is spread
// over <topic>/<ecu_id> and, when enabled, <topic>/<ecu_id>/<uid>.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, data interface{}) error {
	if !p.config.MQTT.Enabled || !p.isConnected() {
		return nil
	}

	switch snapshot := data.(type) {
	case *domain.Snapshot:
		return p.publishSnapshot(ctx, topic, snapshot)
	case domain.Snapshot:
		return p.publishSnapshot(ctx, topic, &snapshot)
	}

	return p.publishGeneric(ctx, topic, data, p.config.MQTT.Retain)
}

// publishGeneric handles simple JSON publishing.
func (p *MQTTPublisher) publishGeneric(ctx context.Context, topic string, data interface{}, retain bool) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data to JSON: %w", err)
	}

	return p.publishRaw(ctx, topic, jsonData, retain)
}

func (p *MQTTPublisher) publishRaw(ctx context.Context, topic string, payload interface{}, retain bool) error {
	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	token := p.client.Publish(topic, 0, retain, payload)

	select {
	case <-publishCtx.Done():
		return fmt.Errorf("publish to %s timed out: %w", topic, publishCtx.Err())
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to publish message to %s: %w", topic, token.Error())
		}
	}

	return nil
}

// publishSnapshot publishes discovery, the ECU snapshot and per-inverter records.
func (p *MQTTPublisher) publishSnapshot(ctx context.Context, topic string, snapshot *domain.Snapshot) error {
	if snapshot.EcuID == "" {
		p.logger.Debug().Msg("Skipping publish: ECU id is empty")
		return nil
	}

	baseTopic := topic
	if baseTopic == "" {
		baseTopic = p.config.MQTT.Topic
	}

	if p.config.MQTT.HomeAssistantAutoDiscovery.Enabled {
		if err := p.publishHomeAssistantDiscovery(ctx, baseTopic, snapshot); err != nil {
			return fmt.Errorf("failed to publish Home Assistant discovery: %w", err)
		}
	}

	ecuTopic := fmt.Sprintf("%s/%s", baseTopic, snapshot.EcuID)
	if err := p.publishGeneric(ctx, ecuTopic, snapshot, p.config.MQTT.Retain); err != nil {
		return err
	}

	published := 1
	if p.config.MQTT.PublishInverters {
		uids := make([]string, 0, len(snapshot.Inverters))
		for uid := range snapshot.Inverters {
			uids = append(uids, uid)
		}
		sort.Strings(uids)

		for _, uid := range uids {
			invTopic := fmt.Sprintf("%s/%s", ecuTopic, uid)
			if err := p.publishGeneric(ctx, invTopic, snapshot.Inverters[uid], p.config.MQTT.Retain); err != nil {
				return err
			}
			published++
		}
	}

	p.logger.Debug().
		Str("topic", ecuTopic).
		Int("messages", published).
		Msg("Published snapshot")

	return nil
}

// setupHomeAssistantDiscovery initializes Home Assistant auto-discovery.
func (p *MQTTPublisher) setupHomeAssistantDiscovery(baseTopic string) error {
	ha := p.config.MQTT.HomeAssistantAutoDiscovery
	haConfig := homeassistant.Config{
		Enabled:            ha.Enabled,
		DiscoveryPrefix:    ha.DiscoveryPrefix,
		DeviceName:         ha.DeviceName,
		DeviceManufacturer: ha.DeviceManufacturer,
		RetainDiscovery:    ha.RetainDiscovery,
		IncludeDiagnostic:  ha.IncludeDiagnostic,
	}

	var err error
	p.haDiscovery, err = homeassistant.New(haConfig, baseTopic)
	return err
}

// publishHomeAssistantDiscovery publishes discovery messages for sensors not
// yet announced, followed by the availability message.
func (p *MQTTPublisher) publishHomeAssistantDiscovery(ctx context.Context, baseTopic string, snapshot *domain.Snapshot) error {
	if p.haDiscovery == nil {
		if err := p.setupHomeAssistantDiscovery(baseTopic); err != nil {
			return err
		}
	}

	messages := p.haDiscovery.GenerateDiscoveryMessages(snapshot)
	topics := make([]string, 0, len(messages))
	for topic := range messages {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	for _, topic := range topics {
		p.mu.Lock()
		done := p.discoveredSensors[topic]
		p.mu.Unlock()
		if done {
			continue
		}

		if err := p.publishGeneric(ctx, topic, messages[topic], p.config.MQTT.HomeAssistantAutoDiscovery.RetainDiscovery); err != nil {
			return err
		}

		p.mu.Lock()
		p.discoveredSensors[topic] = true
		p.mu.Unlock()
	}

	availTopic := p.haDiscovery.GetAvailabilityTopic(snapshot.EcuID)
	return p.publishRaw(ctx, availTopic, p.haDiscovery.CreateAvailabilityMessage(true), p.config.MQTT.Retain)
}

// Close terminates the connection to the MQTT broker.
func (p *MQTTPublisher) Close() error {
	p.mu.Lock()
	connected := p.connected
	p.connected = false
	p.mu.Unlock()

	if p.client != nil && connected {
		p.client.Disconnect(250) // Disconnect with 250ms timeout
	}
	return nil
}
