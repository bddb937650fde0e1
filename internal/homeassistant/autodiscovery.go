// Package homeassistant provides MQTT auto-discovery support for Home Assistant integration.
package homeassistant

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed layouts/homeassistant_sensors.yaml
var homeAssistantSensorsYAML []byte

// Config holds the Home Assistant auto-discovery configuration.
type Config struct {
	Enabled            bool
	DiscoveryPrefix    string
	DeviceName         string
	DeviceManufacturer string
	RetainDiscovery    bool
	IncludeDiagnostic  bool
}

// SensorConfig represents a sensor configuration from the layouts YAML.
type SensorConfig struct {
	Name              string `yaml:"name"`
	DeviceClass       string `yaml:"device_class,omitempty"`
	UnitOfMeasurement string `yaml:"unit_of_measurement,omitempty"`
	StateClass        string `yaml:"state_class,omitempty"`
	Category          string `yaml:"category"`
	Icon              string `yaml:"icon,omitempty"`
	PerChannel        bool   `yaml:"per_channel,omitempty"`
	ValueTemplate     string `yaml:"value_template,omitempty"`
}

// LayoutConfig represents the full layout configuration for Home Assistant sensors.
type LayoutConfig struct {
	Version         string                  `yaml:"version"`
	Description     string                  `yaml:"description"`
	EcuSensors      map[string]SensorConfig `yaml:"ecu_sensors"`
	InverterSensors map[string]SensorConfig `yaml:"inverter_sensors"`
}

// DiscoveryMessage represents a Home Assistant MQTT discovery message.
type DiscoveryMessage struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	ValueTemplate       string     `json:"value_template"`
	DeviceClass         string     `json:"device_class,omitempty"`
	UnitOfMeasurement   string     `json:"unit_of_measurement,omitempty"`
	StateClass          string     `json:"state_class,omitempty"`
	Icon                string     `json:"icon,omitempty"`
	EntityCategory      string     `json:"entity_category,omitempty"`
	Device              DeviceInfo `json:"device"`
	AvailabilityTopic   string     `json:"availability_topic,omitempty"`
	PayloadAvailable    string     `json:"payload_available,omitempty"`
	PayloadNotAvailable string     `json:"payload_not_available,omitempty"`
}

// DeviceInfo represents device information for Home Assistant.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SwVersion    string   `json:"sw_version,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// AutoDiscovery handles Home Assistant MQTT auto-discovery.
type AutoDiscovery struct {
	config       Config
	layoutConfig *LayoutConfig
	baseTopic    string
}

// New creates a new Home Assistant auto-discovery instance. State topics are
// derived from baseTopic.
func New(config Config, baseTopic string) (*AutoDiscovery, error) {
	ad := &AutoDiscovery{
		config:    config,
		baseTopic: strings.TrimSuffix(baseTopic, "/"),
	}

	if err := ad.loadLayoutConfig(); err != nil {
		return nil, fmt.Errorf("failed to load layout config: %w", err)
	}

	return ad, nil
}

// loadLayoutConfig loads the Home Assistant sensor configuration from embedded YAML.
func (ad *AutoDiscovery) loadLayoutConfig() error {
	var config LayoutConfig
	if err := yaml.Unmarshal(homeAssistantSensorsYAML, &config); err != nil {
		return fmt.Errorf("failed to unmarshal Home Assistant sensors config: %w", err)
	}

	ad.layoutConfig = &config
	log.Debug().
		Str("version", config.Version).
		Int("ecu_sensors", len(config.EcuSensors)).
		Int("inverter_sensors", len(config.InverterSensors)).
		Msg("Home Assistant layout configuration loaded from YAML")

	return nil
}

// EcuStateTopic is the topic carrying the snapshot of an ECU.
func (ad *AutoDiscovery) EcuStateTopic(ecuID string) string {
	return fmt.Sprintf("%s/%s", ad.baseTopic, ecuID)
}

// InverterStateTopic is the topic carrying a single inverter record.
func (ad *AutoDiscovery) InverterStateTopic(ecuID, uid string) string {
	return fmt.Sprintf("%s/%s/%s", ad.baseTopic, ecuID, uid)
}

// GetAvailabilityTopic returns the availability topic shared by an ECU and its inverters.
func (ad *AutoDiscovery) GetAvailabilityTopic(ecuID string) string {
	return fmt.Sprintf("%s/%s/availability", ad.baseTopic, ecuID)
}

// CreateAvailabilityMessage creates the availability payload.
func (ad *AutoDiscovery) CreateAvailabilityMessage(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

// GenerateDiscoveryMessages returns discovery messages keyed by discovery
// topic for the ECU and every inverter in the snapshot.
func (ad *AutoDiscovery) GenerateDiscoveryMessages(snapshot *domain.Snapshot) map[string]DiscoveryMessage {
	messages := make(map[string]DiscoveryMessage)
	if snapshot.EcuID == "" {
		return messages
	}

	ecuNode := nodeID(snapshot.EcuID)
	ecuDevice := DeviceInfo{
		Identifiers:  []string{ecuNode},
		Name:         ad.config.DeviceName,
		Manufacturer: ad.config.DeviceManufacturer,
		Model:        "ECU",
		SwVersion:    snapshot.Firmware,
	}
	ecuTopic := ad.EcuStateTopic(snapshot.EcuID)

	for field, sensor := range ad.layoutConfig.EcuSensors {
		if !ad.includeSensor(sensor) {
			continue
		}
		msg := ad.createDiscoveryMessage(sensor, sensor.Name, ecuNode+"_"+field, ecuTopic, ad.valueTemplate(sensor, field, -1), ecuDevice, snapshot.EcuID)
		messages[ad.getDiscoveryTopic(ecuNode, field)] = msg
	}

	for uid, record := range snapshot.Inverters {
		invNode := nodeID(uid)
		invDevice := DeviceInfo{
			Identifiers:  []string{invNode},
			Name:         fmt.Sprintf("%s Inverter %s", ad.config.DeviceName, uid),
			Manufacturer: ad.config.DeviceManufacturer,
			Model:        record.Model.String(),
			ViaDevice:    ecuNode,
		}
		invTopic := ad.InverterStateTopic(snapshot.EcuID, uid)

		for field, sensor := range ad.layoutConfig.InverterSensors {
			if !ad.includeSensor(sensor) {
				continue
			}
			if !sensor.PerChannel {
				msg := ad.createDiscoveryMessage(sensor, sensor.Name, invNode+"_"+field, invTopic, ad.valueTemplate(sensor, field, -1), invDevice, snapshot.EcuID)
				messages[ad.getDiscoveryTopic(invNode, field)] = msg
				continue
			}

			for i := 0; i < channelCount(record, field); i++ {
				object := fmt.Sprintf("%s_%d", field, i+1)
				name := fmt.Sprintf("%s %d", sensor.Name, i+1)
				msg := ad.createDiscoveryMessage(sensor, name, invNode+"_"+object, invTopic, ad.valueTemplate(sensor, field, i), invDevice, snapshot.EcuID)
				messages[ad.getDiscoveryTopic(invNode, object)] = msg
			}
		}
	}

	return messages
}

// SensorFields returns the configured ECU and inverter field names, sorted.
func (ad *AutoDiscovery) SensorFields() (ecu, inverter []string) {
	for field := range ad.layoutConfig.EcuSensors {
		ecu = append(ecu, field)
	}
	for field := range ad.layoutConfig.InverterSensors {
		inverter = append(inverter, field)
	}
	sort.Strings(ecu)
	sort.Strings(inverter)
	return ecu, inverter
}

func (ad *AutoDiscovery) includeSensor(sensor SensorConfig) bool {
	return sensor.Category != "diagnostic" || ad.config.IncludeDiagnostic
}

// createDiscoveryMessage creates a discovery message for a specific sensor.
func (ad *AutoDiscovery) createDiscoveryMessage(sensor SensorConfig, name, uniqueID, stateTopic, valueTemplate string, device DeviceInfo, ecuID string) DiscoveryMessage {
	var entityCategory string
	if sensor.Category == "diagnostic" {
		entityCategory = "diagnostic"
	}

	return DiscoveryMessage{
		Name:                name,
		UniqueID:            uniqueID,
		StateTopic:          stateTopic,
		ValueTemplate:       valueTemplate,
		DeviceClass:         sensor.DeviceClass,
		UnitOfMeasurement:   sensor.UnitOfMeasurement,
		StateClass:          sensor.StateClass,
		Icon:                sensor.Icon,
		EntityCategory:      entityCategory,
		Device:              device,
		AvailabilityTopic:   ad.GetAvailabilityTopic(ecuID),
		PayloadAvailable:    ad.CreateAvailabilityMessage(true),
		PayloadNotAvailable: ad.CreateAvailabilityMessage(false),
	}
}

// valueTemplate builds the Jinja template reading field, or element index of
// an array field when index is not negative.
func (ad *AutoDiscovery) valueTemplate(sensor SensorConfig, field string, index int) string {
	if sensor.ValueTemplate != "" {
		return sensor.ValueTemplate
	}
	if index >= 0 {
		return fmt.Sprintf("{{ value_json.%s[%d] }}", field, index)
	}
	return fmt.Sprintf("{{ value_json.%s }}", field)
}

// getDiscoveryTopic generates the MQTT discovery topic for a sensor.
func (ad *AutoDiscovery) getDiscoveryTopic(node, object string) string {
	// <discovery_prefix>/sensor/<node_id>/<object_id>/config
	return fmt.Sprintf("%s/sensor/%s/%s_%s/config", ad.config.DiscoveryPrefix, node, node, object)
}

func nodeID(id string) string {
	return "apsecu_" + strings.ToLower(strings.ReplaceAll(id, " ", "_"))
}

func channelCount(record domain.InverterRecord, field string) int {
	switch field {
	case "power":
		return len(record.Power)
	case "voltage":
		return len(record.Voltage)
	default:
		return 0
	}
}
