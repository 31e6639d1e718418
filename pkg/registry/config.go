package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeviceConfig is the declarative description of one instrument type.
type DeviceConfig struct {
	DeviceName  string                   `json:"Device Name,omitempty" yaml:"Device Name,omitempty"`
	IDN         string                   `json:"IDN,omitempty" yaml:"IDN,omitempty"`
	DefaultMode string                   `json:"Default Mode" yaml:"Default Mode"`
	ModesSCPI   map[string]string        `json:"Modes SCPI Commands" yaml:"Modes SCPI Commands"`
	Settings    map[string]SettingConfig `json:"Settings" yaml:"Settings"`
}

// SettingConfig holds the union of the fields used by every setting type.
// Which fields are required depends on SettingType.
type SettingConfig struct {
	SettingType     string   `json:"setting_type" yaml:"setting_type"`
	Measure         string   `json:"measure,omitempty" yaml:"measure,omitempty"`
	DefaultValue    string   `json:"default_value" yaml:"default_value"`
	ApplicableModes []string `json:"applicable_modes" yaml:"applicable_modes"`

	// numerical
	WriteCommand string `json:"write_command,omitempty" yaml:"write_command,omitempty"`

	// numerical, mode and display
	QueryCommand string `json:"query_command,omitempty" yaml:"query_command,omitempty"`

	// mode
	WriteCommands map[string]string   `json:"write_commands,omitempty" yaml:"write_commands,omitempty"`
	Alias         map[string]string   `json:"alias,omitempty" yaml:"alias,omitempty"`
	CustomModes   map[string][]string `json:"custom_modes,omitempty" yaml:"custom_modes,omitempty"`
}

// LoadConfig reads a device configuration. Files ending in .yaml or .yml are
// parsed as YAML, anything else as JSON. The result is not validated; New
// does that.
func LoadConfig(path string) (DeviceConfig, error) {
	var cfg DeviceConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading device config: %w", err)
	}

	if err := decode(path, data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

func decode(path string, data []byte, v any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, v)
	default:
		return json.Unmarshal(data, v)
	}
}
