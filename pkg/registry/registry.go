// Package registry builds the per-device catalog of settings from a
// declarative configuration.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"specan/pkg/setting"
)

var (
	ErrUnknownSetting = errors.New("unknown setting")
	ErrInvalidConfig  = errors.New("invalid device config")
)

// Registry owns every setting of one device, indexed by name, and the SCPI
// tokens used to switch the device between operating modes.
type Registry struct {
	deviceName  string
	defaultMode string
	modeSCPI    map[string]string
	settings    map[string]setting.Setting
}

// New validates cfg and builds a setting for each entry. Any problem is
// reported as ErrInvalidConfig; a registry is never partially built.
func New(cfg DeviceConfig) (*Registry, error) {
	if len(cfg.ModesSCPI) == 0 {
		return nil, fmt.Errorf("%w: no modes defined", ErrInvalidConfig)
	}
	if _, ok := cfg.ModesSCPI[cfg.DefaultMode]; !ok {
		return nil, fmt.Errorf("%w: default mode %q is not a defined mode", ErrInvalidConfig, cfg.DefaultMode)
	}

	r := Registry{
		deviceName:  cfg.DeviceName,
		defaultMode: cfg.DefaultMode,
		modeSCPI:    make(map[string]string, len(cfg.ModesSCPI)),
		settings:    make(map[string]setting.Setting, len(cfg.Settings)),
	}
	for mode, token := range cfg.ModesSCPI {
		r.modeSCPI[mode] = token
	}

	for name, sc := range cfg.Settings {
		s, err := buildSetting(name, sc, cfg.ModesSCPI)
		if err != nil {
			return nil, fmt.Errorf("%w: setting %q: %v", ErrInvalidConfig, name, err)
		}
		r.settings[name] = s
	}

	return &r, nil
}

func buildSetting(name string, sc SettingConfig, modes map[string]string) (setting.Setting, error) {
	if name == "" {
		return nil, errors.New("empty name")
	}

	measure, err := setting.ParseMeasure(sc.Measure)
	if err != nil {
		return nil, err
	}

	if len(sc.ApplicableModes) == 0 {
		return nil, errors.New("no applicable modes")
	}
	known := false
	for _, m := range sc.ApplicableModes {
		if _, ok := modes[m]; ok {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("none of the applicable modes %v is a defined mode", sc.ApplicableModes)
	}

	if sc.QueryCommand == "" {
		return nil, errors.New("missing query_command")
	}

	switch setting.Kind(sc.SettingType) {
	case setting.KindNumerical:
		if sc.WriteCommand == "" {
			return nil, errors.New("missing write_command")
		}
		if sc.DefaultValue != "" && !setting.IsNumber(sc.DefaultValue) {
			return nil, fmt.Errorf("default value %q is not a number", sc.DefaultValue)
		}
		return setting.NewNumerical(name, measure, sc.ApplicableModes, sc.DefaultValue, sc.WriteCommand, sc.QueryCommand), nil

	case setting.KindMode:
		if len(sc.WriteCommands) == 0 {
			return nil, errors.New("missing write_commands")
		}
		for alias, option := range sc.Alias {
			if _, ok := sc.WriteCommands[option]; !ok {
				return nil, fmt.Errorf("alias %q refers to unknown option %q", alias, option)
			}
		}
		s := setting.NewMode(name, measure, sc.ApplicableModes, sc.DefaultValue, sc.WriteCommands, sc.QueryCommand, sc.Alias, sc.CustomModes)
		for mode, options := range sc.CustomModes {
			for _, opt := range options {
				if !s.CheckIfValidValue(opt) {
					return nil, fmt.Errorf("custom mode %q offers unknown option %q", mode, opt)
				}
			}
		}
		if sc.DefaultValue != "" && !s.CheckIfValidValue(sc.DefaultValue) {
			return nil, fmt.Errorf("default value %q is not an option", sc.DefaultValue)
		}
		return s, nil

	case setting.KindDisplay:
		return setting.NewDisplay(name, measure, sc.ApplicableModes, sc.DefaultValue, sc.QueryCommand), nil

	default:
		return nil, fmt.Errorf("unknown setting_type %q", sc.SettingType)
	}
}

func (r *Registry) SettingKnown(name string) bool {
	_, ok := r.settings[name]
	return ok
}

// Get returns the named setting or ErrUnknownSetting.
func (r *Registry) Get(name string) (setting.Setting, error) {
	s, ok := r.settings[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSetting, name)
	}
	return s, nil
}

// Names returns the setting names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.settings))
	for name := range r.settings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Modes returns the defined operating modes in sorted order.
func (r *Registry) Modes() []string {
	modes := make([]string, 0, len(r.modeSCPI))
	for m := range r.modeSCPI {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return modes
}

// ModeSCPI returns the SCPI token that selects mode.
func (r *Registry) ModeSCPI(mode string) (string, bool) {
	token, ok := r.modeSCPI[mode]
	return token, ok
}

func (r *Registry) DefaultMode() string { return r.defaultMode }

func (r *Registry) DeviceName() string { return r.deviceName }
