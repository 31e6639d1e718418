package setting

import (
	"fmt"
	"maps"
	"sort"
)

// ModeSetting takes one of a fixed set of options, each mapped to its own
// command. Callers may use alias names, which are translated to the canonical
// option before lookup.
type ModeSetting struct {
	base
	commands    map[string]string
	alias       map[string]string
	customModes map[string][]string
}

// NewMode copies the maps it is given.
func NewMode(name string, measure Measure, modes []string, defValue string, commands map[string]string, query string, alias map[string]string, customModes map[string][]string) *ModeSetting {
	custom := make(map[string][]string, len(customModes))
	for mode, options := range customModes {
		custom[mode] = append([]string(nil), options...)
	}

	return &ModeSetting{
		base:        newBase(name, measure, modes, defValue, query),
		commands:    maps.Clone(commands),
		alias:       maps.Clone(alias),
		customModes: custom,
	}
}

func (s *ModeSetting) Kind() Kind { return KindMode }

// Canonical translates an alias into its option. Any other value is returned
// unchanged.
func (s *ModeSetting) Canonical(value string) string {
	if canonical, ok := s.alias[value]; ok {
		return canonical
	}
	return value
}

// CheckIfValidValue accepts option names and alias names. custom_modes does
// not restrict validity, only what Options offers.
func (s *ModeSetting) CheckIfValidValue(value string) bool {
	if _, ok := s.commands[value]; ok {
		return true
	}
	_, ok := s.alias[value]
	return ok
}

func (s *ModeSetting) GetWriteSCPICommand(value string) ([]string, error) {
	cmd, ok := s.commands[s.Canonical(value)]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %q", s.name, ErrInvalidValue, value)
	}
	return splitCommands(cmd), nil
}

func (s *ModeSetting) SetCurrentValue(value string) {
	s.current = s.Canonical(value)
}

func (s *ModeSetting) Options(mode string) []string {
	if opts, ok := s.customModes[mode]; ok {
		return append([]string(nil), opts...)
	}
	if s.alias != nil {
		return sortedKeys(s.alias)
	}
	return sortedKeys(s.commands)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
