// Package setting models the named instrument parameters that can be written
// to and read back from a spectrum analyzer.
package setting

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidValue         = errors.New("invalid value")
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// Kind identifies the setting variant. Its string form is the setting_type
// discriminator of the device configuration.
type Kind string

const (
	KindNumerical Kind = "numerical"
	KindMode      Kind = "mode"
	KindDisplay   Kind = "display"
)

// Measure is presentation metadata used for unit scaling.
type Measure string

const (
	MeasureFrequency Measure = "frequency"
	MeasurePower     Measure = "power"
	MeasureTime      Measure = "time"
	MeasureNumber    Measure = "number"
	MeasureNone      Measure = "none"
)

// ParseMeasure maps a configuration string to a Measure. An empty string is
// MeasureNone.
func ParseMeasure(s string) (Measure, error) {
	switch m := Measure(strings.ToLower(s)); m {
	case "":
		return MeasureNone, nil
	case MeasureFrequency, MeasurePower, MeasureTime, MeasureNumber, MeasureNone:
		return m, nil
	default:
		return "", fmt.Errorf("unknown measure %q", s)
	}
}

// Setting is implemented by NumericalSetting, ModeSetting and DisplaySetting.
type Setting interface {
	Name() string
	Kind() Kind
	Measure() Measure
	ApplicableModes() []string
	DefaultValue() string
	CurrentValue() string

	IsApplicable(mode string) bool
	CheckIfValidValue(value string) bool
	// GetWriteSCPICommand returns the commands to send, in order, to set value.
	GetWriteSCPICommand(value string) ([]string, error)
	GetQuerySCPICommand() string
	SetCurrentValue(value string)

	// Options lists the values offered to a user in mode. It is nil for
	// settings that do not take an enumerated value.
	Options(mode string) []string

	sealed()
}

// base holds the state shared by every variant.
//
// current is the last value believed to be on the instrument. It starts at
// the default value, is replaced after a successful write and is overwritten
// with the instrument's answer when a verification disagrees. It is a
// last-known-good cache, not a source of truth.
type base struct {
	name     string
	measure  Measure
	modes    map[string]struct{}
	defValue string
	current  string
	query    string
}

func newBase(name string, measure Measure, modes []string, defValue, query string) base {
	set := make(map[string]struct{}, len(modes))
	for _, m := range modes {
		set[m] = struct{}{}
	}
	return base{
		name:     name,
		measure:  measure,
		modes:    set,
		defValue: defValue,
		current:  defValue,
		query:    query,
	}
}

func (b *base) Name() string         { return b.name }
func (b *base) Measure() Measure     { return b.measure }
func (b *base) DefaultValue() string { return b.defValue }
func (b *base) CurrentValue() string { return b.current }

func (b *base) ApplicableModes() []string {
	modes := make([]string, 0, len(b.modes))
	for m := range b.modes {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return modes
}

func (b *base) IsApplicable(mode string) bool {
	_, ok := b.modes[mode]
	return ok
}

func (b *base) GetQuerySCPICommand() string {
	return b.query
}

func (b *base) SetCurrentValue(value string) {
	b.current = value
}

func (b *base) Options(string) []string { return nil }

func (b *base) sealed() {}

// splitCommands splits a compound SCPI message on ';' into the individual
// commands to send.
func splitCommands(msg string) []string {
	parts := strings.Split(msg, ";")
	commands := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			commands = append(commands, p)
		}
	}
	return commands
}
