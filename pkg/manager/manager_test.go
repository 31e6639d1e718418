package manager

import (
	"errors"
	"io"
	"testing"

	"specan/pkg/registry"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records every command and answers queries from a map.
type fakeTransport struct {
	writes    []string
	queries   []string
	responses map[string]string
	failWrite map[string]error
	failQuery error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(map[string]string),
		failWrite: make(map[string]error),
	}
}

func (f *fakeTransport) Write(cmd string) error {
	f.writes = append(f.writes, cmd)
	return f.failWrite[cmd]
}

func (f *fakeTransport) Query(cmd string) (string, error) {
	f.queries = append(f.queries, cmd)
	if f.failQuery != nil {
		return "", f.failQuery
	}
	return f.responses[cmd], nil
}

func (f *fakeTransport) calls() int {
	return len(f.writes) + len(f.queries)
}

func testLogger() log.FieldLogger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() registry.DeviceConfig {
	return registry.DeviceConfig{
		DefaultMode: "Spectrum",
		ModesSCPI: map[string]string{
			"Spectrum":           "SAN",
			"Real-Time Spectrum": "RTIM",
			"Zero-Span":          "SAN",
		},
		Settings: map[string]registry.SettingConfig{
			"Center Frequency": {
				SettingType:     "numerical",
				Measure:         "frequency",
				DefaultValue:    "21500000000",
				WriteCommand:    "FREQ:CENT",
				QueryCommand:    "FREQ:CENT?",
				ApplicableModes: []string{"Spectrum"},
			},
			"Attenuation": {
				SettingType:     "numerical",
				Measure:         "power",
				DefaultValue:    "10",
				WriteCommand:    "INP:ATT:AUTO OFF;INP:ATT",
				QueryCommand:    "INP:ATT?",
				ApplicableModes: []string{"Spectrum", "Zero-Span"},
			},
			"Sweep Mode": {
				SettingType:     "mode",
				DefaultValue:    "Continuous",
				WriteCommands:   map[string]string{"Continuous": "INIT:CONT ON", "Single": "INIT:CONT OFF"},
				QueryCommand:    "INIT:CONT?",
				Alias:           map[string]string{"Cont": "Continuous"},
				ApplicableModes: []string{"Spectrum", "Zero-Span"},
			},
			"Sweep Count": {
				SettingType:     "display",
				DefaultValue:    "0",
				QueryCommand:    "SWE:COUN:CURR?",
				ApplicableModes: []string{"Spectrum"},
			},
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeTransport) {
	t.Helper()
	reg, err := registry.New(testConfig())
	require.NoError(t, err)
	ft := newFakeTransport()
	return New(reg, ft, testLogger()), ft
}

func currentValue(t *testing.T, m *Manager, name string) string {
	t.Helper()
	s, err := m.Registry().Get(name)
	require.NoError(t, err)
	return s.CurrentValue()
}

func TestInitialMode(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Equal(t, "Spectrum", m.CurrentMode())
}

func TestSetAndVerifyRoundTrip(t *testing.T) {
	m, ft := newTestManager(t)

	res := m.SetSetting("Center Frequency", "2000000000")
	assert.Equal(t, Result{true, "Set successful"}, res)
	assert.Equal(t, []string{"FREQ:CENT 2000000000"}, ft.writes)
	assert.Empty(t, ft.queries)
	assert.Equal(t, "2000000000", currentValue(t, m, "Center Frequency"))

	ft.responses["FREQ:CENT?"] = "2000000000"
	res = m.VerifySetting("Center Frequency")
	assert.Equal(t, Result{true, "Setting verified"}, res)
	assert.Equal(t, []string{"FREQ:CENT?"}, ft.queries)
}

func TestVerifyTolerantComparison(t *testing.T) {
	m, ft := newTestManager(t)

	m.SetSetting("Center Frequency", "2000000000")
	ft.responses["FREQ:CENT?"] = "2.000000000E+09\n"

	res := m.VerifySetting("Center Frequency")
	assert.True(t, res.OK)
	assert.Equal(t, "2000000000", currentValue(t, m, "Center Frequency"))
}

func TestVerifyFirstLineOnly(t *testing.T) {
	m, ft := newTestManager(t)

	ft.responses["INIT:CONT?"] = "Continuous\nextra line"
	assert.Equal(t, Result{true, "Setting verified"}, m.VerifySetting("Sweep Mode"))
}

func TestVerifyMismatchUpdatesCurrentValue(t *testing.T) {
	m, ft := newTestManager(t)

	m.SetSetting("Center Frequency", "2000000000")
	ft.responses["FREQ:CENT?"] = "1999000000"

	res := m.VerifySetting("Center Frequency")
	assert.Equal(t, Result{false, "Setting set incorrect: 1999000000"}, res)
	assert.Equal(t, "1999000000", currentValue(t, m, "Center Frequency"))

	// The cache now matches the device.
	assert.Equal(t, Result{true, "Setting verified"}, m.VerifySetting("Center Frequency"))
}

func TestVerifyStringMismatch(t *testing.T) {
	m, ft := newTestManager(t)

	ft.responses["INIT:CONT?"] = "1"
	res := m.VerifySetting("Sweep Mode")
	assert.Equal(t, Result{false, "Setting set incorrect: 1"}, res)
	assert.Equal(t, "1", currentValue(t, m, "Sweep Mode"))
}

func TestVerifyIdempotent(t *testing.T) {
	m, ft := newTestManager(t)
	ft.responses["SWE:COUN:CURR?"] = "42"

	first := m.VerifySetting("Sweep Count")
	afterFirst := currentValue(t, m, "Sweep Count")
	assert.Equal(t, "42", afterFirst)

	second := m.VerifySetting("Sweep Count")
	assert.Equal(t, afterFirst, currentValue(t, m, "Sweep Count"))
	assert.Equal(t, Result{false, "Setting set incorrect: 42"}, first)
	assert.Equal(t, Result{true, "Setting verified"}, second)

	// With the cache already in sync, repeated verifies are identical.
	third := m.VerifySetting("Sweep Count")
	assert.Equal(t, second, third)
	assert.Equal(t, afterFirst, currentValue(t, m, "Sweep Count"))
}

func TestUnknownSetting(t *testing.T) {
	m, ft := newTestManager(t)

	assert.Equal(t, Result{false, "Setting Unknown"}, m.SetSetting("Nonexistent", "1"))
	assert.Equal(t, Result{false, "Setting Unknown"}, m.VerifySetting("Nonexistent"))
	assert.Zero(t, ft.calls())
}

func TestModeGating(t *testing.T) {
	m, ft := newTestManager(t)

	require.NoError(t, m.SetMode("Zero-Span"))
	ft.writes = nil

	assert.Equal(t, Result{false, "Setting is not applicable"}, m.SetSetting("Center Frequency", "1000"))
	assert.Equal(t, Result{false, "Setting is not applicable"}, m.VerifySetting("Center Frequency"))
	assert.Zero(t, ft.calls())
}

func TestInvalidValue(t *testing.T) {
	m, ft := newTestManager(t)

	assert.Equal(t, Result{false, "Value is not valid for this setting"}, m.SetSetting("Center Frequency", "1,5"))
	assert.Equal(t, Result{false, "Value is not valid for this setting"}, m.SetSetting("Sweep Mode", "Triggered"))
	assert.Equal(t, Result{false, "Value is not valid for this setting"}, m.SetSetting("Sweep Count", "3"))
	assert.Zero(t, ft.calls())
	assert.Equal(t, "21500000000", currentValue(t, m, "Center Frequency"))
}

func TestModeAliasResolution(t *testing.T) {
	m, ft := newTestManager(t)

	res := m.SetSetting("Sweep Mode", "Cont")
	assert.True(t, res.OK)
	assert.Equal(t, []string{"INIT:CONT ON"}, ft.writes)
	assert.Equal(t, "Continuous", currentValue(t, m, "Sweep Mode"))
}

func TestPartialMultiCommandFailure(t *testing.T) {
	m, ft := newTestManager(t)
	ft.failWrite["INP:ATT 20"] = errors.New("VI_ERROR_TMO")

	res := m.SetSetting("Attenuation", "20")
	assert.Equal(t, Result{false, "Error writing setting: VI_ERROR_TMO"}, res)
	assert.Equal(t, []string{"INP:ATT:AUTO OFF", "INP:ATT 20"}, ft.writes)
	assert.Equal(t, "10", currentValue(t, m, "Attenuation"))
}

func TestQueryFailure(t *testing.T) {
	m, ft := newTestManager(t)
	ft.failQuery = errors.New("connection reset")

	res := m.VerifySetting("Center Frequency")
	assert.Equal(t, Result{false, "Error querying setting: connection reset"}, res)
	assert.Equal(t, "21500000000", currentValue(t, m, "Center Frequency"))
}

func TestSetAllSettings(t *testing.T) {
	m, ft := newTestManager(t)
	ft.failWrite["FREQ:CENT 1"] = errors.New("timeout")

	results := m.SetAllSettings(map[string]string{
		"Center Frequency": "1",
		"Sweep Mode":       "Single",
		"Nonexistent":      "1",
		"Attenuation":      "abc",
	})

	assert.Len(t, results, 4)
	assert.Equal(t, Result{false, "Error writing setting: timeout"}, results["Center Frequency"])
	assert.Equal(t, Result{true, "Set successful"}, results["Sweep Mode"])
	assert.Equal(t, Result{false, "Setting Unknown"}, results["Nonexistent"])
	assert.Equal(t, Result{false, "Value is not valid for this setting"}, results["Attenuation"])
}

func TestVerifyAllSettings(t *testing.T) {
	m, ft := newTestManager(t)
	ft.responses["FREQ:CENT?"] = "21500000000"
	ft.responses["INIT:CONT?"] = "Single"

	results := m.VerifyAllSettings([]string{"Center Frequency", "Sweep Mode", "Nonexistent"})

	assert.Len(t, results, 3)
	assert.True(t, results["Center Frequency"].OK)
	assert.Equal(t, Result{false, "Setting set incorrect: Single"}, results["Sweep Mode"])
	assert.Equal(t, Result{false, "Setting Unknown"}, results["Nonexistent"])
}

func TestSetMode(t *testing.T) {
	m, ft := newTestManager(t)

	require.NoError(t, m.SetMode("Real-Time Spectrum"))
	assert.Equal(t, []string{"INST:CRE:REPL 'Spectrum', RTIM, 'Real-Time Spectrum'"}, ft.writes)
	assert.Equal(t, "Real-Time Spectrum", m.CurrentMode())

	err := m.SetMode("Vector Analysis")
	assert.ErrorIs(t, err, ErrUnknownMode)
	assert.Equal(t, "Real-Time Spectrum", m.CurrentMode())
	assert.Len(t, ft.writes, 1)
}

func TestSetModeUpdatesOnTransportFailure(t *testing.T) {
	m, ft := newTestManager(t)
	ft.failWrite["INST:CRE:REPL 'Spectrum', SAN, 'Zero-Span'"] = errors.New("timeout")

	err := m.SetMode("Zero-Span")
	assert.Error(t, err)
	assert.Equal(t, "Zero-Span", m.CurrentMode())
}

func TestEndToEnd(t *testing.T) {
	reg, err := registry.New(registry.DeviceConfig{
		DefaultMode: "Spectrum",
		ModesSCPI:   map[string]string{"Spectrum": "SAN"},
		Settings: map[string]registry.SettingConfig{
			"Center Frequency": {
				SettingType:     "numerical",
				Measure:         "frequency",
				DefaultValue:    "21500000000",
				WriteCommand:    "FREQ:CENT",
				QueryCommand:    "FREQ:CENT?",
				ApplicableModes: []string{"Spectrum"},
			},
		},
	})
	require.NoError(t, err)

	ft := newFakeTransport()
	m := New(reg, ft, testLogger())

	assert.Equal(t, Result{true, "Set successful"}, m.SetSetting("Center Frequency", "2000000000"))
	assert.Equal(t, []string{"FREQ:CENT 2000000000"}, ft.writes)

	ft.responses["FREQ:CENT?"] = "2000000000"
	assert.Equal(t, Result{true, "Setting verified"}, m.VerifySetting("Center Frequency"))
}
