// Package manager implements the set-then-verify protocol between a settings
// registry and an instrument.
package manager

import (
	"errors"
	"fmt"
	"strings"

	"specan/pkg/registry"
	"specan/pkg/setting"

	log "github.com/sirupsen/logrus"
)

// Status messages reported in a Result.
const (
	StatusUnknown       = "Setting Unknown"
	StatusNotApplicable = "Setting is not applicable"
	StatusInvalidValue  = "Value is not valid for this setting"
	StatusSet           = "Set successful"
	StatusVerified      = "Setting verified"
)

var ErrUnknownMode = errors.New("unknown mode")

// Transport sends SCPI commands to an instrument. Both calls block until the
// instrument has taken the command or answered.
type Transport interface {
	Write(cmd string) error
	Query(cmd string) (string, error)
}

// Result is the outcome of setting or verifying one setting. Status is always
// populated.
type Result struct {
	OK     bool   `json:"ok"`
	Status string `json:"status"`
}

// Manager is not safe for concurrent use. The instrument can only process one
// command sequence at a time, so callers must serialize access.
type Manager struct {
	registry    *registry.Registry
	transport   Transport
	currentMode string
	logger      log.FieldLogger
}

// New returns a Manager in the registry's default mode.
func New(reg *registry.Registry, transport Transport, logger log.FieldLogger) *Manager {
	return &Manager{
		registry:    reg,
		transport:   transport,
		currentMode: reg.DefaultMode(),
		logger:      logger.WithField("component", "manager"),
	}
}

func (m *Manager) Registry() *registry.Registry { return m.registry }

func (m *Manager) CurrentMode() string { return m.currentMode }

// lookup resolves name to a setting usable in the current mode. On failure it
// returns the Result to report.
func (m *Manager) lookup(name string) (setting.Setting, *Result) {
	s, err := m.registry.Get(name)
	if err != nil {
		return nil, &Result{false, StatusUnknown}
	}
	if !s.IsApplicable(m.currentMode) {
		return nil, &Result{false, StatusNotApplicable}
	}
	return s, nil
}

// SetSetting writes value to the named setting. Commands are sent in order
// and the first transport error stops the sequence; commands already sent are
// not rolled back. The cached current value is only updated once every
// command has been written. The device is not read back.
func (m *Manager) SetSetting(name, value string) Result {
	s, res := m.lookup(name)
	if res != nil {
		return *res
	}

	if !s.CheckIfValidValue(value) {
		return Result{false, StatusInvalidValue}
	}

	commands, err := s.GetWriteSCPICommand(value)
	if err != nil {
		return Result{false, StatusInvalidValue}
	}

	for _, cmd := range commands {
		m.logger.Debugf("Write %s: %s", name, cmd)
		if err := m.transport.Write(cmd); err != nil {
			m.logger.Warnf("Error writing %s: %v", name, err)
			return Result{false, fmt.Sprintf("Error writing setting: %v", err)}
		}
	}

	s.SetCurrentValue(value)
	return Result{true, StatusSet}
}

// SetAllSettings attempts every entry and reports each one.
func (m *Manager) SetAllSettings(values map[string]string) map[string]Result {
	results := make(map[string]Result, len(values))
	for name, value := range values {
		results[name] = m.SetSetting(name, value)
	}
	return results
}

// VerifySetting reads the named setting back from the instrument and compares
// it with the cached value. On a mismatch the cache takes the instrument's
// value, so later comparisons are made against what the device reported.
func (m *Manager) VerifySetting(name string) Result {
	s, res := m.lookup(name)
	if res != nil {
		return *res
	}

	cmd := s.GetQuerySCPICommand()
	m.logger.Debugf("Query %s: %s", name, cmd)
	resp, err := m.transport.Query(cmd)
	if err != nil {
		m.logger.Warnf("Error querying %s: %v", name, err)
		return Result{false, fmt.Sprintf("Error querying setting: %v", err)}
	}
	resp = firstLine(resp)

	current := s.CurrentValue()
	if setting.IsNumber(resp) && setting.IsNumber(current) {
		if setting.ValuesClose(current, resp) {
			return Result{true, StatusVerified}
		}
	} else if current == resp {
		return Result{true, StatusVerified}
	}

	m.logger.Infof("%s expected %q, instrument reports %q", name, current, resp)
	s.SetCurrentValue(resp)
	return Result{false, fmt.Sprintf("Setting set incorrect: %s", resp)}
}

// VerifyAllSettings verifies every named setting and reports each one.
func (m *Manager) VerifyAllSettings(names []string) map[string]Result {
	results := make(map[string]Result, len(names))
	for _, name := range names {
		results[name] = m.VerifySetting(name)
	}
	return results
}

// SetMode switches the instrument to mode by replacing the current channel.
// The current mode is updated even if the write fails; the error is returned
// so callers can decide whether to trust it.
func (m *Manager) SetMode(mode string) error {
	token, ok := m.registry.ModeSCPI(mode)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	cmd := fmt.Sprintf("INST:CRE:REPL '%s', %s, '%s'", m.currentMode, token, mode)
	m.logger.Debugf("Switching mode %q -> %q: %s", m.currentMode, mode, cmd)
	err := m.transport.Write(cmd)

	m.currentMode = mode
	if err != nil {
		m.logger.Warnf("Error switching to mode %q: %v", mode, err)
		return fmt.Errorf("switching to mode %q: %w", mode, err)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
