// Package instrument drives a single spectrum analyzer: it owns the
// connection, the settings registry built for the identified device and the
// manager that sets and verifies settings on it.
package instrument

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"specan/pkg/manager"
	"specan/pkg/registry"
	"specan/pkg/scpi"
	"specan/pkg/setting"

	log "github.com/sirupsen/logrus"
)

var (
	ErrNotConnected     = errors.New("instrument not connected")
	ErrAlreadyConnected = errors.New("instrument already connected")
	ErrNoConfig         = errors.New("no device configuration")
)

type connState int32

const (
	connStateDisconnected connState = iota
	connStateConnecting
	connStateConnected
)

// Transport is a connection to an instrument.
type Transport interface {
	manager.Transport
	QueryBlock(cmd string) ([]byte, error)
	Identify() (string, error)
	Close() error
}

// DialFunc opens a Transport to address.
type DialFunc func(address string, timeout time.Duration, logger log.FieldLogger) (Transport, error)

// DialSCPI dials a raw socket SCPI connection.
func DialSCPI(address string, timeout time.Duration, logger log.FieldLogger) (Transport, error) {
	c, err := scpi.Dial(address, timeout, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type Options struct {
	Address string
	Timeout time.Duration

	// ConfigPath forces a device configuration. When empty the configuration
	// is looked up in Catalog by the instrument's *IDN? answer.
	ConfigPath string
	Catalog    *registry.Catalog

	// Reset sends *RST after connecting so the instrument matches the
	// configuration defaults.
	Reset bool

	Dial     DialFunc
	Presets  PresetStore
	Notifier Notifier
}

// Info describes the driver and the connected device.
type Info struct {
	Address    string   `json:"address"`
	Connected  bool     `json:"connected"`
	Connecting bool     `json:"connecting"`
	Identity   string   `json:"identity,omitempty"`
	DeviceName string   `json:"deviceName,omitempty"`
	Mode       string   `json:"mode,omitempty"`
	Modes      []string `json:"modes,omitempty"`
}

// SettingState is the cached view of one setting.
type SettingState struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Measure    string   `json:"measure"`
	Value      string   `json:"value"`
	Default    string   `json:"default"`
	Modes      []string `json:"modes"`
	Applicable bool     `json:"applicable"`
	Writable   bool     `json:"writable"`
	Options    []string `json:"options,omitempty"`
}

// ApplyResult combines the set and verify outcome of one setting.
type ApplyResult struct {
	OK     bool           `json:"ok"`
	Status string         `json:"status"`
	Value  string         `json:"value"`
	Set    manager.Result `json:"set"`
	Verify manager.Result `json:"verify"`
}

const StatusApplied = "Set correctly and verified"

// Driver serializes every command sequence sent to the instrument.
type Driver struct {
	opts   Options
	logger log.FieldLogger
	state  atomic.Int32

	mu        sync.Mutex
	transport Transport
	manager   *manager.Manager
	identity  string
}

func NewDriver(opts Options, logger log.FieldLogger) *Driver {
	if opts.Dial == nil {
		opts.Dial = DialSCPI
	}
	if opts.Timeout <= 0 {
		opts.Timeout = scpi.DefaultTimeout
	}

	d := Driver{
		opts:   opts,
		logger: logger.WithField("component", "instrument"),
	}
	return &d
}

func (d *Driver) Connecting() bool {
	return connState(d.state.Load()) == connStateConnecting
}

func (d *Driver) Connected() bool {
	return connState(d.state.Load()) == connStateConnected
}

// Connect dials the instrument, identifies it and builds the settings
// registry for its configuration.
func (d *Driver) Connect() error {
	if !d.state.CompareAndSwap(int32(connStateDisconnected), int32(connStateConnecting)) {
		return ErrAlreadyConnected
	}

	d.mu.Lock()
	err := d.connectLocked()
	var mode, idn string
	if err != nil {
		d.state.Store(int32(connStateDisconnected))
	} else {
		d.state.Store(int32(connStateConnected))
		mode, idn = d.manager.CurrentMode(), d.identity
	}
	d.mu.Unlock()

	if err != nil {
		return err
	}

	d.logger.Infof("Connected to %s (%s)", d.opts.Address, idn)
	d.notify(Event{Type: EventConnection, Mode: mode, OK: true, Status: "connected"})
	return nil
}

func (d *Driver) connectLocked() error {
	t, err := d.opts.Dial(d.opts.Address, d.opts.Timeout, d.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to instrument: %w", err)
	}

	idn, err := t.Identify()
	if err != nil {
		t.Close()
		return fmt.Errorf("failed to identify instrument: %w", err)
	}

	cfg, err := d.resolveConfig(idn)
	if err != nil {
		t.Close()
		return err
	}

	reg, err := registry.New(cfg)
	if err != nil {
		t.Close()
		return err
	}

	if d.opts.Reset {
		if err := t.Write("*RST"); err != nil {
			t.Close()
			return fmt.Errorf("failed to reset instrument: %w", err)
		}
	}

	d.transport = t
	d.identity = idn
	d.manager = manager.New(reg, t, d.logger)
	return nil
}

func (d *Driver) resolveConfig(idn string) (registry.DeviceConfig, error) {
	path := d.opts.ConfigPath
	if path == "" {
		if d.opts.Catalog == nil {
			return registry.DeviceConfig{}, ErrNoConfig
		}
		device, p, err := d.opts.Catalog.Match(idn)
		if err != nil {
			return registry.DeviceConfig{}, err
		}
		d.logger.Infof("Identified %s", device)
		path = p
	}

	d.logger.Debugf("Loading device configuration %s", path)
	return registry.LoadConfig(path)
}

func (d *Driver) Disconnect() error {
	if !d.Connected() {
		return ErrNotConnected
	}

	d.mu.Lock()
	if d.transport == nil {
		d.mu.Unlock()
		return ErrNotConnected
	}
	err := d.transport.Close()
	d.transport = nil
	d.manager = nil
	d.identity = ""
	d.state.Store(int32(connStateDisconnected))
	d.mu.Unlock()

	d.logger.Infof("Disconnected from %s", d.opts.Address)
	d.notify(Event{Type: EventConnection, OK: true, Status: "disconnected"})
	return err
}

func (d *Driver) Close() {
	d.logger.Info("Closing instrument driver")

	if !d.Connected() {
		return
	}
	if err := d.Disconnect(); err != nil {
		d.logger.Errorf("failed to disconnect: %v", err)
	}
}

func (d *Driver) Info() Info {
	info := Info{
		Address:    d.opts.Address,
		Connected:  d.Connected(),
		Connecting: d.Connecting(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.manager != nil {
		reg := d.manager.Registry()
		info.Identity = d.identity
		info.DeviceName = reg.DeviceName()
		info.Mode = d.manager.CurrentMode()
		info.Modes = reg.Modes()
	}
	return info
}

// Snapshot returns the cached state of every setting, sorted by name.
func (d *Driver) Snapshot() ([]SettingState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.manager == nil {
		return nil, ErrNotConnected
	}

	reg := d.manager.Registry()
	mode := d.manager.CurrentMode()
	states := make([]SettingState, 0, len(reg.Names()))
	for _, name := range reg.Names() {
		s, err := reg.Get(name)
		if err != nil {
			return nil, err
		}
		states = append(states, SettingState{
			Name:       name,
			Kind:       string(s.Kind()),
			Measure:    string(s.Measure()),
			Value:      s.CurrentValue(),
			Default:    s.DefaultValue(),
			Modes:      s.ApplicableModes(),
			Applicable: s.IsApplicable(mode),
			Writable:   s.Kind() != setting.KindDisplay,
			Options:    s.Options(mode),
		})
	}
	return states, nil
}

// SetSettings writes every value and reports each setting.
func (d *Driver) SetSettings(values map[string]string) (map[string]manager.Result, error) {
	d.mu.Lock()
	if d.manager == nil {
		d.mu.Unlock()
		return nil, ErrNotConnected
	}
	results := d.manager.SetAllSettings(values)
	events := resultEvents(EventSet, results, d.manager)
	d.mu.Unlock()

	d.notify(events...)
	return results, nil
}

// VerifySettings reads back the named settings. With no names every setting
// applicable in the current mode is verified.
func (d *Driver) VerifySettings(names []string) (map[string]manager.Result, error) {
	d.mu.Lock()
	if d.manager == nil {
		d.mu.Unlock()
		return nil, ErrNotConnected
	}
	if len(names) == 0 {
		names = d.applicableLocked()
	}
	results := d.manager.VerifyAllSettings(names)
	events := resultEvents(EventVerify, results, d.manager)
	d.mu.Unlock()

	d.notify(events...)
	return results, nil
}

// Apply sets every value and then verifies the same settings.
func (d *Driver) Apply(values map[string]string) (map[string]ApplyResult, error) {
	d.mu.Lock()
	if d.manager == nil {
		d.mu.Unlock()
		return nil, ErrNotConnected
	}
	results, events := d.applyLocked(values)
	d.mu.Unlock()

	d.notify(events...)
	return results, nil
}

func (d *Driver) applyLocked(values map[string]string) (map[string]ApplyResult, []Event) {
	set := d.manager.SetAllSettings(values)
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	verify := d.manager.VerifyAllSettings(names)

	events := append(resultEvents(EventSet, set, d.manager), resultEvents(EventVerify, verify, d.manager)...)

	reg := d.manager.Registry()
	results := make(map[string]ApplyResult, len(values))
	for _, name := range names {
		r := ApplyResult{Set: set[name], Verify: verify[name]}
		if s, err := reg.Get(name); err == nil {
			r.Value = s.CurrentValue()
		}
		if r.Set.OK && r.Verify.OK {
			r.OK = true
			r.Status = StatusApplied
		} else {
			r.Status = fmt.Sprintf("Verify status: %s, Set status: %s", r.Verify.Status, r.Set.Status)
		}
		results[name] = r
	}
	return results, events
}

// SetMode switches the instrument to another measurement mode.
func (d *Driver) SetMode(mode string) error {
	d.mu.Lock()
	if d.manager == nil {
		d.mu.Unlock()
		return ErrNotConnected
	}
	before := d.manager.CurrentMode()
	err := d.manager.SetMode(mode)
	after := d.manager.CurrentMode()
	d.mu.Unlock()

	if before == after && err != nil {
		return err
	}
	e := Event{Type: EventMode, Mode: after, OK: err == nil}
	if err != nil {
		e.Status = err.Error()
	}
	d.notify(e)
	return err
}

// Abort stops the running measurement.
func (d *Driver) Abort() error {
	return d.write("ABOR")
}

// Sweep starts a single sweep and waits for it to complete.
func (d *Driver) Sweep() error {
	return d.write("INIT:IMM;*WAI")
}

func (d *Driver) write(cmd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transport == nil {
		return ErrNotConnected
	}
	d.logger.Debugf("Write: %s", cmd)
	return d.transport.Write(cmd)
}

func (d *Driver) applicableLocked() []string {
	reg := d.manager.Registry()
	mode := d.manager.CurrentMode()

	var names []string
	for _, name := range reg.Names() {
		if s, err := reg.Get(name); err == nil && s.IsApplicable(mode) {
			names = append(names, name)
		}
	}
	return names
}

func (d *Driver) notify(events ...Event) {
	if d.opts.Notifier == nil {
		return
	}
	for _, e := range events {
		if e.Time.IsZero() {
			e.Time = time.Now().UTC()
		}
		d.opts.Notifier.Notify(e)
	}
}

func resultEvents(typ EventType, results map[string]manager.Result, m *manager.Manager) []Event {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	reg := m.Registry()
	events := make([]Event, 0, len(names))
	for _, name := range names {
		e := Event{
			Type:    typ,
			Setting: name,
			Mode:    m.CurrentMode(),
			OK:      results[name].OK,
			Status:  results[name].Status,
		}
		if s, err := reg.Get(name); err == nil {
			e.Value = s.CurrentValue()
		}
		events = append(events, e)
	}
	return events
}
