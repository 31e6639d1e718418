package instrument

import (
	"errors"
	"fmt"

	"specan/pkg/manager"
	"specan/pkg/setting"
	"specan/pkg/store"
)

var (
	ErrNoPresetStore = errors.New("no preset store configured")
	ErrPresetDevice  = errors.New("preset was saved for another device")
)

// PresetStore persists presets by name.
type PresetStore interface {
	SavePreset(p store.Preset) error
	GetPreset(name string) (store.Preset, error)
}

// SavePreset captures the current mode and the cached value of every writable
// setting applicable in it.
func (d *Driver) SavePreset(name string) (store.Preset, error) {
	if d.opts.Presets == nil {
		return store.Preset{}, ErrNoPresetStore
	}

	d.mu.Lock()
	if d.manager == nil {
		d.mu.Unlock()
		return store.Preset{}, ErrNotConnected
	}
	reg := d.manager.Registry()
	p := store.Preset{
		Name:   name,
		Device: reg.DeviceName(),
		Mode:   d.manager.CurrentMode(),
		Values: make(map[string]string),
	}
	for _, n := range d.applicableLocked() {
		s, err := reg.Get(n)
		if err != nil || s.Kind() == setting.KindDisplay {
			continue
		}
		p.Values[n] = s.CurrentValue()
	}
	d.mu.Unlock()

	if err := d.opts.Presets.SavePreset(p); err != nil {
		return store.Preset{}, fmt.Errorf("failed to save preset %q: %w", name, err)
	}
	d.logger.Infof("Saved preset %q in mode %q", name, p.Mode)
	return p, nil
}

// LoadPreset switches to the preset's mode when needed, then sets and
// verifies all of its values. A preset saved for another device is refused
// before anything is written.
func (d *Driver) LoadPreset(name string) (map[string]ApplyResult, error) {
	if d.opts.Presets == nil {
		return nil, ErrNoPresetStore
	}

	p, err := d.opts.Presets.GetPreset(name)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.manager == nil {
		d.mu.Unlock()
		return nil, ErrNotConnected
	}
	if device := d.manager.Registry().DeviceName(); p.Device != "" && p.Device != device {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %q is for %s, connected to %s", ErrPresetDevice, name, p.Device, device)
	}

	var events []Event
	if p.Mode != "" && p.Mode != d.manager.CurrentMode() {
		err := d.manager.SetMode(p.Mode)
		if errors.Is(err, manager.ErrUnknownMode) {
			d.mu.Unlock()
			return nil, err
		}
		e := Event{Type: EventMode, Mode: d.manager.CurrentMode(), OK: err == nil}
		if err != nil {
			e.Status = err.Error()
		}
		events = append(events, e)
	}

	results, applied := d.applyLocked(p.Values)
	d.mu.Unlock()

	d.notify(append(events, applied...)...)
	d.logger.Infof("Loaded preset %q", name)
	return results, nil
}
