// Package store keeps named setting presets in a bbolt database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const bucket = "presets"

var ErrPresetNotFound = errors.New("preset not found")

// Preset is a saved instrument state: the mode it was captured in and the
// value of every writable setting applicable in that mode.
type Preset struct {
	Name    string            `json:"name"`
	Device  string            `json:"device,omitempty"`
	Mode    string            `json:"mode"`
	Values  map[string]string `json:"values"`
	Created time.Time         `json:"created"`
}

type Store struct {
	db     *bolt.DB
	logger log.FieldLogger
}

// New creates the presets bucket if it does not exist yet.
func New(db *bolt.DB, logger log.FieldLogger) (*Store, error) {
	st := Store{
		db:     db,
		logger: logger.WithField("component", "store"),
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %v", bucket, err)
	}
	return &st, nil
}

// SavePreset stores p under its name, replacing any preset with that name.
func (s *Store) SavePreset(p Preset) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return errors.New("preset name is empty")
	}
	p.Name = name
	if p.Created.IsZero() {
		p.Created = time.Now().UTC()
	}

	value, err := json.Marshal(p)
	if err != nil {
		return err
	}

	s.logger.Debugf("Saving preset %q (%d values)", name, len(p.Values))
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(name), value)
	})
}

func (s *Store) GetPreset(name string) (Preset, error) {
	var p Preset

	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(bucket)).Get([]byte(name))
		if value == nil {
			return fmt.Errorf("%w: %s", ErrPresetNotFound, name)
		}
		return json.Unmarshal(value, &p)
	})

	return p, err
}

// ListPresets returns the names of all stored presets in lexical order.
func (s *Store) ListPresets() ([]string, error) {
	var names []string

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	sort.Strings(names)

	return names, err
}

func (s *Store) DeletePreset(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b.Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %s", ErrPresetNotFound, name)
		}
		s.logger.Debugf("Deleting preset %q", name)
		return b.Delete([]byte(name))
	})
}
