package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrUnknownDevice = errors.New("unknown device")

// Catalog maps instrument identification strings to device configurations.
type Catalog struct {
	IDNs    map[string]string `json:"Device IDNs" yaml:"Device IDNs"`
	Configs map[string]string `json:"Device Default Configs" yaml:"Device Default Configs"`

	dir string
}

// LoadCatalog reads a catalog file. Relative config paths in it are resolved
// against the directory holding the catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device catalog: %w", err)
	}

	var c Catalog
	if err := decode(path, data, &c); err != nil {
		return nil, fmt.Errorf("parsing device catalog %s: %v", path, err)
	}
	c.dir = filepath.Dir(path)

	return &c, nil
}

// Match finds the device whose IDN prefix is the longest prefix of idn and
// returns its name and configuration path.
func (c *Catalog) Match(idn string) (string, string, error) {
	idn = strings.TrimSpace(idn)

	var best, device string
	for prefix, name := range c.IDNs {
		if strings.HasPrefix(idn, prefix) && len(prefix) > len(best) {
			best, device = prefix, name
		}
	}
	if device == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownDevice, idn)
	}

	path, ok := c.Configs[device]
	if !ok {
		return "", "", fmt.Errorf("%w: no config for %q", ErrUnknownDevice, device)
	}
	if !filepath.IsAbs(path) && c.dir != "" {
		path = filepath.Join(c.dir, path)
	}

	return device, path, nil
}
