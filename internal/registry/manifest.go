package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the optional declarative sidecar next to a .so plugin,
// describing it for operators without requiring them to read the plugin's
// source (spec §11, extending the teacher's yaml-manifest idiom from
// function specs to plugins).
type Manifest struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	ConfigSchema map[string]string `yaml:"config_schema"`
}

// loadManifest reads "<name>.yaml" next to a .so plugin at soPath, if it
// exists. A missing manifest is not an error; plugins without one are
// simply undocumented.
func loadManifest(soPath string) (*Manifest, error) {
	manifestPath := strings.TrimSuffix(soPath, filepath.Ext(soPath)) + ".yaml"
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest %s: %w", manifestPath, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", manifestPath, err)
	}
	return &m, nil
}
