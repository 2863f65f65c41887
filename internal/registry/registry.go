// Package registry implements the plugin registry: the process-wide mapping
// from plugin name to job body that the manager consumes through a narrow
// List/Resolve/Refresh contract (spec §4.2). The registry is the only seam
// through which new kinds of work enter the system; callers never need to
// know whether a given name came from a statically linked built-in or a
// directory-scanned .so plugin.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sync"

	"github.com/relaygo/hopper/internal/joberrors"
	"github.com/relaygo/hopper/internal/logging"
)

// StatusPublisher is the narrow interface a plugin body uses to report
// progress. internal/statuschannel provides the concrete implementations.
type StatusPublisher interface {
	Update(fields map[string]any) error
}

// Body is a job's work function: given its config and a channel to publish
// status on, it runs to completion or returns an error.
type Body func(config map[string]any, status StatusPublisher) error

// Entry is one registered plugin.
type Entry struct {
	Name string
	Body Body
}

// Registry holds the statically linked built-ins plus anything discovered
// by scanning Dirs for Go plugin (.so) objects.
type Registry struct {
	mu      sync.RWMutex
	static  map[string]Body
	dynamic map[string]Body
	dirs    []string
}

// New creates a registry that scans dirs for .so plugins on Refresh.
func New(dirs []string) *Registry {
	return &Registry{
		static:  make(map[string]Body),
		dynamic: make(map[string]Body),
		dirs:    dirs,
	}
}

// RegisterStatic adds a statically linked plugin. Intended for the
// demonstration plugins in internal/plugins and the remotify system
// plugins; never affected by Refresh.
func (r *Registry) RegisterStatic(name string, body Body) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static[name] = body
}

// List returns every currently registered plugin name, static and dynamic.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.static)+len(r.dynamic))
	for name := range r.static {
		names = append(names, name)
	}
	for name := range r.dynamic {
		names = append(names, name)
	}
	return names
}

// Resolve returns the body for name, or a *pluginNotFoundError wrapping
// ErrNoSuchPlugin.
func (r *Registry) Resolve(name string) (Body, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if body, ok := r.static[name]; ok {
		return body, nil
	}
	if body, ok := r.dynamic[name]; ok {
		return body, nil
	}
	return nil, &pluginNotFoundError{name: name}
}

// pluginNotFoundError carries the human-readable message the HTTP surface
// sends verbatim (spec §6 scenario B) while still matching
// errors.Is(err, joberrors.ErrNoSuchPlugin).
type pluginNotFoundError struct{ name string }

func (e *pluginNotFoundError) Error() string {
	return fmt.Sprintf("Job plugin '%s' does not exist", e.name)
}

func (e *pluginNotFoundError) Unwrap() error { return joberrors.ErrNoSuchPlugin }

// Refresh rescans the configured plugin directories for .so plugins,
// replacing the dynamic set entirely. It is idempotent and its effect is
// observable through List. Refresh never touches the static set.
//
// Each .so is expected to export a symbol "PluginName" (string) and
// "PluginBody" (func(map[string]any, StatusPublisher) error). A plugin
// missing either symbol, or one that fails to open, is logged and skipped
// rather than failing the whole refresh.
func (r *Registry) Refresh() error {
	discovered := make(map[string]Body)

	for _, dir := range r.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read plugin dir %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".so" {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			name, body, err := loadPlugin(path)
			if err != nil {
				logging.Op().Warn("skipping plugin", "path", path, "error", err)
				continue
			}
			discovered[name] = body

			if manifest, err := loadManifest(path); err != nil {
				logging.Op().Warn("ignoring malformed plugin manifest", "path", path, "error", err)
			} else if manifest != nil {
				logging.Op().Info("loaded plugin manifest", "plugin", name, "description", manifest.Description, "config_schema_fields", len(manifest.ConfigSchema))
			}
		}
	}

	r.mu.Lock()
	r.dynamic = discovered
	r.mu.Unlock()

	logging.Op().Info("plugin registry refreshed", "count", len(discovered))
	return nil
}

func loadPlugin(path string) (string, Body, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("open: %w", err)
	}
	nameSym, err := p.Lookup("PluginName")
	if err != nil {
		return "", nil, fmt.Errorf("lookup PluginName: %w", err)
	}
	namePtr, ok := nameSym.(*string)
	if !ok {
		return "", nil, fmt.Errorf("PluginName is not *string")
	}
	bodySym, err := p.Lookup("PluginBody")
	if err != nil {
		return "", nil, fmt.Errorf("lookup PluginBody: %w", err)
	}
	body, ok := bodySym.(func(map[string]any, StatusPublisher) error)
	if !ok {
		return "", nil, fmt.Errorf("PluginBody has unexpected signature")
	}
	return *namePtr, Body(body), nil
}
