package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// state is the persisted enable map. A plugin absent from the map is
// enabled.
type state struct {
	Plugins map[string]bool `json:"plugins"`
}

func (r *Registry) loadState() state {
	s := state{Plugins: map[string]bool{}}
	data, err := os.ReadFile(r.statePath)
	if err != nil {
		return s
	}
	var loaded state
	if err := json.Unmarshal(data, &loaded); err != nil || loaded.Plugins == nil {
		return s
	}
	return loaded
}

func (r *Registry) saveState(s state) error {
	if err := os.MkdirAll(filepath.Dir(r.statePath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.statePath, data, 0o644)
}

// Enabled reports whether name may run. Unknown plugins default to
// enabled.
func (r *Registry) Enabled(name string) bool {
	enabled, ok := r.loadState().Plugins[name]
	if !ok {
		return true
	}
	return enabled
}

// SetEnabled flips the persisted enable flag for name.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	s := r.loadState()
	s.Plugins[name] = enabled
	return r.saveState(s)
}

// States returns the explicit enable flags currently persisted.
func (r *Registry) States() map[string]bool {
	return r.loadState().Plugins
}
