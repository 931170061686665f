// Package plugin holds the concrete built-in plugins checker pipelines run,
// and the name-keyed registry the pipeline runner resolves them through.
package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/manytask/checker/pkg/pipeline"
)

// Registry is a name-keyed, concurrency-safe plugin lookup implementing
// pipeline.PluginLookup.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]pipeline.Plugin
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]pipeline.Plugin)}
}

// Register adds a plugin under name, overwriting any existing entry.
func (r *Registry) Register(name string, p pipeline.Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plugins[name] = p
}

// Get implements pipeline.PluginLookup.
func (r *Registry) Get(name string) (pipeline.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[name]

	return p, ok
}

// Names returns every registered plugin name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for n := range r.plugins {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// NewDefaultRegistry returns a Registry with every built-in plugin
// registered under its conventional name.
func NewDefaultRegistry(sb Sandbox) *Registry {
	r := NewRegistry()

	r.Register("runScript", &RunScriptPlugin{})
	r.Register("safeRunScript", &SafeRunScriptPlugin{Sandbox: sb})
	r.Register("checkRegexps", &CheckRegexpsPlugin{})
	r.Register("copyFiles", &CopyFilesPlugin{})
	r.Register("aggregate", &AggregatePlugin{})
	r.Register("runTests", &TestRunnerPlugin{Sandbox: sb})
	r.Register("reportScore", NewReportScorePlugin(nil))

	return r
}

// argError is the common ConfigError raised when a stage's args cannot be
// decoded into a plugin's declared Args shape.
func argError(plugin string, err error) error {
	return fmt.Errorf("plugin %q: invalid arguments: %w", plugin, err)
}
