package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/geoai/stackctl/internal/envpath"
	"github.com/geoai/stackctl/internal/logger"
	"github.com/geoai/stackctl/internal/readiness"
	"github.com/geoai/stackctl/internal/stopper"
)

// ErrConfig marks definition-level problems: duplicate names, unknown
// dependencies, cycles. These are fatal before any process is spawned.
var ErrConfig = errors.New("invalid service configuration")

// Definition declares one manageable service. Definitions are loaded once at
// startup and never mutated afterwards.
type Definition struct {
	Name              string                 `json:"name" mapstructure:"name"`
	Command           string                 `json:"command" mapstructure:"command"`
	Args              []string               `json:"args" mapstructure:"args"`
	WorkDir           string                 `json:"workdir" mapstructure:"workdir"`
	Env               []string               `json:"env" mapstructure:"env"`
	EnvFallback       []envpath.FallbackSpec `json:"env_fallback" mapstructure:"env_fallback"`
	DependsOn         []string               `json:"depends_on" mapstructure:"depends_on"`
	Readiness         readiness.Spec         `json:"readiness" mapstructure:"readiness"`
	Stop              stopper.Spec           `json:"stop" mapstructure:"stop"`
	ExternallyManaged bool                   `json:"externally_managed" mapstructure:"externally_managed"`
	Log               *logger.SinkConfig     `json:"log" mapstructure:"log"`
}

// Validate checks a single definition in isolation.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: service requires name", ErrConfig)
	}
	if !d.ExternallyManaged && strings.TrimSpace(d.Command) == "" {
		return fmt.Errorf("%w: service %s requires command", ErrConfig, d.Name)
	}
	for i := range d.EnvFallback {
		if err := d.EnvFallback[i].Validate(); err != nil {
			return fmt.Errorf("%w: service %s: %v", ErrConfig, d.Name, err)
		}
	}
	if err := d.Readiness.Validate(); err != nil {
		return fmt.Errorf("%w: service %s: %v", ErrConfig, d.Name, err)
	}
	if err := d.Stop.Validate(); err != nil {
		return fmt.Errorf("%w: service %s: %v", ErrConfig, d.Name, err)
	}
	return nil
}

// Registry holds the immutable set of service definitions and their
// dependency graph. Construction validates uniqueness, referential
// integrity, and acyclicity; a Registry that exists is safe to start from.
type Registry struct {
	defs  []Definition
	index map[string]int
	order []string // topological, dependencies first
}

// New builds a Registry from defs. Fails with ErrConfig on duplicate names,
// unknown dependsOn references, self-dependencies, or cycles.
func New(defs []Definition) (*Registry, error) {
	index := make(map[string]int, len(defs))
	for i := range defs {
		if err := defs[i].Validate(); err != nil {
			return nil, err
		}
		name := defs[i].Name
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("%w: duplicate service name %q", ErrConfig, name)
		}
		index[name] = i
	}
	for i := range defs {
		for _, dep := range defs[i].DependsOn {
			if dep == defs[i].Name {
				return nil, fmt.Errorf("%w: service %q depends on itself", ErrConfig, dep)
			}
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("%w: service %q depends on unknown service %q", ErrConfig, defs[i].Name, dep)
			}
		}
	}
	r := &Registry{defs: append([]Definition(nil), defs...), index: index}
	order, err := r.topoSort()
	if err != nil {
		return nil, err
	}
	r.order = order
	return r, nil
}

// topoSort returns service names with all dependencies before their
// dependents. Ties are broken alphabetically so the order is deterministic
// for a given config.
func (r *Registry) topoSort() ([]string, error) {
	indeg := make(map[string]int, len(r.defs))
	dependents := make(map[string][]string, len(r.defs))
	for i := range r.defs {
		name := r.defs[i].Name
		indeg[name] += 0
		for _, dep := range r.defs[i].DependsOn {
			indeg[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}
	var ready []string
	for name, d := range indeg {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(r.defs))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		released := false
		for _, dep := range dependents[name] {
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = append(ready, dep)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}
	if len(order) != len(r.defs) {
		var stuck []string
		for name, d := range indeg {
			if d > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: dependency cycle involving %s", ErrConfig, strings.Join(stuck, ", "))
	}
	return order, nil
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Definition, bool) {
	i, ok := r.index[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// Names returns all service names in topological start order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// StartOrder returns the definitions in topological start order, optionally
// restricted to only (plus nothing else; dependencies of a selected service
// are NOT implicitly added; the operator asked for exactly these).
func (r *Registry) StartOrder(only []string) ([]Definition, error) {
	selected, err := r.selection(only)
	if err != nil {
		return nil, err
	}
	out := make([]Definition, 0, len(selected))
	for _, name := range r.order {
		if _, ok := selected[name]; ok {
			out = append(out, r.defs[r.index[name]])
		}
	}
	return out, nil
}

// StopOrder returns definitions in reverse topological order, restricted to
// only when non-empty.
func (r *Registry) StopOrder(only []string) ([]Definition, error) {
	fwd, err := r.StartOrder(only)
	if err != nil {
		return nil, err
	}
	out := make([]Definition, len(fwd))
	for i := range fwd {
		out[len(fwd)-1-i] = fwd[i]
	}
	return out, nil
}

// Dependents returns the names of services that (transitively) depend on
// name. Used to fail dependents of a failed service without spawning them.
func (r *Registry) Dependents(name string) []string {
	direct := make(map[string][]string, len(r.defs))
	for i := range r.defs {
		for _, dep := range r.defs[i].DependsOn {
			direct[dep] = append(direct[dep], r.defs[i].Name)
		}
	}
	seen := map[string]bool{}
	var walk func(string)
	walk = func(n string) {
		for _, d := range direct[n] {
			if !seen[d] {
				seen[d] = true
				walk(d)
			}
		}
	}
	walk(name)
	out := make([]string, 0, len(seen))
	for _, n := range r.order {
		if seen[n] {
			out = append(out, n)
		}
	}
	return out
}

// Edges returns every dependency edge as [from, to] pairs (dependency ->
// dependent), in deterministic order. Used by the graph command and the
// status observer.
func (r *Registry) Edges() [][2]string {
	var edges [][2]string
	for _, name := range r.order {
		def := r.defs[r.index[name]]
		deps := append([]string(nil), def.DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			edges = append(edges, [2]string{dep, name})
		}
	}
	return edges
}

func (r *Registry) selection(only []string) (map[string]struct{}, error) {
	selected := make(map[string]struct{}, len(r.defs))
	if len(only) == 0 {
		for _, n := range r.order {
			selected[n] = struct{}{}
		}
		return selected, nil
	}
	for _, name := range only {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := r.index[name]; !ok {
			return nil, fmt.Errorf("%w: unknown service %q", ErrConfig, name)
		}
		selected[name] = struct{}{}
	}
	return selected, nil
}

// IsConfigError reports whether err is a definition-level problem.
func IsConfigError(err error) bool { return errors.Is(err, ErrConfig) }
