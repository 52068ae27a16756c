// Package resolver expands a root module into the flat list of every
// dependency occurrence, depth-tagged for phase planning.
//
// Expansion is greedy: every occurrence of a dependency is re-resolved
// against the registry, so a module referenced by several parents shows up
// once per reference (the planner deduplicates later). Dependencies are
// looked up in their parent's repository.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/y0rik/pwsh-azure/internal/gallery"
	"github.com/y0rik/pwsh-azure/internal/semver"
)

// DefaultMaxDepth bounds recursion; real module graphs are a handful of
// levels deep, so hitting this means a cycle the path check missed.
const DefaultMaxDepth = 64

// Registry is the module lookup collaborator (see internal/gallery).
type Registry interface {
	FindModule(ctx context.Context, name, repository, exactVersion string) (gallery.ModuleDescriptor, error)
}

// Entry is one node occurrence in the expanded dependency tree.
type Entry struct {
	Module gallery.ModuleDescriptor
	Depth  int
}

// Resolver expands dependency trees against a registry.
type Resolver struct {
	registry Registry
	maxDepth int
}

// New creates a resolver with the default depth bound.
func New(registry Registry) *Resolver {
	return &Resolver{registry: registry, maxDepth: DefaultMaxDepth}
}

// pathKey identifies a module on the current recursion path. Lookups are
// case-insensitive, matching gallery behavior.
type pathKey struct {
	name       string
	repository string
}

// Resolve expands the root module and all transitive dependencies into
// pre-order entries. The constraint applies to the root only; dependency
// constraints come from the registry metadata.
//
// Any minimum-version violation aborts the whole resolution with
// VersionTooLowError: continuing would plan an install known to be missing
// a dependency.
func (r *Resolver) Resolve(ctx context.Context, name, repository string, constraint gallery.DependencySpec) ([]Entry, error) {
	return r.resolve(ctx, name, repository, constraint, 0, nil)
}

func (r *Resolver) resolve(ctx context.Context, name, repository string, constraint gallery.DependencySpec, depth int, path []pathKey) ([]Entry, error) {
	if depth > r.maxDepth {
		return nil, &CyclicDependencyError{Name: name, Repository: repository, Path: pathNames(path)}
	}

	key := pathKey{name: strings.ToLower(name), repository: repository}
	for _, p := range path {
		if p == key {
			return nil, &CyclicDependencyError{Name: name, Repository: repository, Path: pathNames(path)}
		}
	}

	exact := ""
	if constraint.Kind == gallery.ConstraintExact {
		exact = constraint.Version
	}

	desc, err := r.registry.FindModule(ctx, name, repository, exact)
	if err != nil {
		return nil, fmt.Errorf("resolve %s at depth %d: %w", name, depth, err)
	}

	if constraint.Kind == gallery.ConstraintMinimum {
		if err := checkMinimum(desc, constraint.Version); err != nil {
			return nil, err
		}
	}

	entries := []Entry{{Module: desc, Depth: depth}}
	for _, dep := range desc.Dependencies {
		sub, err := r.resolve(ctx, dep.Name, repository, dep, depth+1, append(path, key))
		if err != nil {
			return nil, err
		}
		entries = append(entries, sub...)
	}
	return entries, nil
}

// checkMinimum verifies the registry's chosen version satisfies the floor.
// Unparseable versions fail the check rather than sneaking past it.
func checkMinimum(desc gallery.ModuleDescriptor, minimum string) error {
	got, err := semver.Parse(desc.Version)
	if err != nil {
		return &VersionTooLowError{Name: desc.Name, Minimum: minimum, Resolved: desc.Version}
	}
	want, err := semver.Parse(minimum)
	if err != nil {
		return fmt.Errorf("resolve %s: bad minimum version %q: %w", desc.Name, minimum, err)
	}
	if !semver.GTE(got, want) {
		return &VersionTooLowError{Name: desc.Name, Minimum: minimum, Resolved: desc.Version}
	}
	return nil
}

func pathNames(path []pathKey) []string {
	names := make([]string, len(path))
	for i, p := range path {
		names[i] = p.name
	}
	return names
}
