package model

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// Transform converts between raw dependency values and an engineering value.
// Both functions must be pure: their result depends only on their arguments.
type Transform struct {
	// Forward computes the link value from one raw value per dependency,
	// in declaration order.
	Forward func(raw []float64) (float64, error)

	// Inverse computes one raw value per dependency from a link value.
	// A NaN entry leaves that dependency untouched. Nil makes the link
	// read-only.
	Inverse func(v float64) ([]float64, error)
}

// LinkConfig describes a derived variable.
type LinkConfig struct {
	Name        string
	Description string
	Units       string
	Disp        string

	// Deps are paths of registers or links, relative to the device holding
	// the link. A leading "/" makes a path absolute and ".." names the parent.
	Deps []string

	Transform Transform
}

// Link is a value derived from registers and other links.
type Link struct {
	name        string
	description string
	units       string
	disp        string

	depPaths  []string
	transform Transform

	device     *Device
	deps       []variable
	dependents []*Link

	mu          sync.Mutex
	value       float64
	valid       bool
	ver         uint64
	depVersions []uint64
}

// variable is a node a link can depend on.
type variable interface {
	Path() string
	load(ctx context.Context) (float64, uint64, error)
	store(ctx context.Context, v float64, write bool) error
	version() uint64
	stale() bool
	addDependent(l *Link)
}

// NewLink validates cfg and returns an unattached link.
func NewLink(cfg LinkConfig) (*Link, error) {
	if cfg.Transform.Forward == nil {
		return nil, fmt.Errorf("link %q: forward transform required", cfg.Name)
	}
	if len(cfg.Deps) == 0 {
		return nil, fmt.Errorf("link %q: at least one dependency required", cfg.Name)
	}
	return &Link{
		name:        cfg.Name,
		description: cfg.Description,
		units:       cfg.Units,
		disp:        cfg.Disp,
		depPaths:    append([]string(nil), cfg.Deps...),
		transform:   cfg.Transform,
	}, nil
}

// MustLink is NewLink for static descriptions; it panics on error.
func MustLink(cfg LinkConfig) *Link {
	l, err := NewLink(cfg)
	if err != nil {
		panic(err)
	}
	return l
}

func (l *Link) Name() string        { return l.name }
func (l *Link) Description() string { return l.description }
func (l *Link) Units() string       { return l.units }
func (l *Link) Disp() string        { return l.disp }
func (l *Link) Device() *Device     { return l.device }

// DepPaths returns the dependency paths as declared.
func (l *Link) DepPaths() []string { return l.depPaths }

// Writable reports whether the link has an inverse transform.
func (l *Link) Writable() bool { return l.transform.Inverse != nil }

// Path returns the slash-separated path from the root.
func (l *Link) Path() string {
	if l.device == nil {
		return l.name
	}
	return joinPath(l.device.Path(), l.name)
}

// Dependents returns the links that list l as a direct dependency.
func (l *Link) Dependents() []*Link { return l.dependents }

// Value returns the cached value and whether it is known.
func (l *Link) Value() (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.valid
}

// Dirty reports whether the cached value is missing or any dependency has
// changed since it was computed.
func (l *Link) Dirty() bool { return l.stale() }

func (l *Link) stale() bool {
	l.mu.Lock()
	valid, seen := l.valid, l.depVersions
	l.mu.Unlock()
	if !valid {
		return true
	}
	for i, d := range l.deps {
		if d.version() != seen[i] || d.stale() {
			return true
		}
	}
	return false
}

// Get returns the cached value when clean. Otherwise it reads every
// dependency, applies the forward transform and caches the result.
func (l *Link) Get(ctx context.Context) (float64, error) {
	if !l.stale() {
		v, _ := l.Value()
		return v, nil
	}
	v, _, err := l.load(ctx)
	return v, err
}

// Refresh recomputes the value from hardware even when the cache is clean.
func (l *Link) Refresh(ctx context.Context) (float64, error) {
	v, _, err := l.load(ctx)
	return v, err
}

func (l *Link) load(ctx context.Context) (float64, uint64, error) {
	if len(l.deps) != len(l.depPaths) {
		return 0, 0, fmt.Errorf("%w: link %q is not part of a space", ErrNotBound, l.name)
	}
	raw := make([]float64, len(l.deps))
	seen := make([]uint64, len(l.deps))
	for i, d := range l.deps {
		var err error
		if raw[i], seen[i], err = d.load(ctx); err != nil {
			return 0, 0, fmt.Errorf("%s: dependency %s: %w", l.Path(), d.Path(), err)
		}
	}
	v, err := l.transform.Forward(raw)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: forward transform: %w", l.Path(), err)
	}
	return v, l.cache(v, seen), nil
}

func (l *Link) cache(v float64, seen []uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.valid || l.value != v {
		l.ver++
	}
	l.value = v
	l.valid = true
	l.depVersions = seen
	return l.ver
}

// Set converts v through the inverse transform and writes each dependency
// in declaration order. The link then caches v without reading back.
func (l *Link) Set(ctx context.Context, v float64) error {
	return l.store(ctx, v, true)
}

// Stage is Set without bus transactions: dependencies are updated in the
// cache and write shadow only.
func (l *Link) Stage(ctx context.Context, v float64) error {
	return l.store(ctx, v, false)
}

func (l *Link) store(ctx context.Context, v float64, write bool) error {
	if l.transform.Inverse == nil {
		return fmt.Errorf("%w: link %s has no inverse transform", ErrUnsupported, l.Path())
	}
	if len(l.deps) != len(l.depPaths) {
		return fmt.Errorf("%w: link %q is not part of a space", ErrNotBound, l.name)
	}
	raw, err := l.transform.Inverse(v)
	if err != nil {
		return fmt.Errorf("%s: inverse transform: %w", l.Path(), err)
	}
	if len(raw) != len(l.deps) {
		return fmt.Errorf("%s: inverse transform returned %d values for %d dependencies",
			l.Path(), len(raw), len(l.deps))
	}
	for i, d := range l.deps {
		if math.IsNaN(raw[i]) {
			continue
		}
		if err := d.store(ctx, raw[i], write); err != nil {
			return fmt.Errorf("%s: dependency %s: %w", l.Path(), d.Path(), err)
		}
	}
	seen := make([]uint64, len(l.deps))
	for i, d := range l.deps {
		seen[i] = d.version()
	}
	l.cache(v, seen)
	return nil
}

func (l *Link) version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ver
}

func (l *Link) addDependent(d *Link) {
	l.dependents = append(l.dependents, d)
}
