package model

import (
	"fmt"
	"path"
	"strings"
	"sync"
)

// Node is a Device, Register or Link.
type Node interface {
	Name() string
	Path() string
	Description() string
}

// Space is a frozen device tree with absolute addresses and resolved link
// dependencies. Structure is immutable; only cached values and accessor
// bindings change at runtime.
type Space struct {
	root *Device

	devices   map[string]*Device
	registers map[string]*Register
	links     map[string]*Link
	order     []Node

	shadow *shadow
	rmw    sync.Mutex

	mu       sync.RWMutex
	bindings map[*Device]Accessor
}

// NewSpace freezes the tree under root, computes absolute addresses,
// resolves link dependencies and rejects dependency cycles with ErrCycle.
func NewSpace(root *Device) (*Space, error) {
	if root.parent != nil {
		return nil, fmt.Errorf("device %q is not a root", root.name)
	}
	if root.frozen {
		return nil, fmt.Errorf("%w: %q already belongs to a space", ErrFrozen, root.name)
	}
	s := &Space{
		root:      root,
		devices:   make(map[string]*Device),
		registers: make(map[string]*Register),
		links:     make(map[string]*Link),
		shadow:    newShadow(),
		bindings:  make(map[*Device]Accessor),
	}
	s.index(root, 0)

	for _, l := range s.linkList() {
		if err := s.resolveDeps(l); err != nil {
			s.unfreeze()
			return nil, err
		}
	}
	if err := s.checkCycles(); err != nil {
		s.unfreeze()
		return nil, err
	}
	return s, nil
}

func (s *Space) index(d *Device, base uint64) {
	d.frozen = true
	d.address = base + d.offset
	s.devices[d.Path()] = d
	if d.parent != nil {
		s.order = append(s.order, d)
	}
	for _, r := range d.registers {
		r.space = s
		r.address = d.address + r.offset
		s.registers[r.Path()] = r
		s.order = append(s.order, r)
	}
	for _, l := range d.links {
		s.links[l.Path()] = l
		s.order = append(s.order, l)
	}
	for _, c := range d.devices {
		s.index(c, d.address)
	}
}

func (s *Space) unfreeze() {
	for _, d := range s.devices {
		d.frozen = false
	}
	for _, r := range s.registers {
		r.space = nil
		r.dependents = nil
	}
	for _, l := range s.links {
		l.deps = nil
		l.dependents = nil
	}
}

func (s *Space) linkList() []*Link {
	var out []*Link
	for _, n := range s.order {
		if l, ok := n.(*Link); ok {
			out = append(out, l)
		}
	}
	return out
}

func (s *Space) resolveDeps(l *Link) error {
	deps := make([]variable, 0, len(l.depPaths))
	for _, p := range l.depPaths {
		abs := absPath(l.device.Path(), p)
		var v variable
		if r, ok := s.registers[abs]; ok {
			v = r
		} else if dl, ok := s.links[abs]; ok {
			v = dl
		} else {
			return fmt.Errorf("%w: dependency %q of link %s", ErrNotFound, p, l.Path())
		}
		deps = append(deps, v)
	}
	l.deps = deps
	for _, d := range deps {
		d.addDependent(l)
	}
	return nil
}

func absPath(base, p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + base + "/" + p
	}
	return strings.TrimPrefix(path.Clean(p), "/")
}

func (s *Space) checkCycles() error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[*Link]int)
	var stack []*Link

	var visit func(l *Link) error
	visit = func(l *Link) error {
		color[l] = grey
		stack = append(stack, l)
		for _, d := range l.deps {
			dl, ok := d.(*Link)
			if !ok {
				continue
			}
			switch color[dl] {
			case grey:
				return fmt.Errorf("%w: %s", ErrCycle, cyclePath(stack, dl))
			case white:
				if err := visit(dl); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[l] = black
		return nil
	}

	for _, l := range s.linkList() {
		if color[l] == white {
			if err := visit(l); err != nil {
				return err
			}
		}
	}
	return nil
}

func cyclePath(stack []*Link, back *Link) string {
	var parts []string
	started := false
	for _, l := range stack {
		if l == back {
			started = true
		}
		if started {
			parts = append(parts, l.Path())
		}
	}
	parts = append(parts, back.Path())
	return strings.Join(parts, " -> ")
}

// Root returns the root device.
func (s *Space) Root() *Device { return s.root }

// Resolve returns the absolute address of the device or register at path.
func (s *Space) Resolve(p string) (uint64, error) {
	p = cleanPath(p)
	if r, ok := s.registers[p]; ok {
		return r.address, nil
	}
	if d, ok := s.devices[p]; ok {
		return d.address, nil
	}
	if _, ok := s.links[p]; ok {
		return 0, fmt.Errorf("%w: %q is a link and has no address", ErrNotFound, p)
	}
	return 0, fmt.Errorf("%w: %q", ErrNotFound, p)
}

// Register returns the register at path.
func (s *Space) Register(p string) (*Register, error) {
	if r, ok := s.registers[cleanPath(p)]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: register %q", ErrNotFound, p)
}

// Link returns the link at path.
func (s *Space) Link(p string) (*Link, error) {
	if l, ok := s.links[cleanPath(p)]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("%w: link %q", ErrNotFound, p)
}

// Device returns the device at path. The empty path is the root.
func (s *Space) Device(p string) (*Device, error) {
	if d, ok := s.devices[cleanPath(p)]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: device %q", ErrNotFound, p)
}

// Node returns whatever lives at path.
func (s *Space) Node(p string) (Node, error) {
	p = cleanPath(p)
	if r, ok := s.registers[p]; ok {
		return r, nil
	}
	if l, ok := s.links[p]; ok {
		return l, nil
	}
	if d, ok := s.devices[p]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, p)
}

// Registers returns every register in tree order.
func (s *Space) Registers() []*Register {
	var out []*Register
	for _, n := range s.order {
		if r, ok := n.(*Register); ok {
			out = append(out, r)
		}
	}
	return out
}

// Links returns every link in tree order.
func (s *Space) Links() []*Link { return s.linkList() }

// Walk calls fn for every node below the root, depth first. A device is
// visited before its registers, then its links, then its children. A
// non-nil error from fn stops the walk and is returned.
func (s *Space) Walk(fn func(n Node) error) error {
	for _, n := range s.order {
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

// Bind routes register traffic for the subtree at path through acc. The
// nearest bound ancestor wins. A nil acc removes the binding.
func (s *Space) Bind(p string, acc Accessor) error {
	d, err := s.Device(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc == nil {
		delete(s.bindings, d)
	} else {
		s.bindings[d] = acc
	}
	return nil
}

func (s *Space) accessorFor(d *Device) Accessor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ; d != nil; d = d.parent {
		if acc, ok := s.bindings[d]; ok {
			return acc
		}
	}
	return nil
}

// AccessorAt returns the accessor serving absolute address addr: the
// binding of the deepest device whose window contains it.
func (s *Space) AccessorAt(addr uint64) (Accessor, error) {
	d := s.root
	for {
		next := (*Device)(nil)
		for _, c := range d.devices {
			if addr >= c.address && addr-c.address < c.size {
				next = c
				break
			}
		}
		if next == nil {
			break
		}
		d = next
	}
	if addr-d.address >= d.size && d.size > 0 {
		return nil, fmt.Errorf("%w: address 0x%x outside the space", ErrRange, addr)
	}
	if acc := s.accessorFor(d); acc != nil {
		return acc, nil
	}
	return nil, fmt.Errorf("%w: address 0x%x", ErrNotBound, addr)
}

func cleanPath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return ""
	}
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
