package model

import (
	"fmt"
	"strings"
)

// Device is a named window of the address space containing child devices,
// registers and links.
type Device struct {
	name        string
	description string
	size        uint64

	// offset is relative to the parent; address is absolute and set by NewSpace.
	offset  uint64
	address uint64

	parent    *Device
	devices   []*Device
	registers []*Register
	links     []*Link
	names     map[string]struct{}

	frozen bool
}

// NewDevice returns an unattached device spanning size bytes.
func NewDevice(name string, size uint64) *Device {
	return &Device{
		name:  name,
		size:  size,
		names: make(map[string]struct{}),
	}
}

// SetDescription sets a human-readable description and returns d.
func (d *Device) SetDescription(desc string) *Device {
	d.description = desc
	return d
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Description returns the device description.
func (d *Device) Description() string { return d.description }

// Size returns the window size in bytes.
func (d *Device) Size() uint64 { return d.size }

// Offset returns the offset relative to the parent.
func (d *Device) Offset() uint64 { return d.offset }

// Address returns the absolute base address. Valid after NewSpace.
func (d *Device) Address() uint64 { return d.address }

// Parent returns the parent device, or nil for the root.
func (d *Device) Parent() *Device { return d.parent }

// Devices returns the child devices in attach order.
func (d *Device) Devices() []*Device { return d.devices }

// Registers returns the registers in declaration order.
func (d *Device) Registers() []*Register { return d.registers }

// Links returns the links in declaration order.
func (d *Device) Links() []*Link { return d.links }

// Path returns the slash-separated path from the root. The root itself has
// an empty path.
func (d *Device) Path() string {
	if d.parent == nil {
		return ""
	}
	return joinPath(d.parent.Path(), d.name)
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// Attach places child at offset inside parent. It fails with ErrRange when
// the child window does not fit in the parent or overlaps a sibling window.
func Attach(parent, child *Device, offset uint64) error {
	return parent.Attach(child, offset)
}

// Attach places child at offset inside d. See the package-level Attach.
func (d *Device) Attach(child *Device, offset uint64) error {
	if d.frozen {
		return ErrFrozen
	}
	if child.parent != nil {
		return fmt.Errorf("device %q is already attached to %q", child.name, child.parent.name)
	}
	if err := d.claimName(child.name); err != nil {
		return err
	}
	if !fits(offset, child.size, d.size) {
		delete(d.names, child.name)
		return fmt.Errorf("%w: %q [0x%x, 0x%x) exceeds parent %q size 0x%x",
			ErrRange, child.name, offset, offset+child.size, d.name, d.size)
	}
	for _, sib := range d.devices {
		if overlaps(offset, child.size, sib.offset, sib.size) {
			delete(d.names, child.name)
			return fmt.Errorf("%w: %q [0x%x, 0x%x) overlaps %q [0x%x, 0x%x)",
				ErrRange, child.name, offset, offset+child.size, sib.name, sib.offset, sib.offset+sib.size)
		}
	}

	child.offset = offset
	child.parent = d
	d.devices = append(d.devices, child)
	return nil
}

// AddRegister declares r inside d. The register's byte span must lie inside
// the device window; registers may share words with each other.
func (d *Device) AddRegister(r *Register) error {
	if d.frozen {
		return ErrFrozen
	}
	if r.device != nil {
		return fmt.Errorf("register %q already belongs to %q", r.name, r.device.name)
	}
	if !fits(r.offset, uint64(r.spanBytes()), d.size) {
		return fmt.Errorf("%w: register %q at 0x%x exceeds device %q size 0x%x",
			ErrRange, r.name, r.offset, d.name, d.size)
	}
	if err := d.claimName(r.name); err != nil {
		return err
	}
	r.device = d
	d.registers = append(d.registers, r)
	return nil
}

// AddLink declares l inside d. Dependencies are resolved by NewSpace.
func (d *Device) AddLink(l *Link) error {
	if d.frozen {
		return ErrFrozen
	}
	if l.device != nil {
		return fmt.Errorf("link %q already belongs to %q", l.name, l.device.name)
	}
	if err := d.claimName(l.name); err != nil {
		return err
	}
	l.device = d
	d.links = append(d.links, l)
	return nil
}

func (d *Device) claimName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid name %q", name)
	}
	if _, ok := d.names[name]; ok {
		return fmt.Errorf("%w: %q in %q", ErrDuplicate, name, d.name)
	}
	d.names[name] = struct{}{}
	return nil
}

// fits reports whether [offset, offset+size) lies within [0, limit).
func fits(offset, size, limit uint64) bool {
	return size <= limit && offset <= limit-size
}

// overlaps reports whether two non-empty half-open spans intersect.
func overlaps(aOff, aSize, bOff, bSize uint64) bool {
	if aSize == 0 || bSize == 0 {
		return false
	}
	return aOff < bOff+bSize && bOff < aOff+aSize
}
