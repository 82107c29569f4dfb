package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/regbus/regbus-go/pkg/model"
)

// Description is the YAML form of a device tree.
type Description struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Size        uint64 `yaml:"size"`

	// Offset places the device inside its parent. Ignored for the root.
	Offset uint64 `yaml:"offset"`

	// Count replicates the device as Name[0] .. Name[Count-1], Stride bytes
	// apart. Stride defaults to Size.
	Count  int    `yaml:"count"`
	Stride uint64 `yaml:"stride"`

	Registers []RegisterDesc `yaml:"registers"`
	Links     []LinkDesc     `yaml:"links"`
	Devices   []Description  `yaml:"devices"`
}

// RegisterDesc describes one register.
type RegisterDesc struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Units       string `yaml:"units"`
	Disp        string `yaml:"disp"`
	Offset      uint64 `yaml:"offset"`
	BitOffset   uint   `yaml:"bitOffset"`
	BitSize     uint   `yaml:"bitSize"`
	Mode        string `yaml:"mode"` // "RW", "RO", "WO"
	Base        string `yaml:"base"` // "uint", "bool"
}

// LinkDesc describes one derived variable.
type LinkDesc struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Units       string        `yaml:"units"`
	Disp        string        `yaml:"disp"`
	Deps        []string      `yaml:"deps"`
	Transform   TransformDesc `yaml:"transform"`
}

// TransformDesc selects a transform.
type TransformDesc struct {
	// Kind is "identity", "linear", "polynomial" or "combine".
	Kind   string    `yaml:"kind"`
	Scale  float64   `yaml:"scale"`
	Offset float64   `yaml:"offset"`
	Coeffs []float64 `yaml:"coeffs"`
	Widths []uint    `yaml:"widths"`

	// ReadOnly drops the inverse.
	ReadOnly bool `yaml:"readOnly"`
}

// ParseDescription decodes a YAML description and builds its address space.
func ParseDescription(data []byte) (*model.Space, error) {
	var d Description
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	root, err := d.Build()
	if err != nil {
		return nil, &LoadError{Message: "invalid description", Cause: err}
	}
	space, err := model.NewSpace(root)
	if err != nil {
		return nil, &LoadError{Message: "invalid description", Cause: err}
	}
	return space, nil
}

// LoadDescription reads a YAML description file.
func LoadDescription(path string) (*model.Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	space, err := ParseDescription(data)
	if err != nil {
		return nil, withFile(path, err)
	}
	return space, nil
}

// Build constructs the device tree. The root's Count and Offset are
// ignored.
func (d Description) Build() (*model.Device, error) {
	if d.Name == "" {
		return nil, errors.New("device name is required")
	}
	return d.build(d.Name)
}

func (d Description) build(name string) (*model.Device, error) {
	dev := model.NewDevice(name, d.Size).SetDescription(d.Description)

	for _, rd := range d.Registers {
		r, err := rd.build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := dev.AddRegister(r); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	for _, ld := range d.Links {
		l, err := ld.build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := dev.AddLink(l); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	for _, cd := range d.Devices {
		if err := cd.attachTo(dev); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return dev, nil
}

func (d Description) attachTo(parent *model.Device) error {
	if d.Name == "" {
		return errors.New("device name is required")
	}
	if d.Count == 0 {
		child, err := d.build(d.Name)
		if err != nil {
			return err
		}
		return parent.Attach(child, d.Offset)
	}
	stride := d.Stride
	if stride == 0 {
		stride = d.Size
	}
	for i := range d.Count {
		child, err := d.build(fmt.Sprintf("%s[%d]", d.Name, i))
		if err != nil {
			return err
		}
		if err := parent.Attach(child, d.Offset+uint64(i)*stride); err != nil {
			return err
		}
	}
	return nil
}

func (rd RegisterDesc) build() (*model.Register, error) {
	mode, err := model.ParseMode(rd.Mode)
	if err != nil {
		return nil, fmt.Errorf("register %q: %w", rd.Name, err)
	}
	base, err := model.ParseBase(rd.Base)
	if err != nil {
		return nil, fmt.Errorf("register %q: %w", rd.Name, err)
	}
	return model.NewRegister(model.RegisterConfig{
		Name:        rd.Name,
		Description: rd.Description,
		Units:       rd.Units,
		Disp:        rd.Disp,
		Offset:      rd.Offset,
		BitOffset:   rd.BitOffset,
		BitSize:     rd.BitSize,
		Mode:        mode,
		Base:        base,
	})
}

func (ld LinkDesc) build() (*model.Link, error) {
	t, err := ld.Transform.build()
	if err != nil {
		return nil, fmt.Errorf("link %q: %w", ld.Name, err)
	}
	return model.NewLink(model.LinkConfig{
		Name:        ld.Name,
		Description: ld.Description,
		Units:       ld.Units,
		Disp:        ld.Disp,
		Deps:        ld.Deps,
		Transform:   t,
	})
}

func (td TransformDesc) build() (model.Transform, error) {
	var t model.Transform
	switch td.Kind {
	case "", "identity":
		t = model.Linear(1, 0)
	case "linear":
		if td.Scale == 0 {
			return t, errors.New("linear transform needs a non-zero scale")
		}
		t = model.Linear(td.Scale, td.Offset)
	case "polynomial":
		if len(td.Coeffs) == 0 {
			return t, errors.New("polynomial transform needs coefficients")
		}
		t = model.Polynomial(td.Coeffs...)
	case "combine":
		if len(td.Widths) == 0 {
			return t, errors.New("combine transform needs widths")
		}
		t = model.Combine(td.Widths...)
	default:
		return t, fmt.Errorf("unknown transform %q", td.Kind)
	}
	if td.ReadOnly {
		t.Inverse = nil
	}
	return t, nil
}
