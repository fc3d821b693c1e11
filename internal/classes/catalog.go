// Package classes holds the land-cover class catalog used to label
// segmentation results and draw the legend.
package classes

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInvalidCatalog is returned when a catalog file cannot be used.
var ErrInvalidCatalog = errors.New("invalid class catalog")

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Class is one land-cover category.
type Class struct {
	ID    int    `toml:"id"`
	Name  string `toml:"name"`
	Color string `toml:"color"`
}

// RGBA returns the legend color as an opaque RGBA value.
func (c Class) RGBA() color.RGBA {
	v, err := strconv.ParseUint(strings.TrimPrefix(c.Color, "#"), 16, 32)
	if err != nil {
		return color.RGBA{A: 0xff}
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

// Catalog is an ordered set of classes. Order is the legend order and the
// order relay class percentages are reported in.
type Catalog struct {
	classes []Class
	byID    map[int]int
}

// Default returns the eight classes the demo model was trained on.
func Default() *Catalog {
	c, _ := New([]Class{
		{ID: 1, Name: "Vegetação Densa", Color: "#10b981"},
		{ID: 2, Name: "Vegetação Esparsa", Color: "#84cc16"},
		{ID: 3, Name: "Solo Exposto", Color: "#f59e0b"},
		{ID: 4, Name: "Área Urbana", Color: "#ef4444"},
		{ID: 5, Name: "Corpo d'água", Color: "#3b82f6"},
		{ID: 6, Name: "Estrada", Color: "#6b7280"},
		{ID: 7, Name: "Agricultura", Color: "#eab308"},
		{ID: 8, Name: "Sombra/Nuvem", Color: "#1f2937"},
	})
	return c
}

// New validates classes and builds a catalog.
func New(classes []Class) (*Catalog, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: no classes defined", ErrInvalidCatalog)
	}
	c := &Catalog{classes: make([]Class, len(classes)), byID: make(map[int]int, len(classes))}
	for i, cls := range classes {
		if cls.Name == "" {
			return nil, fmt.Errorf("%w: class %d has no name", ErrInvalidCatalog, cls.ID)
		}
		if !colorPattern.MatchString(cls.Color) {
			return nil, fmt.Errorf("%w: class %q has invalid color %q", ErrInvalidCatalog, cls.Name, cls.Color)
		}
		if _, dup := c.byID[cls.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate class id %d", ErrInvalidCatalog, cls.ID)
		}
		c.byID[cls.ID] = i
		c.classes[i] = cls
	}
	return c, nil
}

// Load reads a catalog from a TOML file of [[class]] tables. An empty path
// or a missing file yields the default catalog.
//
//	[[class]]
//	id = 1
//	name = "Dense vegetation"
//	color = "#10b981"
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	var doc struct {
		Class []Class `toml:"class"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, path, err)
	}
	return New(doc.Class)
}

// All returns the classes in catalog order.
func (c *Catalog) All() []Class {
	out := make([]Class, len(c.classes))
	copy(out, c.classes)
	return out
}

// Len returns the number of classes.
func (c *Catalog) Len() int {
	return len(c.classes)
}

// ByID looks up a class by id.
func (c *Catalog) ByID(id int) (Class, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Class{}, false
	}
	return c.classes[i], true
}

// At returns the class at position i in catalog order.
func (c *Catalog) At(i int) (Class, bool) {
	if i < 0 || i >= len(c.classes) {
		return Class{}, false
	}
	return c.classes[i], true
}

// Name returns the class name for id, or "class <id>" when unknown.
func (c *Catalog) Name(id int) string {
	if cls, ok := c.ByID(id); ok {
		return cls.Name
	}
	return fmt.Sprintf("class %d", id)
}

// IDs returns the class ids sorted ascending.
func (c *Catalog) IDs() []int {
	ids := make([]int, 0, len(c.classes))
	for _, cls := range c.classes {
		ids = append(ids, cls.ID)
	}
	sort.Ints(ids)
	return ids
}
