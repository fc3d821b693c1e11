package classes

import "fmt"

// NeutralColor is the swatch for class ids the catalog does not know.
const NeutralColor = "#9ca3af"

// Row is one per-class statistic as reported by the backend.
type Row struct {
	ID      int
	Name    string
	Pixels  int64
	Percent float64
}

// Entry is one legend row: the reported class, its swatch color and share.
type Entry struct {
	Class
	Pixels  int64
	Percent float64
}

// Label renders the share the way the legend prints it, e.g. "22.4% of area".
func (e Entry) Label() string {
	return fmt.Sprintf("%.1f%% of area", e.Percent)
}

// Color returns the legend color for id, or NeutralColor when id is unknown.
func (c *Catalog) Color(id int) string {
	if cls, ok := c.ByID(id); ok {
		return cls.Color
	}
	return NeutralColor
}

// Legend returns one entry per row, in row order. The reported name wins;
// the catalog only supplies the color, and the name when none was reported.
// Duplicate ids are kept as separate entries.
func (c *Catalog) Legend(rows []Row) []Entry {
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		name := r.Name
		if name == "" {
			name = c.Name(r.ID)
		}
		entries = append(entries, Entry{
			Class:   Class{ID: r.ID, Name: name, Color: c.Color(r.ID)},
			Pixels:  r.Pixels,
			Percent: r.Percent,
		})
	}
	return entries
}
