package segment

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/geosegment/internal/classes"
)

// DataURIPrefix is prepended verbatim to the backend's base64 mask.
const DataURIPrefix = "data:image/png;base64,"

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status string `json:"status"`
}

// ModelInfo is the /info response body. Only model_name and version have a
// conventional meaning; everything else is passed through untouched.
type ModelInfo map[string]any

// ModelName returns model_name when it is a string.
func (m ModelInfo) ModelName() string {
	s, _ := m["model_name"].(string)
	return s
}

// Version returns version as a string, formatting numeric versions.
func (m ModelInfo) Version() string {
	switch v := m["version"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// ClassStat is the share of the image assigned to one class.
type ClassStat struct {
	ClassID   int     `json:"class_id"`
	ClassName string  `json:"class_name"`
	Pixels    int64   `json:"pixels"`
	Percent   float64 `json:"percent"`
}

// UnmarshalJSON accepts numeric fields written as floats ("pixels": 100.0)
// or as numeric strings ("class_id": "1"). Missing or null numbers are 0.
func (s *ClassStat) UnmarshalJSON(data []byte) error {
	var wire struct {
		ClassID   looseNumber `json:"class_id"`
		ClassName string      `json:"class_name"`
		Pixels    looseNumber `json:"pixels"`
		Percent   looseNumber `json:"percent"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*s = ClassStat{
		ClassID:   int(math.Round(float64(wire.ClassID))),
		ClassName: wire.ClassName,
		Pixels:    int64(math.Round(float64(wire.Pixels))),
		Percent:   float64(wire.Percent),
	}
	return nil
}

// looseNumber decodes a JSON number or a string holding one.
type looseNumber float64

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*n = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("not a number: %s", data)
	}
	*n = looseNumber(v)
	return nil
}

// FullResult is what SegmentFull returns: the mask as a data URI and the
// per-class statistics in backend order.
type FullResult struct {
	SegmentedURL string
	Stats        []ClassStat
}

// Accuracy holds the quality metrics reported by the relay, each in [0,1].
// F1Score and IoU are optional.
type Accuracy struct {
	Accuracy float64
	F1Score  *float64
	IoU      *float64
}

// Result is the backend-neutral outcome of a segmentation request.
type Result struct {
	MaskURL string
	Stats   []ClassStat
	Metrics *Accuracy
}

// LegendRows returns the stats as legend rows in backend order.
func (r *Result) LegendRows() []classes.Row {
	return LegendRows(r.Stats)
}

// LegendRows converts stats to legend rows, keeping order and duplicates.
func LegendRows(stats []ClassStat) []classes.Row {
	rows := make([]classes.Row, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, classes.Row{ID: s.ClassID, Name: s.ClassName, Pixels: s.Pixels, Percent: s.Percent})
	}
	return rows
}
