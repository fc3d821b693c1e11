package segment

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/geosegment/internal/classes"
)

// ErrNotDataURI is returned by DecodeDataURI for anything but a base64 PNG
// data URI.
var ErrNotDataURI = errors.New("not a base64 PNG data URI")

// DecodeDataURI returns the PNG bytes carried by a data URI produced by
// SegmentFull or the relay backend.
func DecodeDataURI(uri string) ([]byte, error) {
	payload, ok := strings.CutPrefix(uri, DataURIPrefix)
	if !ok {
		return nil, ErrNotDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDataURI, err)
	}
	return data, nil
}

// MaskStats counts mask pixels per class. The class id of a pixel is its
// palette index for paletted PNGs and its gray level otherwise. Stats are
// ordered by class id.
func MaskStats(mask []byte, catalog *classes.Catalog) ([]ClassStat, error) {
	img, err := png.Decode(bytes.NewReader(mask))
	if err != nil {
		return nil, fmt.Errorf("decoding mask: %w", err)
	}

	counts := make(map[int]int64)
	b := img.Bounds()
	switch m := img.(type) {
	case *image.Paletted:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				counts[int(m.ColorIndexAt(x, y))]++
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				counts[int(m.GrayAt(x, y).Y)]++
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
				counts[int(g.Y)]++
			}
		}
	}

	total := int64(b.Dx() * b.Dy())
	if total == 0 {
		return []ClassStat{}, nil
	}

	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	stats := make([]ClassStat, 0, len(ids))
	for _, id := range ids {
		stats = append(stats, ClassStat{
			ClassID:   id,
			ClassName: catalog.Name(id),
			Pixels:    counts[id],
			Percent:   float64(counts[id]*100) / float64(total),
		})
	}
	return stats, nil
}
