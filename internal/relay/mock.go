package relay

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/fyrsmithlabs/geosegment/internal/classes"
	"github.com/fyrsmithlabs/geosegment/internal/segment"
)

// Mock values returned while no upstream model is configured.
var (
	MockAccuracy    = 0.89
	MockF1Score     = 0.87
	MockIoU         = 0.82
	MockPercentages = []float64{15.3, 8.7, 12.1, 22.4, 5.6, 3.2, 28.5, 4.2}
)

const (
	maskWidth  = 64
	maskHeight = 100
)

// MockResult returns the canned relay response. Percentages beyond the
// catalog size are dropped; missing ones are reported as 0.
func MockResult(catalog *classes.Catalog) (*segment.RelayResponse, error) {
	pct := make([]float64, catalog.Len())
	copy(pct, MockPercentages)

	mask, err := RenderMask(pct, catalog, maskWidth, maskHeight)
	if err != nil {
		return nil, err
	}

	acc, f1, iou := MockAccuracy, MockF1Score, MockIoU
	return &segment.RelayResponse{
		SegmentedImage:   base64.StdEncoding.EncodeToString(mask),
		Accuracy:         &acc,
		F1Score:          &f1,
		IoU:              &iou,
		ClassPercentages: pct,
	}, nil
}

// RenderMask draws a paletted PNG of horizontal bands, one per catalog class
// in order, each as tall as its share of percentages. A pixel's palette
// index is its class id, so the mask reads back with segment.MaskStats.
func RenderMask(percentages []float64, catalog *classes.Catalog, width, height int) ([]byte, error) {
	all := catalog.All()
	maxID := 0
	for _, cls := range all {
		if cls.ID < 0 || cls.ID > 255 {
			return nil, fmt.Errorf("class id %d does not fit a palette index", cls.ID)
		}
		if cls.ID > maxID {
			maxID = cls.ID
		}
	}

	palette := make(color.Palette, maxID+1)
	for i := range palette {
		palette[i] = color.RGBA{A: 0xff}
	}
	for _, cls := range all {
		palette[cls.ID] = cls.RGBA()
	}
	img := image.NewPaletted(image.Rect(0, 0, width, height), palette)

	var total float64
	for i := range all {
		if i < len(percentages) {
			total += percentages[i]
		}
	}

	if total > 0 {
		var cum float64
		top := 0
		for i, cls := range all {
			if i >= len(percentages) {
				break
			}
			cum += percentages[i]
			bottom := int(math.Round(cum / total * float64(height)))
			for y := top; y < bottom; y++ {
				for x := 0; x < width; x++ {
					img.SetColorIndex(x, y, uint8(cls.ID))
				}
			}
			top = bottom
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding mask: %w", err)
	}
	return buf.Bytes(), nil
}
