// Package upload models the local file a user picks for segmentation and
// the policy deciding whether it may be submitted.
package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// File is an image selected for segmentation. Data is sent as-is; GeoTIFFs
// are never decoded locally.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Data        []byte
}

// Open reads path and detects its MIME type from content. When content
// sniffing is inconclusive the extension decides for TIFF files.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return New(filepath.Base(path), data), nil
}

// New builds a File from an in-memory payload.
func New(name string, data []byte) *File {
	return &File{
		Name:        name,
		Size:        int64(len(data)),
		ContentType: detectContentType(name, data),
		Data:        data,
	}
}

func detectContentType(name string, data []byte) string {
	mt := mimetype.Detect(data)
	if mt.Is("application/octet-stream") && hasTIFFExtension(name) {
		return "image/tiff"
	}
	return mt.String()
}

// FormatSize renders a byte count the way the upload widget shows it.
func FormatSize(size int64) string {
	return fmt.Sprintf("%.2f MB", float64(size)/1024/1024)
}

func hasTIFFExtension(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff")
}
