package upload

import (
	"fmt"
	"strings"
)

// Policy selects which files the upload widget accepts. Exactly one policy
// is active per session.
type Policy string

const (
	// AnyImage accepts every file whose MIME type starts with "image/".
	AnyImage Policy = "image"
	// TIFFOnly accepts .tif and .tiff names, case-insensitively.
	TIFFOnly Policy = "tiff"
)

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(s)) {
	case AnyImage:
		return AnyImage, nil
	case TIFFOnly:
		return TIFFOnly, nil
	}
	return "", fmt.Errorf("unknown upload policy %q", s)
}

// Prompt is the message shown when a file is rejected.
func (p Policy) Prompt() string {
	if p == TIFFOnly {
		return "please select a GeoTIFF file (.tif or .tiff)"
	}
	return "please select a valid image file"
}

// ValidationError reports a file rejected before any network call.
type ValidationError struct {
	Name   string
	Policy Policy
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Name, e.Reason)
}

// Filter validates candidate files against a policy and an optional size cap.
type Filter struct {
	Policy  Policy
	MaxSize int64 // bytes, 0 = unlimited
}

// NewFilter returns a filter for policy with a size cap in megabytes.
func NewFilter(policy Policy, maxSizeMB int) Filter {
	return Filter{Policy: policy, MaxSize: int64(maxSizeMB) * 1024 * 1024}
}

// Accept returns a *ValidationError when f may not be submitted.
func (f Filter) Accept(file *File) error {
	if file == nil {
		return &ValidationError{Policy: f.Policy, Reason: "no file selected"}
	}

	switch f.Policy {
	case TIFFOnly:
		if !hasTIFFExtension(file.Name) {
			return &ValidationError{Name: file.Name, Policy: f.Policy, Reason: f.Policy.Prompt()}
		}
	default:
		if !strings.HasPrefix(file.ContentType, "image/") {
			return &ValidationError{Name: file.Name, Policy: f.Policy, Reason: f.Policy.Prompt()}
		}
	}

	if f.MaxSize > 0 && file.Size > f.MaxSize {
		return &ValidationError{
			Name:   file.Name,
			Policy: f.Policy,
			Reason: fmt.Sprintf("file is %s, limit is %s", FormatSize(file.Size), FormatSize(f.MaxSize)),
		}
	}
	return nil
}
