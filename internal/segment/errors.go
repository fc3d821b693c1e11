package segment

import (
	"errors"
	"fmt"
)

// Endpoint paths on the segmentation backend.
const (
	EndpointHealth      = "/health"
	EndpointInfo        = "/info"
	EndpointSegment     = "/segment"
	EndpointSegmentFull = "/segment-full"
	EndpointRelay       = "relay"
)

// unknownErrorBody replaces a response body that could not be read.
const unknownErrorBody = "Unknown error"

// ErrInvalidResponseFormat matches every *InvalidResponseFormatError.
var ErrInvalidResponseFormat = errors.New("invalid response format")

// SegmentationError reports a non-success HTTP status from a segmentation
// endpoint. The message names the endpoint for everything except /segment.
type SegmentationError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *SegmentationError) Error() string {
	if e.Endpoint == EndpointSegment || e.Endpoint == "" {
		return fmt.Sprintf("segmentation failed: %d - %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("segmentation failed (%s): %d - %s", e.Endpoint, e.StatusCode, e.Body)
}

// InvalidResponseFormatError reports a 2xx response whose shape or content
// type is not what the endpoint promises.
type InvalidResponseFormatError struct {
	Endpoint string
	Reason   string
}

func (e *InvalidResponseFormatError) Error() string {
	if e.Endpoint == EndpointSegment {
		return "invalid response format: " + e.Reason
	}
	return fmt.Sprintf("invalid %s response format: %s", e.Endpoint, e.Reason)
}

func (e *InvalidResponseFormatError) Is(target error) bool {
	return target == ErrInvalidResponseFormat
}

// NetworkError reports a transport failure: DNS, refused connection,
// timeout or cancellation.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
