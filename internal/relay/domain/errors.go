package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingFile    = errors.New("no file uploaded")
	ErrUploadTooLarge = errors.New("upload exceeds the configured size limit")
)

// IOError is a local disk or stream failure while capturing or reading an upload.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ForwardError is a failed outbound relay: transport error or non-2xx status.
type ForwardError struct {
	Status int // zero when no response was received
	Detail string
	Err    error
}

func (e *ForwardError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("remote returned status %d: %s", e.Status, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("forward failed: %v", e.Err)
	default:
		return "forward failed: " + e.Detail
	}
}

func (e *ForwardError) Unwrap() error { return e.Err }

// Error classes reported to callers in the X-Error-Class header.
const (
	ClassMissingFile = "missing_file"
	ClassIO          = "io_error"
	ClassForward     = "forward_error"
	ClassTooLarge    = "too_large"
	ClassRateLimited = "rate_limited"
)

// Classify maps an error from the pipeline to its caller-facing class.
func Classify(err error) string {
	var ioErr *IOError
	var fwdErr *ForwardError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingFile):
		return ClassMissingFile
	case errors.Is(err, ErrUploadTooLarge):
		return ClassTooLarge
	case errors.As(err, &ioErr):
		return ClassIO
	case errors.As(err, &fwdErr):
		return ClassForward
	default:
		return ClassIO
	}
}
