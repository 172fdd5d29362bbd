package extractor

import (
	"errors"
	"fmt"
)

// ErrExtraction is the root of every extraction failure. Extraction errors
// are fatal for a submission and are never retried.
var ErrExtraction = errors.New("extraction failed")

var (
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrExtraction)
	ErrEmptySubmission   = fmt.Errorf("%w: submission has no text", ErrExtraction)
	ErrTooLarge          = fmt.Errorf("%w: submission too large", ErrExtraction)
)

// UnreadablePDFError reports a PDF that is encrypted, image-only or corrupt.
type UnreadablePDFError struct {
	Reason string
	Err    error
}

func (e *UnreadablePDFError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unreadable pdf (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("unreadable pdf (%s)", e.Reason)
}

func (e *UnreadablePDFError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrExtraction, e.Err}
	}
	return []error{ErrExtraction}
}
