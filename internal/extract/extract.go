// Package extract contains the extraction collaborator: the component which
// resolves a hosting page URL in to structured metadata, or downloads the
// media it references. The heavy lifting is delegated to yt-dlp.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hbomb79/Telluride/internal/options"
)

type ErrorCode string

const (
	INVALID_URL        ErrorCode = "INVALID_URL"
	UNSUPPORTED_URL    ErrorCode = "UNSUPPORTED_URL"
	TIMEOUT            ErrorCode = "TIMEOUT"
	MALFORMED_OUTPUT   ErrorCode = "MALFORMED_OUTPUT"
	EXTRACTION_FAILURE ErrorCode = "EXTRACTION_FAILURE"
)

var ErrTimeout = errors.New("extraction timed out")

type (
	// Extractor is the two-mode contract the rest of Telluride relies on.
	Extractor interface {
		ExtractMetadata(ctx context.Context, pageURL string, opts options.DownloadOptions) (json.RawMessage, error)
		Download(ctx context.Context, pageURL string, opts options.DownloadOptions) error
	}

	// Error is the failure reported by an Extractor. The Code is stable
	// and machine readable, the Message is intended for humans.
	Error struct {
		Code    ErrorCode
		Message string
		Err     error
	}
)

func (err *Error) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("extraction failed (%s): %s: %v", err.Code, err.Message, err.Err)
	}

	return fmt.Sprintf("extraction failed (%s): %s", err.Code, err.Message)
}

func (err *Error) Unwrap() error {
	return err.Err
}

func newError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// CodeOf returns the ErrorCode carried by the error provided, defaulting to
// EXTRACTION_FAILURE for errors which do not originate from this package.
func CodeOf(err error) ErrorCode {
	var extractErr *Error
	if errors.As(err, &extractErr) {
		return extractErr.Code
	}
	if errors.Is(err, ErrTimeout) {
		return TIMEOUT
	}

	return EXTRACTION_FAILURE
}

// timeoutExtractor bounds the duration of calls to the wrapped
// Extractor. A zero timeout leaves the call unbounded.
type timeoutExtractor struct {
	inner           Extractor
	metadataTimeout time.Duration
	downloadTimeout time.Duration
}

// WithTimeout wraps the Extractor provided so that metadata and download
// calls which exceed their timeout fail with a TIMEOUT error, rather than
// blocking the caller indefinitely.
func WithTimeout(inner Extractor, metadataTimeout time.Duration, downloadTimeout time.Duration) Extractor {
	return &timeoutExtractor{inner, metadataTimeout, downloadTimeout}
}

func (ex *timeoutExtractor) ExtractMetadata(ctx context.Context, pageURL string, opts options.DownloadOptions) (json.RawMessage, error) {
	return runBounded(ctx, ex.metadataTimeout, func(ctx context.Context) (json.RawMessage, error) {
		return ex.inner.ExtractMetadata(ctx, pageURL, opts)
	})
}

func (ex *timeoutExtractor) Download(ctx context.Context, pageURL string, opts options.DownloadOptions) error {
	_, err := runBounded(ctx, ex.downloadTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, ex.inner.Download(ctx, pageURL, opts)
	})

	return err
}

type boundedResult[T any] struct {
	value T
	err   error
}

// runBounded executes fn with a context that expires after the timeout
// provided. If the deadline passes before fn returns, a TIMEOUT error is
// returned immediately; fn is expected to observe the cancelled context
// and exit on its own.
func runBounded[T any](parent context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(parent)
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	results := make(chan boundedResult[T], 1)
	go func() {
		v, err := fn(ctx)
		results <- boundedResult[T]{v, err}
	}()

	var zero T
	select {
	case res := <-results:
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			return zero, timeoutError(timeout)
		}
		return res.value, res.err
	case <-ctx.Done():
		if parent.Err() != nil {
			return zero, parent.Err()
		}
		return zero, timeoutError(timeout)
	}
}

func timeoutError(timeout time.Duration) *Error {
	return newError(TIMEOUT, fmt.Sprintf("no result within %s", timeout), ErrTimeout)
}
