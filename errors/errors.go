package errors

import (
	"errors"
	"fmt"
)

// Error categories used across the ingestion pipeline. Components wrap the
// underlying cause with one of these so callers can decide with errors.Is.

var (
	// ErrNotFound indicates an upstream record or document does not exist.
	// It is absorbed into sentinel data and should never reach the run report.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid run parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrSourceUnavailable indicates a remote API answered with a non-success
	// status or a payload that could not be decoded.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrExtraction indicates a linked document was retrieved but could not be
	// converted to text.
	ErrExtraction = errors.New("document extraction failed")

	// ErrConfiguration indicates the run cannot proceed with the current
	// configuration, e.g. an embedding dimension that does not match the
	// store's vector index.
	ErrConfiguration = errors.New("configuration error")

	// ErrStoreWrite indicates a graph store write failed
	ErrStoreWrite = errors.New("store write failed")
)

// WrapError wraps an error with context message and stack
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapErrorf wraps an error with formatted context message
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Categorize tags err with the given category unless it already carries it.
func Categorize(category, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, category) {
		return err
	}
	return fmt.Errorf("%w: %w", category, err)
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInput checks if error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsSourceUnavailable checks if error is a source unavailable error
func IsSourceUnavailable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}

// IsExtraction checks if error is a document extraction error
func IsExtraction(err error) bool {
	return errors.Is(err, ErrExtraction)
}

// IsConfiguration checks if error is a fatal configuration error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsStoreWrite checks if error is a store write error
func IsStoreWrite(err error) bool {
	return errors.Is(err, ErrStoreWrite)
}
