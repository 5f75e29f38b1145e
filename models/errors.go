package models

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrMissing marks a required field that was absent from the page.
	ErrMissing = eris.New("field is missing")
	// ErrUnsupportedCurrency marks a price quoted in a currency other than tenge.
	ErrUnsupportedCurrency = eris.New("unsupported currency")
)

// FetchError is returned when a page could not be downloaded: network failure,
// timeout, or a non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractError is returned when the expected listing markup is absent.
type ExtractError struct {
	Reason string
}

func (e *ExtractError) Error() string { return "extract: " + e.Reason }

// NormalizationError is returned when a raw field cannot be coerced to its type.
type NormalizationError struct {
	Field  string
	Raw    string
	Reason error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s %q: %v", e.Field, e.Raw, e.Reason)
}

func (e *NormalizationError) Unwrap() error { return e.Reason }

// ValidationError is returned by the record validator on the first violated rule.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// GeoLoadError is returned when the district map cannot be loaded.
type GeoLoadError struct {
	Source string
	Err    error
}

func (e *GeoLoadError) Error() string {
	return fmt.Sprintf("load district map %s: %v", e.Source, e.Err)
}

func (e *GeoLoadError) Unwrap() error { return e.Err }

// WriteError is returned when a partition could not be flushed to storage.
type WriteError struct {
	Partition PartitionKey
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write partition %s: %v", e.Partition, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
