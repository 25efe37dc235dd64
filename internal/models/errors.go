package models

import (
	"errors"
	"fmt"
)

var (
	// ErrContentTooLong means the provider stopped generating because it hit its token limit.
	ErrContentTooLong = errors.New("generated content exceeds max tokens")

	// ErrContentFiltered means the provider withheld or cut the answer for policy reasons.
	ErrContentFiltered = errors.New("generated content was filtered")

	// ErrEmptyCorpus guards the similarity and clustering entry points.
	ErrEmptyCorpus = errors.New("no embeddings available")

	// ErrDimensionMismatch is returned when vectors of different sizes meet in one comparison.
	ErrDimensionMismatch = errors.New("embedding dimensions differ")

	// ErrInvalidClusterCount is returned for k < 1 or k larger than the corpus.
	ErrInvalidClusterCount = errors.New("invalid cluster count")

	// ErrNotConfigured is returned by a connector that has no provider selected.
	ErrNotConfigured = errors.New("connector has no provider configured")

	// ErrUnknownProvider is returned when a provider name matches no known kind.
	ErrUnknownProvider = errors.New("unknown provider")
)

// ConfigError reports a missing credential environment variable.
type ConfigError struct {
	Var string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s is not set", e.Var)
}

// ConnectorError is a non-200, non-429 answer from a chat endpoint.
type ConnectorError struct {
	Code    int
	Message string
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("error %d: %s", e.Code, e.Message)
}

// EmbeddingError is a non-200 answer from an embedding endpoint.
type EmbeddingError struct {
	Code    int
	Message string
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding error %d: %s", e.Code, e.Message)
}

// InsufficientQuotaError is an HTTP 429. It is never retried internally so
// callers can apply their own backoff.
type InsufficientQuotaError struct {
	Provider string
	Code     int
	Message  string
}

func (e *InsufficientQuotaError) Error() string {
	return fmt.Sprintf("%s: insufficient quota (%d): %s", e.Provider, e.Code, e.Message)
}

// OverloadedError is an HTTP 529, returned only when the connector runs with strict overload handling.
type OverloadedError struct {
	Provider string
	Body     string
}

func (e *OverloadedError) Error() string {
	return fmt.Sprintf("%s: provider overloaded (529): %s", e.Provider, e.Body)
}
