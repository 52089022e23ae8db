package extraction

import (
	"errors"
	"fmt"
)

// Kind classifies an extraction failure. Callers use it to pick the
// user-facing message and to decide whether a retry makes sense.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindTransport      Kind = "transport"
	KindResponseFormat Kind = "response_format"
	KindNormalization  Kind = "normalization"
)

// Error is implemented by every error returned from Pipeline.Extract.
type Error interface {
	error
	Kind() Kind
	FailedStage() Stage
}

var (
	ErrEmptyDocument         = errors.New("document is empty")
	ErrDocumentTooLarge      = errors.New("document exceeds maximum upload size")
	ErrUnsupportedMediaType  = errors.New("unsupported media type")
	ErrContentMismatch       = errors.New("document content does not match declared media type")
	ErrMissingUserID         = errors.New("missing user id")
	ErrInvalidHint           = errors.New("invalid processing hint")
	ErrTimeout               = errors.New("extraction request timed out")
	ErrUnexpectedStatus      = errors.New("unexpected status from extraction API")
	ErrEndpointNotConfigured = errors.New("extraction endpoint not configured")
	ErrResponseTooLarge      = errors.New("extraction response exceeds maximum size")
)

// ValidationError reports a malformed, oversized or unsupported request.
// It is raised before any network call.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid request: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid request: %v", e.Err)
}

func (e *ValidationError) Unwrap() error      { return e.Err }
func (e *ValidationError) Kind() Kind         { return KindValidation }
func (e *ValidationError) FailedStage() Stage { return StageValidating }

// TransportError reports a network failure, timeout or non-success status.
type TransportError struct {
	Stage      Stage
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("extraction transport: timed out: %v", e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("extraction transport: status %d: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("extraction transport: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error      { return e.Err }
func (e *TransportError) Kind() Kind         { return KindTransport }
func (e *TransportError) FailedStage() Stage { return e.Stage }

// ResponseFormatError reports a response body that does not match the
// expected schema, which points at a contract change on the remote side.
type ResponseFormatError struct {
	Err error
}

func (e *ResponseFormatError) Error() string {
	return fmt.Sprintf("extraction response format: %v", e.Err)
}

func (e *ResponseFormatError) Unwrap() error      { return e.Err }
func (e *ResponseFormatError) Kind() Kind         { return KindResponseFormat }
func (e *ResponseFormatError) FailedStage() Stage { return StageValidatingResponse }

// NormalizationError reports a well-formed field whose value cannot be
// coerced into its domain type.
type NormalizationError struct {
	Field string
	Value string
	Err   error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *NormalizationError) Unwrap() error      { return e.Err }
func (e *NormalizationError) Kind() Kind         { return KindNormalization }
func (e *NormalizationError) FailedStage() Stage { return StageNormalizing }

// KindOf returns the kind of an extraction error, or "" for other errors.
func KindOf(err error) Kind {
	var e Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return ""
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsTransport(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

func IsResponseFormat(err error) bool {
	var e *ResponseFormatError
	return errors.As(err, &e)
}

func IsNormalization(err error) bool {
	var e *NormalizationError
	return errors.As(err, &e)
}

// IsRetryable reports whether the caller may retry the same request.
// Only transport failures qualify; retrying will not fix bad input or a
// schema change.
func IsRetryable(err error) bool {
	return IsTransport(err)
}
