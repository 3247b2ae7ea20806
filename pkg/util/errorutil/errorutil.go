package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error codes surfaced to the page layer.
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeValidation      = "VALIDATION_ERROR"
	CodeServer          = "SERVER_ERROR"
	CodeNetwork         = "NETWORK_ERROR"
	CodeTimeout         = "TIMEOUT"
	CodeUnknown         = "UNKNOWN"
	CodeRateLimited     = "RATE_LIMITED"
)

// messageKeys maps known codes to translation keys.
var messageKeys = map[string]string{
	CodeUnauthenticated: "errors.unauthenticated",
	CodeForbidden:       "errors.forbidden",
	CodeNotFound:        "errors.notFound",
	CodeValidation:      "errors.validation",
	CodeServer:          "errors.server",
	CodeNetwork:         "errors.network",
	CodeTimeout:         "errors.timeout",
	CodeUnknown:         "errors.unknown",
	CodeRateLimited:     "errors.rateLimited",
}

// protocolAliases folds server-side code spellings onto the client taxonomy.
var protocolAliases = map[string]string{
	CodeUnauthenticated:     CodeUnauthenticated,
	"UNAUTHORIZED":          CodeUnauthenticated,
	CodeForbidden:           CodeForbidden,
	CodeNotFound:            CodeNotFound,
	CodeValidation:          CodeValidation,
	"BAD_USER_INPUT":        CodeValidation,
	"VALIDATION_FAILED":     CodeValidation,
	CodeServer:              CodeServer,
	"INTERNAL_SERVER_ERROR": CodeServer,
	CodeTimeout:             CodeTimeout,
}

var retryable = map[string]bool{
	CodeServer:  true,
	CodeNetwork: true,
	CodeTimeout: true,
}

// Descriptor is the classified, user-facing form of a failure.
type Descriptor struct {
	Message   string
	Code      string
	Field     string
	Retryable bool
	Err       error
}

func (d *Descriptor) Error() string {
	if d.Err != nil {
		return fmt.Sprintf("%s: %v", d.Code, d.Err)
	}
	if d.Message != "" {
		return fmt.Sprintf("%s: %s", d.Code, d.Message)
	}
	return d.Code
}

func (d *Descriptor) Unwrap() error {
	return d.Err
}

// Failure is the closed set of raw failure shapes the classifier understands.
type Failure interface {
	error
	failure()
}

// ProtocolFailure is a structured API error carrying a machine-readable code.
type ProtocolFailure struct {
	Code    string
	Field   string
	Message string
}

func (f *ProtocolFailure) Error() string {
	return fmt.Sprintf("protocol error %s: %s", f.Code, f.Message)
}

func (*ProtocolFailure) failure() {}

// TransportFailure is a network-level failure, with Status zero when no response arrived.
type TransportFailure struct {
	Status int
	Err    error
}

func (f *TransportFailure) Error() string {
	if f.Status == 0 {
		return fmt.Sprintf("transport error: %v", f.Err)
	}
	if f.Err != nil {
		return fmt.Sprintf("transport error (status=%d): %v", f.Status, f.Err)
	}
	return fmt.Sprintf("transport error (status=%d)", f.Status)
}

func (f *TransportFailure) Unwrap() error {
	return f.Err
}

func (*TransportFailure) failure() {}

// GenericFailure is a plain failure carrying only a message.
type GenericFailure struct {
	Message string
}

func (f *GenericFailure) Error() string {
	return f.Message
}

func (*GenericFailure) failure() {}

// MessageKey returns the translation key for code, falling back to the unknown key.
func MessageKey(code string) string {
	if key, ok := messageKeys[code]; ok {
		return key
	}
	return messageKeys[CodeUnknown]
}

// NewDescriptor builds a descriptor for a known code.
func NewDescriptor(code, field string, err error) *Descriptor {
	return &Descriptor{
		Message:   MessageKey(code),
		Code:      code,
		Field:     field,
		Retryable: retryable[code],
		Err:       err,
	}
}

// NewRateLimited builds the client-side rejection raised by the abuse throttle.
func NewRateLimited(category string, waitSeconds int) *Descriptor {
	return &Descriptor{
		Message:   fmt.Sprintf("Too many %s attempts. Please wait %d seconds before trying again.", category, waitSeconds),
		Code:      CodeRateLimited,
		Retryable: false,
	}
}

// NewUnauthenticated builds an UNAUTHENTICATED descriptor with a literal message.
func NewUnauthenticated(message string) *Descriptor {
	d := NewDescriptor(CodeUnauthenticated, "", nil)
	if message != "" {
		d.Message = message
	}
	return d
}

// NewForbidden builds a FORBIDDEN descriptor with a literal message.
func NewForbidden(message string) *Descriptor {
	d := NewDescriptor(CodeForbidden, "", nil)
	if message != "" {
		d.Message = message
	}
	return d
}

// NewValidationError builds a VALIDATION_ERROR descriptor for a field.
func NewValidationError(field, message string) *Descriptor {
	d := NewDescriptor(CodeValidation, field, nil)
	if message != "" {
		d.Message = message
	}
	return d
}

// Describe maps any failure to a descriptor. It is pure and deterministic.
func Describe(err error) *Descriptor {
	if err == nil {
		return nil
	}

	var desc *Descriptor
	if errors.As(err, &desc) {
		return desc
	}

	var protocol *ProtocolFailure
	if errors.As(err, &protocol) {
		return describeProtocol(protocol)
	}

	var transport *TransportFailure
	if errors.As(err, &transport) {
		return describeTransport(transport)
	}

	var generic *GenericFailure
	if errors.As(err, &generic) {
		d := NewDescriptor(CodeUnknown, "", err)
		if generic.Message != "" {
			d.Message = generic.Message
		}
		return d
	}

	return NewDescriptor(CodeUnknown, "", err)
}

func describeProtocol(f *ProtocolFailure) *Descriptor {
	if code, ok := protocolAliases[f.Code]; ok {
		return NewDescriptor(code, f.Field, f)
	}
	d := &Descriptor{Code: f.Code, Field: f.Field, Message: f.Message, Err: f}
	if f.Code == "" {
		d.Code = CodeUnknown
	}
	if d.Message == "" {
		d.Message = MessageKey(CodeUnknown)
	}
	return d
}

func describeTransport(f *TransportFailure) *Descriptor {
	switch {
	case f.Status == http.StatusUnauthorized:
		return NewDescriptor(CodeUnauthenticated, "", f)
	case f.Status == http.StatusForbidden:
		return NewDescriptor(CodeForbidden, "", f)
	case f.Status >= http.StatusInternalServerError:
		return NewDescriptor(CodeServer, "", f)
	case f.Status == 0 && isTimeout(f.Err):
		return NewDescriptor(CodeTimeout, "", f)
	default:
		return NewDescriptor(CodeNetwork, "", f)
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// HTTPStatus maps a descriptor code to the status the local agent answers with.
func HTTPStatus(code string) int {
	switch code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeServer, CodeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
