// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrUnknownBroker         = errors.New("unknown broker")
	ErrUnknownSymbol         = errors.New("unknown symbol")
	ErrRefreshFailed         = errors.New("master contract refresh failed")
	ErrUnsupportedMapping    = errors.New("unsupported mapping")
	ErrBrokerTimeout         = errors.New("broker call timed out")
	ErrBrokerRejected        = errors.New("order rejected by broker")
	ErrTransportDisconnected = errors.New("stream transport disconnected")
	ErrStreamUnavailable     = errors.New("stream unavailable")
	ErrInvalidOrder          = errors.New("invalid order")
	ErrNotAuthenticated      = errors.New("not authenticated")
	ErrConfigInvalid         = errors.New("invalid configuration")
)

// BrokerError represents an error returned by a broker API.
type BrokerError struct {
	Broker  string
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s/%s]: %s: %v", e.Broker, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s/%s]: %s", e.Broker, e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(broker, code, message string, err error) *BrokerError {
	return &BrokerError{
		Broker:  broker,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// MappingError is raised when a canonical value has no entry in a
// broker's mapping table. It matches ErrUnsupportedMapping.
type MappingError struct {
	Broker string
	Field  string
	Value  string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("unsupported mapping [%s]: %s=%q has no broker equivalent", e.Broker, e.Field, e.Value)
}

func (e *MappingError) Unwrap() error {
	return ErrUnsupportedMapping
}

// NewMappingError creates a new MappingError.
func NewMappingError(broker, field, value string) *MappingError {
	return &MappingError{Broker: broker, Field: field, Value: value}
}

// RefreshError reports a failed master contract refresh. The previous
// symbol table stays in service. It matches ErrRefreshFailed.
type RefreshError struct {
	Broker string
	Err    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh failed [%s]: %v", e.Broker, e.Err)
}

func (e *RefreshError) Unwrap() []error {
	return []error{ErrRefreshFailed, e.Err}
}

// NewRefreshError creates a new RefreshError.
func NewRefreshError(broker string, err error) *RefreshError {
	return &RefreshError{Broker: broker, Err: err}
}

// SymbolError reports a failed canonical-to-broker symbol resolution.
// It matches ErrUnknownSymbol.
type SymbolError struct {
	Broker     string
	Instrument string
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("unknown symbol [%s]: %s not found in master contract", e.Broker, e.Instrument)
}

func (e *SymbolError) Unwrap() error {
	return ErrUnknownSymbol
}

// NewSymbolError creates a new SymbolError.
func NewSymbolError(broker, instrument string) *SymbolError {
	return &SymbolError{Broker: broker, Instrument: instrument}
}

// ValidationError represents a canonical order validation error.
// It matches ErrInvalidOrder.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidOrder
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
