// Package errors provides structured error handling for txgate.
// It defines sentinel errors, exit codes, and helpers for adding
// context, details, and suggestions to errors.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes.
const (
	ExitSuccess  = 0 // Successful execution
	ExitGeneral  = 1 // General/unknown error
	ExitInput    = 2 // Invalid input
	ExitNotFound = 4 // Resource not found
	ExitStorage  = 6 // Durable state could not be read or written
)

// TxgateError is the structured error type for txgate.
type TxgateError struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for operators
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI
}

func (e *TxgateError) Error() string {
	msg := e.Message

	// Include details in error message (sorted for deterministic output)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *TxgateError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for TxgateError.
func (e *TxgateError) Is(target error) bool {
	var t *TxgateError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors.
var (
	ErrGeneral = &TxgateError{
		Code:     "GENERAL_ERROR",
		Message:  "an error occurred",
		ExitCode: ExitGeneral,
	}

	ErrInvalidInput = &TxgateError{
		Code:     "INVALID_INPUT",
		Message:  "invalid input",
		ExitCode: ExitInput,
	}

	// Chain/address errors.
	ErrInvalidAddress = &TxgateError{
		Code:     "INVALID_ADDRESS",
		Message:  "invalid address format",
		ExitCode: ExitInput,
	}

	ErrUnknownChain = &TxgateError{
		Code:     "UNKNOWN_CHAIN",
		Message:  "chain is not configured",
		ExitCode: ExitNotFound,
	}

	ErrRPCURLRequired = &TxgateError{
		Code:     "RPC_URL_REQUIRED",
		Message:  "RPC URL is required",
		ExitCode: ExitInput,
	}

	// Broadcast errors.
	ErrNonceConflict = &TxgateError{
		Code:     "NONCE_CONFLICT",
		Message:  "node reported a different expected nonce",
		ExitCode: ExitGeneral,
	}

	ErrTxRejected = &TxgateError{
		Code:     "TX_REJECTED",
		Message:  "transaction rejected by node",
		ExitCode: ExitGeneral,
	}

	ErrNetworkError = &TxgateError{
		Code:     "NETWORK_ERROR",
		Message:  "network communication failed",
		ExitCode: ExitGeneral,
	}

	ErrSendTimeout = &TxgateError{
		Code:     "SEND_TIMEOUT",
		Message:  "transaction send timed out",
		ExitCode: ExitGeneral,
	}

	ErrQueueFull = &TxgateError{
		Code:     "QUEUE_FULL",
		Message:  "broadcast queue is full",
		ExitCode: ExitGeneral,
	}

	ErrBroadcasterClosed = &TxgateError{
		Code:     "BROADCASTER_CLOSED",
		Message:  "broadcaster has been shut down",
		ExitCode: ExitGeneral,
	}

	// Nonce store errors.
	ErrStorage = &TxgateError{
		Code:     "STORAGE_ERROR",
		Message:  "nonce store read/write failed",
		ExitCode: ExitStorage,
	}

	ErrNonceRecordNotFound = &TxgateError{
		Code:     "NONCE_RECORD_NOT_FOUND",
		Message:  "no nonce record for address",
		ExitCode: ExitNotFound,
	}

	// Config errors.
	ErrConfigNotFound = &TxgateError{
		Code:     "CONFIG_NOT_FOUND",
		Message:  "configuration file not found",
		ExitCode: ExitNotFound,
	}

	ErrConfigInvalid = &TxgateError{
		Code:     "CONFIG_INVALID",
		Message:  "configuration file is invalid",
		ExitCode: ExitInput,
	}

	// Transaction building errors.
	ErrInvalidValue = &TxgateError{
		Code:     "INVALID_VALUE",
		Message:  "invalid value",
		ExitCode: ExitInput,
	}

	ErrInvalidChainID = &TxgateError{
		Code:     "INVALID_CHAIN_ID",
		Message:  "chain ID cannot be nil",
		ExitCode: ExitInput,
	}

	ErrInvalidGasLimit = &TxgateError{
		Code:     "INVALID_GAS_LIMIT",
		Message:  "gas limit cannot be zero",
		ExitCode: ExitInput,
	}

	ErrInvalidPrivateKey = &TxgateError{
		Code:     "INVALID_PRIVATE_KEY",
		Message:  "invalid private key",
		ExitCode: ExitInput,
	}
)

// New creates a new TxgateError with the given code and message.
func New(code, message string) *TxgateError {
	return &TxgateError{
		Code:     code,
		Message:  message,
		ExitCode: ExitGeneral,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var te *TxgateError
	if errors.As(err, &te) {
		return &TxgateError{
			Code:       te.Code,
			Message:    fmt.Sprintf("%s: %s", msg, te.Message),
			Details:    te.Details,
			Suggestion: te.Suggestion,
			Cause:      err,
			ExitCode:   te.ExitCode,
		}
	}

	return &TxgateError{
		Code:     "GENERAL_ERROR",
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithDetails adds details to an error.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var te *TxgateError
	if errors.As(err, &te) {
		return &TxgateError{
			Code:       te.Code,
			Message:    te.Message,
			Details:    details,
			Suggestion: te.Suggestion,
			Cause:      te.Cause,
			ExitCode:   te.ExitCode,
		}
	}

	return &TxgateError{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var te *TxgateError
	if errors.As(err, &te) {
		return &TxgateError{
			Code:       te.Code,
			Message:    te.Message,
			Details:    te.Details,
			Suggestion: suggestion,
			Cause:      te.Cause,
			ExitCode:   te.ExitCode,
		}
	}

	return &TxgateError{
		Code:       "GENERAL_ERROR",
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// WithCause attaches an underlying cause to a sentinel error.
func WithCause(err, cause error) error {
	if err == nil {
		return nil
	}
	if cause == nil {
		return err
	}

	var te *TxgateError
	if errors.As(err, &te) {
		return &TxgateError{
			Code:       te.Code,
			Message:    te.Message,
			Details:    te.Details,
			Suggestion: te.Suggestion,
			Cause:      cause,
			ExitCode:   te.ExitCode,
		}
	}

	return &TxgateError{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Cause:    cause,
		ExitCode: ExitGeneral,
	}
}

// ExitCode returns the exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var te *TxgateError
	if errors.As(err, &te) {
		return te.ExitCode
	}
	return ExitGeneral
}

// Code returns the machine-readable code for an error, or "GENERAL_ERROR"
// for errors outside this package.
func Code(err error) string {
	var te *TxgateError
	if errors.As(err, &te) {
		return te.Code
	}
	return "GENERAL_ERROR"
}
