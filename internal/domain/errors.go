package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the callback error taxonomy shared by every provider protocol.
type ErrorKind string

const (
	KindMalformedRequest    ErrorKind = "MalformedRequest"
	KindInvalidSecureToken  ErrorKind = "InvalidSecureToken"
	KindIncorrectIdentifier ErrorKind = "IncorrectIdentifier"
	KindGameCycleNotExist   ErrorKind = "GameCycleNotExist"
	KindGameCycleExist      ErrorKind = "GameCycleExist"
	KindGameCycleClosed     ErrorKind = "GameCycleClosed"
	KindTransactionExist    ErrorKind = "TransactionExist"
	KindTransactionNotExist ErrorKind = "TransactionNotExist"
	KindInsufficientFunds   ErrorKind = "InsufficientFunds"
	KindServiceUnavailable  ErrorKind = "RequestProcessingServiceUnavailable"
	KindInternalError       ErrorKind = "InternalError"
)

// Terminal reports whether a failure of this kind is a deterministic business
// outcome that may be cached as the final response for its transaction.
func (k ErrorKind) Terminal() bool {
	return k != KindServiceUnavailable
}

// CallbackError is the base error type for callback processing.
type CallbackError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *CallbackError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CallbackError) Unwrap() error { return e.Cause }

// KindOf extracts the taxonomy kind from err. Errors that carry no kind are
// infrastructure failures and classify as transient.
func KindOf(err error) ErrorKind {
	var ce *CallbackError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindServiceUnavailable
}

// IsTransient reports whether err must not be cached.
func IsTransient(err error) bool {
	return !KindOf(err).Terminal()
}

func ErrMalformedRequest(msg string) *CallbackError {
	return &CallbackError{Kind: KindMalformedRequest, Message: msg}
}

func ErrInvalidSecureToken() *CallbackError {
	return &CallbackError{Kind: KindInvalidSecureToken, Message: "signature mismatch"}
}

func ErrIncorrectIdentifier(msg string) *CallbackError {
	return &CallbackError{Kind: KindIncorrectIdentifier, Message: msg}
}

func ErrGameCycleNotExist(roundID string) *CallbackError {
	return &CallbackError{Kind: KindGameCycleNotExist, Message: fmt.Sprintf("round %s not found", roundID)}
}

func ErrGameCycleExist(roundID string) *CallbackError {
	return &CallbackError{Kind: KindGameCycleExist, Message: fmt.Sprintf("round %s already exists", roundID)}
}

func ErrGameCycleClosed(roundID string) *CallbackError {
	return &CallbackError{Kind: KindGameCycleClosed, Message: fmt.Sprintf("round %s is closed", roundID)}
}

func ErrTransactionExist(txID string) *CallbackError {
	return &CallbackError{Kind: KindTransactionExist, Message: fmt.Sprintf("transaction %s already exists", txID)}
}

func ErrTransactionNotExist(txID string) *CallbackError {
	return &CallbackError{Kind: KindTransactionNotExist, Message: fmt.Sprintf("transaction %s not found", txID)}
}

func ErrInsufficientFunds() *CallbackError {
	return &CallbackError{Kind: KindInsufficientFunds, Message: "insufficient funds"}
}

func ErrServiceUnavailable(msg string, cause error) *CallbackError {
	return &CallbackError{Kind: KindServiceUnavailable, Message: msg, Cause: cause}
}

func ErrInternal(msg string, cause error) *CallbackError {
	return &CallbackError{Kind: KindInternalError, Message: msg, Cause: cause}
}
