package domain

import (
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to engine errors.
const (
	TextCodeInvalidArgument      = "INVALID_ARGUMENT"
	TextCodeInvariantViolation   = "INVARIANT_VIOLATION"
	TextCodeInvalidNesting       = "INVALID_NESTING"
	TextCodeNoOpenTransaction    = "NO_OPEN_TRANSACTION"
	TextCodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
)

func engineError(message string, category goerrors.Category, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, category).WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// InvalidArgument reports input rejected before any mutation took place.
func InvalidArgument(message string, metadata map[string]any) error {
	return engineError(message, goerrors.CategoryBadInput, TextCodeInvalidArgument, metadata)
}

// InvariantViolation reports engine or caller state that is internally inconsistent.
func InvariantViolation(message string, metadata map[string]any) error {
	return engineError(message, goerrors.CategoryInternal, TextCodeInvariantViolation, metadata)
}

// InvalidNesting reports an operation on a transaction that is not the innermost open one.
func InvalidNesting(message string, metadata map[string]any) error {
	return engineError(message, goerrors.CategoryInternal, TextCodeInvalidNesting, metadata)
}

// NoOpenTransaction reports a mutation attempted without an open transaction.
func NoOpenTransaction() error {
	return engineError("transaction: no transaction is open", goerrors.CategoryInternal, TextCodeNoOpenTransaction, nil)
}

// UnsupportedOperation reports a programmer error such as an unknown enum value.
func UnsupportedOperation(message string, metadata map[string]any) error {
	return engineError(message, goerrors.CategoryOperation, TextCodeUnsupportedOperation, metadata)
}

// NotBlankNotNegative validates the arguments of every insert, extract and drop.
func NotBlankNotNegative(resource Resource, amount int64) error {
	if resource.IsBlank() {
		return InvalidArgument("resource may not be blank", nil)
	}
	if amount < 0 {
		return InvalidArgument(fmt.Sprintf("amount may not be negative, got %d", amount), map[string]any{
			"resource": resource.String(),
			"amount":   amount,
		})
	}
	return nil
}

// IsInvalidArgument reports whether err carries the invalid argument text code.
func IsInvalidArgument(err error) bool { return hasTextCode(err, TextCodeInvalidArgument) }

// IsInvariantViolation reports whether err signals corrupted state, including nesting errors.
func IsInvariantViolation(err error) bool {
	return hasTextCode(err, TextCodeInvariantViolation) || hasTextCode(err, TextCodeInvalidNesting)
}

// IsInvalidNesting reports whether err came from closing or using a non-top transaction.
func IsInvalidNesting(err error) bool { return hasTextCode(err, TextCodeInvalidNesting) }

// IsNoOpenTransaction reports whether err came from mutating outside a transaction.
func IsNoOpenTransaction(err error) bool { return hasTextCode(err, TextCodeNoOpenTransaction) }

// IsUnsupported reports whether err carries the unsupported operation text code.
func IsUnsupported(err error) bool { return hasTextCode(err, TextCodeUnsupportedOperation) }

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == code
}
