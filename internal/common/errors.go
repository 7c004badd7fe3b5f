package common

import (
	"errors"
	"net/http"
)

// Error codes shared by the pricing and checkout packages.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeInternal            = "INTERNAL"
	CodeStockNotFound       = "STOCK_NOT_FOUND"
	CodeOutOfStock          = "OUT_OF_STOCK"
	CodeInsufficientStock   = "INSUFFICIENT_STOCK"
	CodeCouponInvalid       = "COUPON_INVALID"
	CodeCurrencyRateMissing = "CURRENCY_RATE_MISSING"
	CodeCartNotOpen         = "CART_NOT_OPEN"
	CodeCartBusy            = "CART_BUSY"
	CodeBelowMinimum        = "BELOW_MINIMUM_ORDER"
	CodeConflict            = "CONFLICT"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeRateLimited         = "RATE_LIMITED"
	CodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Err != nil && e.Message != "":
		return e.Message + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another AppError with the same code and message, so copies made by
// WithDetails still match their sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// WithDetails returns a copy of the error carrying details.
func (e *AppError) WithDetails(details any) *AppError {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Details = details
	return &cp
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// Classify resolves the outermost AppError in the chain. Unknown errors map to an internal error.
func Classify(err error) *AppError {
	var target *AppError
	if errors.As(err, &target) {
		if target.HTTPStatus == 0 {
			return &AppError{Code: target.Code, Message: target.Message, HTTPStatus: http.StatusInternalServerError, Details: target.Details}
		}
		return target
	}
	return &AppError{Code: CodeInternal, Message: "internal server error", HTTPStatus: http.StatusInternalServerError}
}
