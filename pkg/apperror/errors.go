package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// IsCode reports whether err is (or wraps) an AppError with the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Error codes. Stable: cached errors are reconstructed from these.
const (
	CodeValidation           = "VAL_001"
	CodeFingerprintMismatch  = "IDEMP_001"
	CodeLockTimeout          = "IDEMP_002"
	CodeDuplicateRecord      = "IDEMP_003"
	CodeOptimisticLock       = "LOCK_001"
	CodeInvalidTransition    = "PAY_001"
	CodeNotFound             = "PAY_002"
	CodePaymentNotRefundable = "PAY_003"
	CodeCircuitOpen          = "CB_001"
	CodeGateway              = "GW_001"
	CodeEventVersionMismatch = "EVT_001"
	CodeEventContinuity      = "EVT_002"
	CodeInvalidToken         = "AUTH_001"
	CodeInternal             = "SYS_001"
)

// StatusForCode maps an error code back to its HTTP status. Used when a
// cached error is reconstructed from its stored code.
func StatusForCode(code string) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeFingerprintMismatch, CodeDuplicateRecord, CodeOptimisticLock,
		CodeInvalidTransition, CodePaymentNotRefundable, CodeEventVersionMismatch:
		return http.StatusConflict
	case CodeLockTimeout, CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case CodeGateway:
		return http.StatusBadGateway
	case CodeInvalidToken:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// ---- Validation (VAL) ----

func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

// ---- Idempotency (IDEMP) ----

// ErrFingerprintMismatch signals a reused idempotency key with a different
// request body. Never retried, never re-executed.
func ErrFingerprintMismatch(scopedKey string) *AppError {
	return New(CodeFingerprintMismatch,
		fmt.Sprintf("idempotency key reused with a different request body: %s", scopedKey),
		http.StatusConflict)
}

func ErrLockTimeout(scopedKey string) *AppError {
	return New(CodeLockTimeout,
		fmt.Sprintf("timed out waiting for in-flight request on key: %s", scopedKey),
		http.StatusServiceUnavailable)
}

func ErrDuplicateRecord(scopedKey string) *AppError {
	return New(CodeDuplicateRecord,
		fmt.Sprintf("idempotency record already exists: %s", scopedKey),
		http.StatusConflict)
}

// ---- Optimistic locking (LOCK) ----

func ErrOptimisticLockConflict(id string, expectedVersion int64) *AppError {
	return New(CodeOptimisticLock,
		fmt.Sprintf("version conflict updating %s (expected stored version %d)", id, expectedVersion),
		http.StatusConflict)
}

// ---- Payment lifecycle (PAY) ----

func ErrInvalidTransition(from, to string) *AppError {
	return New(CodeInvalidTransition,
		fmt.Sprintf("invalid payment state transition %s -> %s", from, to),
		http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrNotRefundable(state string) *AppError {
	return New(CodePaymentNotRefundable,
		fmt.Sprintf("payment in state %s is not refundable", state),
		http.StatusConflict)
}

// ---- Circuit breaker (CB) ----

func ErrCircuitOpen(gateway string) *AppError {
	return New(CodeCircuitOpen,
		fmt.Sprintf("circuit breaker open for gateway %s", gateway),
		http.StatusServiceUnavailable)
}

// ---- Gateway (GW) ----

// ErrGateway wraps a processor failure. The wrapped error retains the
// gateway error code and retryable flag.
func ErrGateway(message string, err error) *AppError {
	return Wrap(CodeGateway, message, http.StatusBadGateway, err)
}

// ---- Event store (EVT) ----

func ErrEventVersionMismatch(aggregateID string, expected, got int64) *AppError {
	return New(CodeEventVersionMismatch,
		fmt.Sprintf("event version mismatch for %s: expected %d, got %d", aggregateID, expected, got),
		http.StatusConflict)
}

func ErrEventContinuity(aggregateID string, detail string) *AppError {
	return New(CodeEventContinuity,
		fmt.Sprintf("event stream for %s is not contiguous: %s", aggregateID, detail),
		http.StatusInternalServerError)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

// ---- System (SYS) ----

func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}
