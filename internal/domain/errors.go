package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Domain errors returned by the public API. Check them with errors.Is.
var (
	// ErrOffline is returned by forced processing while the tracker is offline.
	ErrOffline = errors.New("fieldsync: offline")

	// ErrDrainInProgress is returned when a drain is requested while another runs.
	ErrDrainInProgress = errors.New("fieldsync: batch processing already in progress")

	// ErrNotFound is returned for unknown operation or record ids.
	ErrNotFound = errors.New("fieldsync: not found")

	// ErrNotRetryable is returned when retrying a record that may not be retried.
	ErrNotRetryable = errors.New("fieldsync: not retryable")

	// ErrInvalidOperation is returned by Enqueue for malformed operations.
	ErrInvalidOperation = errors.New("fieldsync: invalid operation")

	// ErrAlreadyRunning is returned when Start() is called on a running engine.
	ErrAlreadyRunning = errors.New("fieldsync: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped engine.
	ErrNotRunning = errors.New("fieldsync: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("fieldsync: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("fieldsync: invalid configuration")
)

// ErrorKind is the failure taxonomy every sync error is classified into.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	// ErrorKindNetwork covers timeouts and connectivity loss. Retryable.
	ErrorKindNetwork
	// ErrorKindAuth covers 401/403. Never retryable.
	ErrorKindAuth
	// ErrorKindValidation covers malformed payloads. Not retried automatically.
	ErrorKindValidation
	// ErrorKindServer covers 5xx responses. Retryable with backoff.
	ErrorKindServer
)

// String returns the taxonomy name of k.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNetwork:
		return "NetworkError"
	case ErrorKindAuth:
		return "AuthError"
	case ErrorKindValidation:
		return "ValidationError"
	case ErrorKindServer:
		return "ServerError"
	default:
		return "UnknownError"
	}
}

// MarshalText encodes k as its taxonomy name.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a taxonomy name. Unknown names decode as
// ErrorKindUnknown.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "NetworkError":
		*k = ErrorKindNetwork
	case "AuthError":
		*k = ErrorKindAuth
	case "ValidationError":
		*k = ErrorKindValidation
	case "ServerError":
		*k = ErrorKindServer
	default:
		*k = ErrorKindUnknown
	}
	return nil
}

// Retryable reports whether failures of kind k may be retried automatically.
func (k ErrorKind) Retryable() bool {
	return k != ErrorKindAuth && k != ErrorKindValidation
}

// RemoteError is the error shape surfaced by RemoteStore implementations.
type RemoteError struct {
	// Status is the HTTP-equivalent status code, 0 if unknown.
	Status int
	// Code is a backend specific error code (e.g. "PGRST301", "ECONNREFUSED").
	Code string
	// Message is the human readable description.
	Message string
}

func (e *RemoteError) Error() string {
	switch {
	case e.Status != 0 && e.Code != "":
		return fmt.Sprintf("remote error %d (%s): %s", e.Status, e.Code, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("remote error %d: %s", e.Status, e.Message)
	case e.Code != "":
		return fmt.Sprintf("remote error (%s): %s", e.Code, e.Message)
	default:
		return "remote error: " + e.Message
	}
}

var (
	authCodes = map[string]bool{
		"401": true, "403": true, "UNAUTHORIZED": true, "FORBIDDEN": true,
		"PGRST301": true, "PGRST302": true, "INVALID_JWT": true, "JWT_EXPIRED": true,
	}
	networkCodes = map[string]bool{
		"NETWORK_ERROR": true, "ECONNREFUSED": true, "ECONNRESET": true,
		"ETIMEDOUT": true, "ENOTFOUND": true, "ENETUNREACH": true, "TIMEOUT": true,
	}
	validationCodes = map[string]bool{
		"VALIDATION": true, "INVALID_PAYLOAD": true, "22P02": true, "23502": true,
		"23503": true, "23505": true, "23514": true,
	}

	authHints       = []string{"unauthorized", "forbidden", "jwt", "not authenticated", "permission denied"}
	networkHints    = []string{"network", "timeout", "timed out", "connection refused", "connection reset", "no such host", "failed to fetch", "unreachable", "offline"}
	validationHints = []string{"invalid", "validation", "malformed", "violates"}
)

// Classify maps err onto the failure taxonomy.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		if k := classifyRemote(remote); k != ErrorKindUnknown {
			return k
		}
	}

	if errors.Is(err, ErrInvalidOperation) {
		return ErrorKindValidation
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return ErrorKindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindNetwork
	}

	return classifyMessage(err.Error())
}

func classifyRemote(e *RemoteError) ErrorKind {
	switch {
	case e.Status == 401 || e.Status == 403:
		return ErrorKindAuth
	case e.Status == 408:
		return ErrorKindNetwork
	case e.Status == 429 || e.Status >= 500:
		return ErrorKindServer
	case e.Status >= 400:
		return ErrorKindValidation
	}

	code := strings.ToUpper(e.Code)
	switch {
	case authCodes[code]:
		return ErrorKindAuth
	case networkCodes[code]:
		return ErrorKindNetwork
	case validationCodes[code]:
		return ErrorKindValidation
	}
	return classifyMessage(e.Message)
}

func classifyMessage(msg string) ErrorKind {
	msg = strings.ToLower(msg)
	for _, h := range authHints {
		if strings.Contains(msg, h) {
			return ErrorKindAuth
		}
	}
	for _, h := range networkHints {
		if strings.Contains(msg, h) {
			return ErrorKindNetwork
		}
	}
	for _, h := range validationHints {
		if strings.Contains(msg, h) {
			return ErrorKindValidation
		}
	}
	return ErrorKindUnknown
}

// IsAuth reports whether err is an authentication/authorization failure.
func IsAuth(err error) bool {
	return Classify(err) == ErrorKindAuth
}

// IsNetwork reports whether err is a connectivity failure.
func IsNetwork(err error) bool {
	return Classify(err) == ErrorKindNetwork
}
