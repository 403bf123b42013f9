package kv

import "errors"

// ErrWriteFailed is returned by Memory when writes are configured to fail.
var ErrWriteFailed = errors.New("kv: write failed")
