// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pphsync

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/rowproto"
)

var (
	// ErrNetwork wraps failures where the remote call could not complete.
	ErrNetwork = errors.New("network failure")
	// ErrDependencyNotReady means a referenced record has no remote identity yet.
	ErrDependencyNotReady = errors.New("dependency not ready")
	// ErrRemoteNotFound is returned when the remote row does not exist.
	ErrRemoteNotFound = errors.New("remote row not found")
	// ErrBadPayload marks a queue payload that cannot be decoded into a record.
	ErrBadPayload = errors.New("bad payload")
)

// RemoteError is a non-2xx answer from the remote system.
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote rejected request: HTTP %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("remote rejected request: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound && e.Code != rowproto.ReasonUnregisteredTable {
		return ErrRemoteNotFound
	}
	return nil
}

// Retryable reports a transient server-side condition.
func (e *RemoteError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusTooManyRequests
}
