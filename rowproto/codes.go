// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package rowproto

// Error codes carried in ErrorResponse.Error
const (
	CodeInvalidRequest   = "invalid_request"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeAuthFailed       = "authentication_failed"
	CodeNotFound         = "not_found"
	CodeInternalError    = "internal_error"
	CodeRetryable        = "retryable"
)

// Rejection reasons, also carried in ErrorResponse.Error
const (
	ReasonFKMissing         = "fk_missing"
	ReasonBadPayload        = "bad_payload"
	ReasonUnregisteredTable = "unregistered_table"
	ReasonUnknownColumn     = "unknown_column"
)
