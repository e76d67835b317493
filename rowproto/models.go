// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package rowproto holds the JSON shapes and error codes of the row API.
// Both the server and the device client import it; it carries no server
// dependencies.
package rowproto

import (
	"encoding/json"
)

// InsertResponse is returned by POST /rows/{table}
type InsertResponse struct {
	ID      string `json:"id"`       // server-assigned row id
	LocalID string `json:"local_id"` // echo of the device id embedded at insert
}

// UpdateResponse is returned by PATCH /rows/{table}/{id}
type UpdateResponse struct {
	ID string `json:"id"`
}

// SelectResponse is returned by GET /rows/{table}
type SelectResponse struct {
	Rows []json.RawMessage `json:"rows"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SigninRequest / SigninResponse back the development signin endpoint
type SigninRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
	Device   string `json:"device"`
}

type SigninResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	User      string `json:"user"`
	Device    string `json:"device"`
}
