// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package clinical

import (
	"strings"

	"github.com/google/uuid"
)

// LocalIDPrefix marks identifiers generated on the device.
const LocalIDPrefix = "local_"

// NewLocalID generates a device-side identifier for a new record.
func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was generated on the device.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// IsRemoteID reports whether id is already a server-assigned identifier.
// Server rows are keyed by UUID, so any well-formed UUID that was not
// minted locally is taken as resolved.
func IsRemoteID(id string) bool {
	if id == "" || IsLocalID(id) {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
