// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package clinical

// EmergencyContact is facility/unit scoped reference data. Deletes are soft
// until the remote system acknowledges them.
type EmergencyContact struct {
	SyncMeta
	FacilityID string `json:"facility_id"`
	UnitID     string `json:"unit_id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Phone      string `json:"phone"`
	Priority   int    `json:"priority"`
	IsDeleted  bool   `json:"is_deleted"`
}

func (c *EmergencyContact) Table() Table { return TableContacts }

func (c *EmergencyContact) Validate() error {
	if err := requireField("local_id", c.LocalID); err != nil {
		return err
	}
	if err := requireField("name", c.Name); err != nil {
		return err
	}
	return requireField("phone", c.Phone)
}
