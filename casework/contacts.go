// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package casework

import (
	"context"
	"fmt"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/clinical"
)

// AddContact creates an emergency contact.
func (s *Service) AddContact(ctx context.Context, c clinical.EmergencyContact) (*clinical.EmergencyContact, error) {
	c.SyncMeta = clinical.SyncMeta{LocalID: clinical.NewLocalID()}
	c.IsDeleted = false
	if _, err := s.store.Save(ctx, &c, clinical.OpInsert); err != nil {
		return nil, fmt.Errorf("failed to save contact: %w", err)
	}
	return &c, nil
}

// UpdateContact applies fn to a stored contact and queues the change.
func (s *Service) UpdateContact(ctx context.Context, localID string, fn func(*clinical.EmergencyContact)) (*clinical.EmergencyContact, error) {
	c, err := s.store.GetContact(ctx, localID)
	if err != nil {
		return nil, err
	}
	if c.IsDeleted {
		return nil, fmt.Errorf("%w: contact %s is deleted", clinical.ErrRecordNotFound, localID)
	}
	fn(c)
	if _, err := s.store.Save(ctx, c, clinical.OpUpdate); err != nil {
		return nil, fmt.Errorf("failed to save contact: %w", err)
	}
	return c, nil
}

// DeleteContact soft-deletes a contact and queues the remote delete. The
// row is purged once the delete is acknowledged.
func (s *Service) DeleteContact(ctx context.Context, localID string) error {
	c, err := s.store.GetContact(ctx, localID)
	if err != nil {
		return err
	}
	if c.IsDeleted {
		return nil
	}
	if _, err := s.store.Save(ctx, c, clinical.OpDelete); err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	return nil
}
