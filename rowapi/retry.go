// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package rowapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func isRetryablePGTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available (incl. lock_timeout)
		return true
	default:
		return false
	}
}

// classifyPGError maps PostgreSQL failures onto the service's sentinel
// errors. Errors it does not recognize are returned unchanged.
func classifyPGError(err error) error {
	if isRetryablePGTxError(err) {
		return fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.SQLState() {
	case "23503": // foreign_key_violation
		return fmt.Errorf("%w: %s", ErrFKMissing, pgErr.Detail)
	case "22P02", // invalid_text_representation
		"22007", // invalid_datetime_format
		"22008", // datetime_field_overflow
		"22003", // numeric_value_out_of_range
		"23502", // not_null_violation
		"23514": // check_violation
		return fmt.Errorf("%w: %s", ErrBadPayload, pgErr.Message)
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withRetry runs fn, repeating it on serialization failures, deadlocks and
// lock timeouts. The final error is classified.
func (s *Service) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := s.config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !isRetryablePGTxError(err) || attempt == attempts {
			break
		}
		s.logger.Debug("Retrying statement after transient failure", "attempt", attempt, "error", err)
		if serr := sleepWithContext(ctx, time.Duration(attempt)*50*time.Millisecond); serr != nil {
			return serr
		}
	}
	if err != nil {
		return classifyPGError(err)
	}
	return nil
}
