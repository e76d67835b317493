// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package clinical

import (
	"fmt"
	"time"
)

// Elapsed returns the time passed since anchor, truncated to whole seconds.
// A zero anchor or an anchor in the future yields zero.
func Elapsed(anchor, now time.Time) time.Duration {
	if anchor.IsZero() || now.Before(anchor) {
		return 0
	}
	return now.Sub(anchor).Truncate(time.Second)
}

// FormatElapsed renders a duration as MM:SS, or H:MM:SS past the hour.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
