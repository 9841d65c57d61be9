//go:build !linux

package cputime

import "time"

// Thread always returns zero on platforms without a per-thread CPU clock.
func Thread() time.Duration {
	return 0
}
