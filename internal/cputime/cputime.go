// Package cputime reports CPU time consumed by the calling OS thread.
//
// The numbers are only meaningful for goroutines that have called
// runtime.LockOSThread, otherwise the goroutine may migrate between threads
// between two readings.
package cputime

import "time"

// Percent returns cpu as a percentage of wall.
func Percent(cpu, wall time.Duration) float64 {
	if wall <= 0 {
		return 0
	}
	return float64(cpu) / float64(wall) * 100
}
