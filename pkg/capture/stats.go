package capture

import "time"

// Stats is a snapshot of a pipeline's counters.
type Stats struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Format  string `json:"format"`
	Buffers int    `json:"buffers"`

	// Acquired counts frames moved from the device into the queue.
	Acquired uint64 `json:"acquired"`

	// Consumed counts frames handed to the consumer.
	Consumed uint64 `json:"consumed"`

	// Timeouts counts device waits that ended without a frame.
	Timeouts uint64 `json:"timeouts"`

	// Dropped counts frames the device skipped, from sequence gaps.
	Dropped uint64 `json:"dropped"`

	LastSequence uint64 `json:"last_sequence"`

	// QueueLen is the number of frames waiting for the consumer.
	QueueLen int `json:"queue_len"`

	// FreeLen is the number of frames queued at the device.
	FreeLen int `json:"free_len"`

	// AcquireCPU and ConsumeCPU are the thread CPU times of the two loops
	// during the current or last run.
	AcquireCPU time.Duration `json:"acquire_cpu"`
	ConsumeCPU time.Duration `json:"consume_cpu"`

	Uptime  time.Duration `json:"uptime"`
	Running bool          `json:"running"`

	// Err is the fatal error of the last run, if any.
	Err string `json:"error,omitempty"`
}

// FPS returns the average consumption rate over the uptime.
func (s Stats) FPS() float64 {
	if s.Uptime <= 0 {
		return 0
	}
	return float64(s.Consumed) / s.Uptime.Seconds()
}
