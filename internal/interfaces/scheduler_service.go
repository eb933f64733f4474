package interfaces

import "time"

// ScheduledJobStatus represents the current status of a scheduled job
type ScheduledJobStatus struct {
	Name     string
	Schedule string
	LastRun  *time.Time
	NextRun  *time.Time
	LastErr  string
}

// SchedulerService manages cron-based background jobs (stale-processing
// audit, queue depth reporting).
type SchedulerService interface {
	// RegisterJob adds a named job on a cron schedule. Must be called
	// before Start.
	RegisterJob(name, schedule string, handler func() error) error

	// Start begins the cron loop
	Start() error

	// Stop halts the cron loop and waits for running jobs
	Stop() error

	// GetJobStatuses returns the status of every registered job
	GetJobStatuses() map[string]*ScheduledJobStatus
}
