package orchestrator

import "context"

// Generator is the external-document-producer boundary: a callable invoked
// with ambient configuration that produces one or more files at declared
// paths and returns on completion. Each generator is independently
// schedule-gated by its own cadence.
type Generator interface {
	// Name identifies this generator's schedule row (schedule_tracker.task_name).
	Name() string
	// DocType is the lifecycle doc_type registered for files this generator produces.
	DocType() string
	// Cadence is the schedule cadence used the first time this generator's
	// schedule row is seeded (daily, weekly, monthly, yearly, hourly).
	Cadence() string
	// Invoke runs the generator and returns the file paths it wrote.
	Invoke(ctx context.Context) ([]string, error)
}
