// Package metrics is the backend-neutral metrics surface of the import
// pipeline. Pipeline code records through Backend; concrete backends live in
// subpackages.
package metrics

// Metric names emitted by the pipeline. Backends may prefix them.
const (
	RunsTotal         = "runs.total"
	RowsTotal         = "rows.total"
	BatchesTotal      = "batches.total"
	AIFailuresTotal   = "ai.failures.total"
	DimensionsCreated = "dimensions.created"
	RunDuration       = "run.duration_seconds"
)

// Labels are metric dimensions ("status", "kind", "stage")
type Labels map[string]string

// Backend receives counters and histogram observations
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
	Close() error
}

// Nop discards everything
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Flush() error                             { return nil }
func (Nop) Close() error                             { return nil }

var _ Backend = Nop{}

// OrNop returns b, or Nop when b is nil
func OrNop(b Backend) Backend {
	if b == nil {
		return Nop{}
	}
	return b
}
