package jobs

// Worker count limits. Each analysis decodes a full frame pass and runs
// optical flow, so a handful of workers saturates most machines.
const (
	MinWorkers = 1
	MaxWorkers = 6
)

// ClampWorkerCount ensures the worker count is within valid bounds.
func ClampWorkerCount(n int) int {
	if n < MinWorkers {
		return MinWorkers
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}

// IsValidWorkerCount returns true if n is within valid bounds.
func IsValidWorkerCount(n int) bool {
	return n >= MinWorkers && n <= MaxWorkers
}
