package graph

type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusDepFailed  Status = "dep_failed"
)

var statuses = []Status{StatusPending, StatusRunning, StatusSuccessful, StatusFailed, StatusSkipped, StatusDepFailed}

func (s Status) Valid() bool {
	for _, status := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Terminal reports whether s is one of successful, failed or skipped.
func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed || s == StatusSkipped
}

// Finished reports whether a task with status s will never be dispatched again.
func (s Status) Finished() bool {
	return s.Terminal() || s == StatusDepFailed
}

// Unsuccessful reports whether a task with status s makes its dependents unrunnable.
func (s Status) Unsuccessful() bool {
	return s == StatusFailed || s == StatusSkipped || s == StatusDepFailed
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	default:
		return 2
	}
}

func allowedTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusSkipped || to == StatusDepFailed
	case StatusRunning:
		return to == StatusSuccessful || to == StatusFailed || to == StatusSkipped
	default:
		return false
	}
}
