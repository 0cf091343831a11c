package engine

// Status represents the lifecycle of the active workflow. The passive
// workflow never touches it.
type Status int

const (
	StatusNone Status = iota
	StatusRunning
	StatusCompleted
	StatusError
	StatusTimeout
)

// String returns the canonical lowercase token persisted in the KV store.
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	default:
		return ""
	}
}

// ParseStatus maps a persisted token back to a Status. Unknown or empty
// tokens map to StatusNone, matching the absent-key default.
func ParseStatus(s string) Status {
	switch s {
	case "running":
		return StatusRunning
	case "completed":
		return StatusCompleted
	case "error":
		return StatusError
	case "timeout":
		return StatusTimeout
	default:
		return StatusNone
	}
}

// IsTerminal reports whether the status is a terminal transition.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusTimeout
}
