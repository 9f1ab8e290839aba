package jobs

import "videomorph/internal/domain"

// isValidTransition enforces the allowed task state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusQueued:
		return to == domain.JobStatusRunning
	case domain.JobStatusRunning:
		return to == domain.JobStatusDone || to == domain.JobStatusError || to == domain.JobStatusStopped
	case domain.JobStatusDone, domain.JobStatusError, domain.JobStatusStopped:
		return to == domain.JobStatusQueued
	default:
		return false
	}
}

// isValidStateTransition enforces the coordinator state machine edges.
func isValidStateTransition(from, to domain.CoordinatorState) bool {
	switch from {
	case domain.StateIdle:
		return to == domain.StateConverting
	case domain.StateConverting:
		return to == domain.StateStopping || to == domain.StateIdle
	case domain.StateStopping:
		return to == domain.StateIdle
	default:
		return false
	}
}
