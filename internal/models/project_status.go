package models

// ProjectStatus is a node in the project lifecycle.
//
//	queued -> processing -----------------------------> completed
//	queued -> transcribing -> awaiting_review -> rendering -> completed
//
// Any non-terminal status may move to failed.
type ProjectStatus string

const (
	StatusQueued         ProjectStatus = "queued"
	StatusProcessing     ProjectStatus = "processing"
	StatusTranscribing   ProjectStatus = "transcribing"
	StatusAwaitingReview ProjectStatus = "awaiting_review"
	StatusRendering      ProjectStatus = "rendering"
	StatusCompleted      ProjectStatus = "completed"
	StatusFailed         ProjectStatus = "failed"
)

var transitions = map[ProjectStatus][]ProjectStatus{
	StatusQueued:         {StatusProcessing, StatusTranscribing, StatusFailed},
	StatusProcessing:     {StatusCompleted, StatusFailed},
	StatusTranscribing:   {StatusAwaitingReview, StatusFailed},
	StatusAwaitingReview: {StatusRendering, StatusFailed},
	StatusRendering:      {StatusCompleted, StatusFailed},
	StatusCompleted:      nil,
	StatusFailed:         nil,
}

func (s ProjectStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s ProjectStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s ProjectStatus) CanTransition(next ProjectStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Predecessors returns every status from which to is reachable in one step,
// in a stable order.
func Predecessors(to ProjectStatus) []ProjectStatus {
	order := []ProjectStatus{
		StatusQueued, StatusProcessing, StatusTranscribing,
		StatusAwaitingReview, StatusRendering,
	}
	var from []ProjectStatus
	for _, s := range order {
		if s.CanTransition(to) {
			from = append(from, s)
		}
	}
	return from
}
