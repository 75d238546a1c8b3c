package status

// Status represents recording processing status
type Status int

const (
	// Pending - recording created, pipeline not started yet
	Pending Status = iota + 1
	// Processing - transcription or analysis in progress
	Processing
	// Completed - transcription and analysis succeeded
	Completed
	// Failed - non-retryable pipeline failure
	Failed
	// RetryableFailed - transcription failed with a transient error, file kept for retry
	RetryableFailed
	// Edited - user changed the transcript of a completed recording
	Edited
)

var (
	statusName = map[Status]string{Pending: "pending", Processing: "processing",
		Completed: "completed", Failed: "failed",
		RetryableFailed: "retryable_failed", Edited: "edited"}
	nameStatus = map[string]Status{"pending": Pending, "processing": Processing,
		"completed": Completed, "failed": Failed,
		"retryable_failed": RetryableFailed, "edited": Edited}
	// forward transitions of the pipeline state machine
	transitions = map[Status][]Status{
		Pending:         {Processing},
		Processing:      {Completed, Failed, RetryableFailed},
		Failed:          {Processing},
		RetryableFailed: {Processing},
		Completed:       {Edited},
		Edited:          {},
	}
)

// Name returns string representation of the status
func Name(st Status) string {
	return statusName[st]
}

// From parses status from a string, 0 for unknown
func From(st string) Status {
	return nameStatus[st]
}

// CanTransition tests the state machine allows from -> to
func CanTransition(from, to Status) bool {
	for _, st := range transitions[from] {
		if st == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no automatic transition leaves the status
func IsTerminal(st Status) bool {
	return st == Completed || st == Failed || st == RetryableFailed || st == Edited
}

// CanRetry returns true for statuses the explicit retry operation accepts
func CanRetry(st Status) bool {
	return st == Failed || st == RetryableFailed
}
