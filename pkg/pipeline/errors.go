package pipeline

import "fmt"

// PolicyUnavailableError reports that the decision port failed or timed
// out. The gateway never resolves this by assuming COMMIT: the call is
// left un-executed and the caller may retry.
type PolicyUnavailableError struct {
	ActionID string
	Err      error
}

func (e *PolicyUnavailableError) Error() string {
	return fmt.Sprintf("policy unavailable for %s: %v", e.ActionID, e.Err)
}

func (e *PolicyUnavailableError) Unwrap() error { return e.Err }
