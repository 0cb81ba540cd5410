package reconstruct

import "fmt"

// FailureClass is the closed set of terminal failure classifications for a
// reconstruction job. Collapsing them would lose operability, so the class is
// carried all the way into the user-visible status text.
type FailureClass string

const (
	// FailureConfig: provider credentials missing; no network call was made.
	FailureConfig FailureClass = "config_error"
	// FailureProviderRejected: the provider refused the submission outright
	// (invalid credentials, out of credits).
	FailureProviderRejected FailureClass = "provider_rejected"
	// FailureGeneration: the provider accepted the task but reported that
	// generation failed.
	FailureGeneration FailureClass = "generation_failed"
	// FailureTimeout: the poll attempt ceiling was exhausted without the task
	// reaching a terminal state.
	FailureTimeout FailureClass = "timed_out"
	// FailureProviderUnavailable: transport or parse error talking to the
	// provider at any stage.
	FailureProviderUnavailable FailureClass = "provider_unavailable"
)

// ClassifiedError is a terminal job failure tagged with its class.
type ClassifiedError struct {
	Class  FailureClass
	Detail string
	Err    error
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Detail)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// StatusText is the human-readable terminal message broadcast to the room.
func (e *ClassifiedError) StatusText() string {
	switch e.Class {
	case FailureConfig:
		return "Reconstruction engine is not configured on this server."
	case FailureProviderRejected:
		return "Reconstruction engine rejected the job: " + e.Detail
	case FailureGeneration:
		return "Reconstruction failed: " + e.Detail
	case FailureTimeout:
		return "Reconstruction timed out waiting for the engine to finish."
	case FailureProviderUnavailable:
		return "Reconstruction engine is unreachable. Please try again."
	default:
		return "Reconstruction failed."
	}
}
