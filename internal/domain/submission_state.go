package domain

type SubmissionState string

const (
	SubmissionIdle       SubmissionState = "IDLE"
	SubmissionValidating SubmissionState = "VALIDATING"
	SubmissionSubmitting SubmissionState = "SUBMITTING"
	SubmissionSucceeded  SubmissionState = "SUCCEEDED"
	SubmissionFailed     SubmissionState = "FAILED"
)

var submissionTransitions = map[SubmissionState][]SubmissionState{
	SubmissionIdle:       {SubmissionValidating},
	SubmissionValidating: {SubmissionSubmitting, SubmissionFailed},
	SubmissionSubmitting: {SubmissionSucceeded, SubmissionFailed},
	// a terminal submission can be retried by the shopper
	SubmissionSucceeded: {SubmissionValidating},
	SubmissionFailed:    {SubmissionValidating},
}

func CanTransitionTo(from, to SubmissionState) bool {
	for _, next := range submissionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s SubmissionState) IsTerminal() bool {
	return s == SubmissionSucceeded || s == SubmissionFailed
}

func (s SubmissionState) String() string {
	return string(s)
}

// FailureReason classifies a failed order submission.
type FailureReason string

const (
	FailureAuthExpired    FailureReason = "AuthExpired"
	FailureInvalidPayload FailureReason = "InvalidPayload"
	FailureForbidden      FailureReason = "Forbidden"
	FailureServerError    FailureReason = "ServerError"
	FailureNetworkError   FailureReason = "NetworkError"
)
