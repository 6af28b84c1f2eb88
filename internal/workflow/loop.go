package workflow

// Stop reasons recorded in result metadata
const (
	StopAccepted           = "accepted"
	StopReviewSkipped      = "review_skipped"
	StopReviewFailed       = "review_failed"
	StopRevisionsExhausted = "revisions_exhausted"
	StopRetriesExhausted   = "retries_exhausted"
	StopCircuitBreaker     = "circuit_breaker"
	StopNoOutput           = "no_output"
)

// loopLimits bound the execute/review/revise loop of one request
type loopLimits struct {
	maxRetries     int
	maxRevisions   int
	circuitBreaker int
}

// loopState is the attempt bookkeeping of the loop. It is passed by value
// and every transition returns a new state.
type loopState struct {
	execAttempts   int
	reviseAttempts int
	totalAttempts  int
}

// begin counts the start of an execution attempt
func (s loopState) begin() loopState {
	s.execAttempts++
	s.totalAttempts++
	return s
}

// blocked returns the reason the attempt just begun may not run, or "".
// The circuit breaker is checked first and wins over both budgets.
func (s loopState) blocked(l loopLimits) string {
	switch {
	case s.totalAttempts > l.circuitBreaker:
		return StopCircuitBreaker
	case s.execAttempts > l.maxRetries+1:
		return StopRetriesExhausted
	case s.reviseAttempts > l.maxRevisions:
		return StopRevisionsExhausted
	}
	return ""
}

// revise counts a requested revision. Only here is the execution counter
// reset, giving each revision its own retry budget.
func (s loopState) revise(l loopLimits) (loopState, bool) {
	s.reviseAttempts++
	if s.reviseAttempts > l.maxRevisions {
		return s, false
	}
	s.execAttempts = 0
	return s, true
}

// canRetry reports whether an empty or failed execution may be retried
func (s loopState) canRetry(l loopLimits) bool {
	return s.execAttempts <= l.maxRetries
}
