package partydto

// DomainError is the gateway-facing view of a session error: a stable
// code for programmatic handling and a retry flag for transient storage
// failures.
type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "party session error"
}
