package app

import "fmt"

const (
	codeMissingAPIKey     = "MISSING_API_KEY"
	codeInvalidBody       = "INVALID_BODY"
	codeValidation        = "VALIDATION_ERROR"
	codeRateLimited       = "RATE_LIMITED"
	codeUpstream          = "UPSTREAM_ERROR"
	codeAIRequestFailed   = "AI_REQUEST_FAILED"
	codeStoreError        = "STORE_ERROR"
	codeStoreUnconfigured = "STORE_UNCONFIGURED"
	codeStoreUnavailable  = "STORE_UNAVAILABLE"
	codeNotFound          = "NOT_FOUND"
)

// DomainError is an error with a ready-made HTTP answer. Detail and RetryIn
// only appear in /api/ai error bodies.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Detail  string
	RetryIn int
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
