package email

// ============================================================================
// EMAIL ERROR CODES
// ============================================================================
// These constants mirror domain error codes to avoid circular imports.

const (
	codeInvalid = "invalid"
)

// ============================================================================
// EMAIL ERROR TYPE
// ============================================================================

// EmailError represents an email-specific error with a code and message.
type EmailError struct {
	Code    string
	Message string
}

func (e *EmailError) Error() string {
	return e.Message
}

// ErrorCode returns the error code.
func (e *EmailError) ErrorCode() string {
	return e.Code
}

func newEmailError(code, message string) *EmailError {
	return &EmailError{Code: code, Message: message}
}

var (
	// ErrInvalidFromAddress is returned when the from address is invalid.
	ErrInvalidFromAddress = newEmailError(codeInvalid, "Invalid from email address")

	// ErrInvalidToAddress is returned when the to address is invalid.
	ErrInvalidToAddress = newEmailError(codeInvalid, "Invalid to email address")
)
