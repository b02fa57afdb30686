package signaling

// Error codes returned to the originating transport so it can inform
// the user (for example "user busy").
const (
	ErrCodeUserUnavailable    = "user_unavailable"
	ErrCodeInvalidState       = "invalid_state"
	ErrCodeConnectionNotFound = "connection_not_found"
	ErrCodeCallNotFound       = "call_not_found"
)

// Error wraps a reason code and a human-readable message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// ErrorCode extracts the signaling reason code, or "" for other errors.
func ErrorCode(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
