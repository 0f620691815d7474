package auth

import "errors"

// Error is a login failure reported to the caller with a stable code.
// errors.Is matches any *Error with the same code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

const (
	CodeInvalidCredentials     = "INVALID_CREDENTIALS"
	CodeEmailNotFound          = "EMAIL_NOT_FOUND"
	CodeEmailNotUnique         = "EMAIL_NOT_UNIQUE"
	CodeInvalidEmail           = "INVALID_EMAIL"
	CodeMissingIdentifier      = "EMAIL_USERNAME_MISSING"
	CodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
)

var (
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials, Message: "The username or password you entered is wrong"}
	ErrEmailNotFound      = &Error{Code: CodeEmailNotFound, Message: "An account with this email address does not exist"}
	ErrEmailNotUnique     = &Error{Code: CodeEmailNotUnique, Message: "We cannot authenticate you with your email address, please enter your username"}
	ErrInvalidEmail       = &Error{Code: CodeInvalidEmail, Message: "You have entered an invalid email address"}
	ErrMissingIdentifier  = &Error{Code: CodeMissingIdentifier, Message: "Email or username is required for authentication"}
	ErrPermissionDenied   = &Error{Code: CodeAuthenticationRequired, Message: "User not authenticated"}

	errInvalidEmailCredentials = &Error{Code: CodeInvalidCredentials, Message: "The email or password you entered is wrong"}
)

var (
	ErrPasswordHashingFailed = errors.New("failed to hash password")
	ErrUserNotFound          = errors.New("user not found")
	ErrUsernameTaken         = errors.New("username is already taken")
)
