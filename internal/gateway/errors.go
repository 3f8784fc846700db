package gateway

import "fmt"

// DuplicateCode is the gateway error code for a token already attached to a
// profile. It arrives with HTTP 402.
const DuplicateCode = 17

// DuplicateProfileError means the single-use token was already used to create
// a profile. The caller can still charge the token directly.
type DuplicateProfileError struct {
	Message string
}

func (e *DuplicateProfileError) Error() string {
	return "duplicate payment profile: " + e.Message
}

// ProfileCreationError is any other profile rejection.
type ProfileCreationError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *ProfileCreationError) Error() string {
	return fmt.Sprintf("profile creation failed (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}
