package freebox

import "fmt"

// APIError is a transport-level failure from the device API: a non-2xx
// response or an undecodable body.
type APIError struct {
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("device api: status %d", e.Status)
	}
	return fmt.Sprintf("device api: status %d: %s", e.Status, e.Msg)
}

// ChallengeError means the device refused to issue a login challenge.
type ChallengeError struct {
	Msg string
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("login challenge refused: %s", e.Msg)
}

// SessionError means the device rejected the challenge proof. Carries
// the device's own message.
type SessionError struct {
	Msg string
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session denied: %s", e.Msg)
}

// LogoutError wraps a failed logout. Callers must treat it as non-fatal.
type LogoutError struct {
	Err error
}

func (e *LogoutError) Error() string {
	return fmt.Sprintf("logout: %v", e.Err)
}

func (e *LogoutError) Unwrap() error {
	return e.Err
}

// apiFailure marks a success:false envelope on an otherwise OK response.
// Call sites translate it into the error type matching their step.
type apiFailure struct {
	Msg  string
	Code string
}

func (e *apiFailure) Error() string {
	if e.Code == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s (%s)", e.Msg, e.Code)
}
