// Package errs is the error taxonomy shared by the scheduler components.
// Callers classify failures with Is against the sentinels below.
package errs

import (
	cr "github.com/cockroachdb/errors"
)

var (
	// ErrCredentialNotFound means no credential source yielded a usable token.
	ErrCredentialNotFound = cr.New("credential not found")
	// ErrCredentialNotPersisted means an update reached none of the durable
	// credential sources.
	ErrCredentialNotPersisted = cr.New("credential not persisted")
	// ErrCredentialInvalid rejects an update shorter than the minimum length.
	ErrCredentialInvalid = cr.New("credential invalid")
	// ErrAuthenticationRejected is an HTTP 401 from the attendance API.
	ErrAuthenticationRejected = cr.New("authentication rejected")
	// ErrTransientRequest covers timeouts, network errors and unexpected payloads.
	ErrTransientRequest = cr.New("transient request failure")
	// ErrConfigurationInvalid is a malformed time bound or similar setting.
	ErrConfigurationInvalid = cr.New("configuration invalid")
	// ErrWindowMissed is not a failure: the action window closed without success.
	ErrWindowMissed = cr.New("window missed")
	// ErrNonWorkingDay means no schedule exists for the date.
	ErrNonWorkingDay = cr.New("non-working day")
	// ErrEmployeeUnavailable means employee/location bootstrap failed.
	ErrEmployeeUnavailable = cr.New("employee info unavailable")
)

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cr.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return cr.Wrapf(err, format, args...)
}

func New(msg string) error {
	return cr.New(msg)
}

func Newf(format string, args ...interface{}) error {
	return cr.Newf(format, args...)
}

// Mark tags err so that Is(err, markErr) holds while keeping err's message.
func Mark(err error, markErr error) error {
	if err == nil {
		return markErr
	}
	return cr.Mark(err, markErr)
}

func Is(err, target error) bool {
	return cr.Is(err, target)
}

func As(err error, target interface{}) bool {
	return cr.As(err, target)
}

// Outcome names the taxonomy bucket of err for logs, metrics and API replies.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case Is(err, ErrCredentialNotFound):
		return "credential_not_found"
	case Is(err, ErrCredentialInvalid):
		return "credential_invalid"
	case Is(err, ErrCredentialNotPersisted):
		return "credential_not_persisted"
	case Is(err, ErrAuthenticationRejected):
		return "authentication_rejected"
	case Is(err, ErrConfigurationInvalid):
		return "configuration_invalid"
	case Is(err, ErrWindowMissed):
		return "window_missed"
	case Is(err, ErrNonWorkingDay):
		return "non_working_day"
	case Is(err, ErrEmployeeUnavailable):
		return "employee_unavailable"
	default:
		return "transient_request_failure"
	}
}
