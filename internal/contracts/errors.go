package contracts

import "github.com/pkg/errors"

// ErrMalformed matches any event that can never be applied, no matter how
// often it is redelivered.
var ErrMalformed = errors.New("malformed event")

// MalformedError carries the decode or validation failure behind ErrMalformed.
type MalformedError struct {
	Err error
}

func malformed(err error) error {
	return &MalformedError{Err: err}
}

func (e *MalformedError) Error() string {
	return "malformed event: " + e.Err.Error()
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }
