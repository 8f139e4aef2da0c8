package vision

import (
	"errors"
	"fmt"
)

// ErrDecode marks failures to turn input bytes or raw model output into
// detections. Such failures are fatal to the request.
var ErrDecode = errors.New("decode error")

// DecodeError describes a malformed image or model output
type DecodeError struct {
	Op     string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes every DecodeError match ErrDecode
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func shapeError(what string, want, got int) error {
	return &DecodeError{
		Op:     "decode",
		Reason: fmt.Sprintf("%s has %d elements, expected %d", what, got, want),
	}
}
