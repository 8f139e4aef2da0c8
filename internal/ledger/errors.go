package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrLedgerWrite marks a write that did not reach the ledger. The
	// caller may retry with the same scan id.
	ErrLedgerWrite = errors.New("ledger write failed")
	// ErrNotFound is returned by readers for unknown users or scans
	ErrNotFound = errors.New("not found")
	// ErrInvalidEntry rejects malformed entries
	ErrInvalidEntry = errors.New("invalid ledger entry")
)

// LedgerError reports which stage of a record failed
type LedgerError struct {
	ScanID string
	Stage  string // "history" or "increment"
	Err    error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s write for scan %s failed: %v", e.Stage, e.ScanID, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// Is makes every LedgerError match ErrLedgerWrite
func (e *LedgerError) Is(target error) bool {
	return target == ErrLedgerWrite
}

// Retryable reports whether replaying the same scan id can complete the
// write. Replays never double count.
func (e *LedgerError) Retryable() bool {
	return true
}
