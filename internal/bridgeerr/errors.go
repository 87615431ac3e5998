// Package bridgeerr defines the error taxonomy from spec.md §7 as typed
// errors so callers can use errors.As to decide whether to retry, page
// an operator, or abort the process.
package bridgeerr

import "fmt"

// Transient wraps a recoverable RPC/network failure. The monitor loop
// logs and continues past these; the client layer has already retried.
type Transient struct {
	Component string
	Err       error
}

func (e *Transient) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Component, e.Err)
}
func (e *Transient) Unwrap() error { return e.Err }

// Validation wraps a rejection outcome (bad memo, out-of-range amount,
// banned sender). Never retried; resolved by recording a Rejected
// history status.
type Validation struct {
	Reason string
}

func (e *Validation) Error() string { return "validation: " + e.Reason }

// Consistency marks a source event that has already been processed; the
// caller should silently skip it.
type Consistency struct {
	Network, TxID string
}

func (e *Consistency) Error() string {
	return fmt.Sprintf("consistency: %s/%s already recorded", e.Network, e.TxID)
}

// FatalConfig marks a startup error that must abort the process:
// signer-address mismatch, missing required env var, unreachable key id.
type FatalConfig struct {
	Reason string
}

func (e *FatalConfig) Error() string { return "fatal config: " + e.Reason }

// Operational marks a condition requiring operator paging: a liveness
// stall, a cursor block no longer canonical, or total stage failure.
// The loop continues where safe and aborts where it is not.
type Operational struct {
	Reason string
	Fatal  bool
}

func (e *Operational) Error() string { return "operational: " + e.Reason }

// ReorgedCursorError is raised by processRemains when the stored cursor
// block is no longer on the canonical chain — deeper reorgs than the
// confirmation depth assumes are out of scope (spec.md Non-goals) and
// require operator intervention rather than automatic rollback.
type ReorgedCursorError struct {
	MonitorName string
	BlockHash   string
}

func (e *ReorgedCursorError) Error() string {
	return fmt.Sprintf("reorged cursor: monitor %s block %s is no longer canonical", e.MonitorName, e.BlockHash)
}

// StageFailed is raised when every configured stage endpoint rejected a
// signed transaction.
type StageFailed struct {
	TxID string
}

func (e *StageFailed) Error() string {
	return fmt.Sprintf("stage failed: all endpoints rejected tx %s", e.TxID)
}
