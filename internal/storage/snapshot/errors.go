package snapshot

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Use errors.Is to classify failures from this package.
var (
	// ErrCorruptSnapshot marks bytes that do not have the expected shape.
	ErrCorruptSnapshot = errors.New("snapshot: corrupt snapshot")

	// ErrInconsistentSnapshot marks content that decodes but violates the
	// replicated-log invariants.
	ErrInconsistentSnapshot = errors.New("snapshot: inconsistent snapshot")

	ErrCipherRequired   = errors.New("snapshot: encrypted bundle requires a cipher")
	ErrUnexpectedPlain  = errors.New("snapshot: expected encrypted bundle")
	ErrUnknownStateKind = errors.New("snapshot: unknown state kind")
)

// CorruptSnapshotError reports a byte stream that cannot be decoded.
type CorruptSnapshotError struct {
	Path   string // empty for in-memory decodes
	Reason string
	Err    error
}

func (e *CorruptSnapshotError) Error() string {
	msg := "snapshot: corrupt snapshot"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptSnapshotError) Unwrap() error { return e.Err }

// Is matches ErrCorruptSnapshot.
func (e *CorruptSnapshotError) Is(target error) bool {
	return target == ErrCorruptSnapshot
}

func corrupt(reason string, err error) error {
	return &CorruptSnapshotError{Reason: reason, Err: err}
}

func corruptf(format string, args ...any) error {
	return &CorruptSnapshotError{Reason: fmt.Sprintf(format, args...)}
}

// withPath stamps a file path on a corrupt error, leaving others untouched.
func withPath(err error, path string) error {
	var ce *CorruptSnapshotError
	if errors.As(err, &ce) && ce.Path == "" {
		ce.Path = path
	}
	return err
}

// InconsistentSnapshotError reports a snapshot whose fields contradict each
// other, e.g. an unapplied log tail with a gap.
type InconsistentSnapshotError struct {
	Datastore string
	Shard     string
	Reason    string
}

func (e *InconsistentSnapshotError) Error() string {
	where := ""
	switch {
	case e.Datastore != "" && e.Shard != "":
		where = fmt.Sprintf(" %s/%s", e.Datastore, e.Shard)
	case e.Datastore != "":
		where = " " + e.Datastore
	case e.Shard != "":
		where = " " + e.Shard
	}
	return "snapshot: inconsistent snapshot" + where + ": " + e.Reason
}

// Is matches ErrInconsistentSnapshot.
func (e *InconsistentSnapshotError) Is(target error) bool {
	return target == ErrInconsistentSnapshot
}

func inconsistent(format string, args ...any) *InconsistentSnapshotError {
	return &InconsistentSnapshotError{Reason: fmt.Sprintf(format, args...)}
}
