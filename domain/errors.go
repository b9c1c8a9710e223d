package domain

import "errors"

var (
	// Update predates the current snapshot. Skipped silently.
	ErrStaleUpdate = errors.New("order book update predates the snapshot")
	// Break in the contiguous sequence chain. Never skipped: the book must
	// be re-seeded before anything else is applied.
	ErrSequenceGap      = errors.New("order book update is out of sequence")
	ErrChecksumMismatch = errors.New("order book checksum mismatch")
	// The buffer dropped its oldest entry. The chain can no longer be
	// trusted, so the caller must resync.
	ErrBufferOverflow = errors.New("update buffer overflow")

	// Snapshot budget exhausted. The caller must back off instead of
	// retrying immediately.
	ErrRateLimited      = errors.New("snapshot request rate limited")
	ErrTransientNetwork = errors.New("transient network failure")
	ErrSnapshotInvalid  = errors.New("snapshot payload is malformed")

	ErrUnknownRoutingKey = errors.New("no book registered for routing key")
	ErrUnknownExchange   = errors.New("unknown exchange")
	ErrBookNotSynced     = errors.New("local order book is not synced")
)
