package domain

import "fmt"

// OKXSyncStrategy covers the checksum-linked family. Each message carries
// prevSeqId, which must equal the previous message's seqId, and a CRC32 over
// the merged top levels of the resulting book. There is no catch-up mode:
// the exchange keeps no history for gap filling, so any break is an
// immediate reseed.
type OKXSyncStrategy struct {
	ChecksumDepth int
}

const DefaultChecksumDepth = 25

func (s *OKXSyncStrategy) Name() string { return "okx" }

func (s *OKXSyncStrategy) AllowsBuffering() bool { return false }

func (s *OKXSyncStrategy) Evaluate(cursor SyncCursor, delta *OrderBookDelta) (Decision, error) {
	if delta.RangeEnd <= cursor.LastAppliedSeq {
		return DecisionDiscard, ErrStaleUpdate
	}

	if !delta.HasLink || delta.LinkMarker != cursor.LastAppliedSeq {
		return DecisionResync, ErrSequenceGap
	}
	return DecisionApply, nil
}

// VerifyBook recomputes the top-N checksum over the merged book after a
// delta was applied and compares it with the declared one. A mismatch means
// the book silently diverged and must be reseeded.
func (s *OKXSyncStrategy) VerifyBook(book *LocalOrderBook, delta *OrderBookDelta) error {
	if !delta.HasChecksum {
		return nil
	}
	return s.compareChecksum(book, delta.Checksum)
}

// VerifySnapshot checks an in-band snapshot's declared checksum against the
// book seeded from it, catching a snapshot corrupted in transit before the
// book goes synced.
func (s *OKXSyncStrategy) VerifySnapshot(book *LocalOrderBook, snap *OrderBookSnapshot) error {
	if !snap.HasChecksum {
		return nil
	}
	return s.compareChecksum(book, snap.Checksum)
}

func (s *OKXSyncStrategy) compareChecksum(book *LocalOrderBook, declared int32) error {
	depth := s.ChecksumDepth
	if depth <= 0 {
		depth = DefaultChecksumDepth
	}

	if got := book.Checksum(depth); got != declared {
		return fmt.Errorf("%w: declared %d, computed %d", ErrChecksumMismatch, declared, got)
	}
	return nil
}
