package domain

// BinanceSyncStrategy covers the diff-depth family. Spot chains on update id
// ranges: after the first applied event every U must equal the previous u+1.
// Futures carries an explicit link field instead: pu must equal the previous
// event's u.
type BinanceSyncStrategy struct {
	Futures bool
}

func (s *BinanceSyncStrategy) Name() string {
	if s.Futures {
		return "binance-futures"
	}
	return "binance"
}

func (s *BinanceSyncStrategy) AllowsBuffering() bool { return true }

func (s *BinanceSyncStrategy) Evaluate(cursor SyncCursor, delta *OrderBookDelta) (Decision, error) {
	// Drop any event where u is <= lastUpdateId of the snapshot.
	if delta.RangeEnd <= cursor.LastAppliedSeq {
		return DecisionDiscard, ErrStaleUpdate
	}

	if !cursor.FirstDeltaApplied {
		// The first processed event must have U <= lastUpdateId+1 AND
		// u >= lastUpdateId+1.
		if delta.RangeStart <= cursor.LastAppliedSeq+1 {
			return DecisionApply, nil
		}
		// Ahead of the snapshot: hold it until the marker is covered.
		return DecisionBuffer, nil
	}

	if s.Futures {
		if delta.HasLink && delta.LinkMarker == cursor.LastAppliedSeq {
			return DecisionApply, nil
		}
		return DecisionResync, ErrSequenceGap
	}

	if delta.RangeStart == cursor.LastAppliedSeq+1 {
		return DecisionApply, nil
	}
	return DecisionResync, ErrSequenceGap
}
