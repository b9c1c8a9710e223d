package domain

// KucoinSyncStrategy is the diff-depth family with KuCoin's laxer window:
// mid-stream an update is applicable whenever its range touches the cursor
// (sequenceStart <= lastApplied+1), not only when it starts exactly there.
type KucoinSyncStrategy struct{}

func (s *KucoinSyncStrategy) Name() string { return "kucoin" }

func (s *KucoinSyncStrategy) AllowsBuffering() bool { return true }

func (s *KucoinSyncStrategy) Evaluate(cursor SyncCursor, delta *OrderBookDelta) (Decision, error) {
	if delta.RangeEnd <= cursor.LastAppliedSeq {
		return DecisionDiscard, ErrStaleUpdate
	}

	if delta.RangeStart <= cursor.LastAppliedSeq+1 {
		return DecisionApply, nil
	}

	if !cursor.FirstDeltaApplied {
		return DecisionBuffer, nil
	}
	return DecisionResync, ErrSequenceGap
}
