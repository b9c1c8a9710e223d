package domain

import (
	"time"

	"github.com/sirupsen/logrus"
)

type SyncStatus string

const (
	StatusUnsynced         SyncStatus = "unsynced"
	StatusAwaitingSnapshot SyncStatus = "awaiting_snapshot"
	StatusSynced           SyncStatus = "synced"
)

const DefaultMaxConsecutiveErrors = 5

// HealthReport is the per-symbol view exposed to monitoring.
type HealthReport struct {
	Exchange          string     `json:"exchange"`
	Market            string     `json:"market"`
	Symbol            string     `json:"symbol"`
	IsSynced          bool       `json:"isSynced"`
	Status            SyncStatus `json:"status"`
	LastAppliedSeq    uint64     `json:"lastAppliedSeq"`
	ConsecutiveErrors int        `json:"consecutiveErrors"`
	BufferDepth       int        `json:"bufferDepth"`
	LastSnapshotAt    time.Time  `json:"lastSnapshotAt"`
}

// Outcome is what one state transition asks its owner to do. Publish events
// are ordered; a snapshot event always precedes the delta events of the same
// resync cycle.
type Outcome struct {
	Publish []*PublishEvent
	// NeedSnapshot asks the owner to start (or restart) a snapshot fetch.
	// It is raised at most once per entry into the unsynced state.
	NeedSnapshot bool
	// Alert marks a persistent desync: consecutive errors crossed the
	// threshold. The owner keeps retrying regardless.
	Alert bool
	// Err classifies what went wrong, for logging and metrics. Stale
	// updates are not errors and never appear here.
	Err error
}

// SymbolSyncState is the per-(exchange, market, symbol) state machine. It is
// not safe for concurrent use: exactly one worker owns it and feeds it
// deltas, snapshots and commands in arrival order.
type SymbolSyncState struct {
	exchange string
	market   MarketType
	symbol   *MarketSymbol

	strategy SyncStrategy
	book     *LocalOrderBook
	buffer   *UpdateBuffer

	status            SyncStatus
	lastAppliedSeq    uint64
	firstDeltaApplied bool
	consecutiveErrors int
	maxErrors         int
	lastSnapshotAt    time.Time

	log *logrus.Entry
}

func NewSymbolSyncState(
	exchange string,
	market MarketType,
	symbol *MarketSymbol,
	strategy SyncStrategy,
	bufferCapacity int,
	maxConsecutiveErrors int,
) *SymbolSyncState {
	if maxConsecutiveErrors <= 0 {
		maxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	return &SymbolSyncState{
		exchange:  exchange,
		market:    market,
		symbol:    symbol,
		strategy:  strategy,
		book:      NewLocalOrderBook(),
		buffer:    NewUpdateBuffer(bufferCapacity),
		status:    StatusUnsynced,
		maxErrors: maxConsecutiveErrors,
		log: logrus.WithFields(logrus.Fields{
			"component": "sync-state",
			"book":      NewBookKey(exchange, market, symbol).String(),
		}),
	}
}

func (s *SymbolSyncState) IsSynced() bool { return s.status == StatusSynced }

func (s *SymbolSyncState) Status() SyncStatus { return s.status }

func (s *SymbolSyncState) LastAppliedSeq() uint64 { return s.lastAppliedSeq }

func (s *SymbolSyncState) ConsecutiveErrors() int { return s.consecutiveErrors }

// Book exposes the local book for read-only snapshot serving. Callers must
// go through the owning worker.
func (s *SymbolSyncState) Book() *LocalOrderBook { return s.book }

func (s *SymbolSyncState) Health() HealthReport {
	return HealthReport{
		Exchange:          s.exchange,
		Market:            string(s.market),
		Symbol:            s.symbol.String(),
		IsSynced:          s.IsSynced(),
		Status:            s.status,
		LastAppliedSeq:    s.lastAppliedSeq,
		ConsecutiveErrors: s.consecutiveErrors,
		BufferDepth:       s.buffer.Len(),
		LastSnapshotAt:    s.lastSnapshotAt,
	}
}

// BeginResync forces the unsynced state and asks for a snapshot unless a
// fetch is already in flight. Used on creation, by the administrative
// force-resync and by the periodic refresh.
func (s *SymbolSyncState) BeginResync() Outcome {
	s.firstDeltaApplied = false
	if s.status == StatusAwaitingSnapshot {
		// Fetch already pending; the fresh snapshot will reseed anyway.
		return Outcome{}
	}
	s.status = StatusAwaitingSnapshot
	return Outcome{NeedSnapshot: true}
}

// HandleDelta runs one incoming delta through the state machine.
func (s *SymbolSyncState) HandleDelta(delta *OrderBookDelta) Outcome {
	if s.status == StatusSynced {
		return s.handleSyncedDelta(delta)
	}

	// Not synced: never applied, only buffered while the snapshot is on
	// its way. Checksum-linked exchanges cannot catch up from a buffer, so
	// their deltas are dropped until the stream reseeds.
	if !s.strategy.AllowsBuffering() {
		return Outcome{}
	}
	if err := s.buffer.Push(delta); err != nil {
		// Oldest entry lost; the buffered chain is broken. Drop it whole:
		// the fetch already in flight reseeds over the now-empty buffer,
		// and resyncOutcome only asks for a new one if none is pending.
		s.buffer.Clear()
		s.consecutiveErrors++
		return s.resyncOutcome(err)
	}
	return Outcome{}
}

func (s *SymbolSyncState) handleSyncedDelta(delta *OrderBookDelta) Outcome {
	decision, derr := s.strategy.Evaluate(s.cursor(), delta)

	switch decision {
	case DecisionApply:
		return s.applyAndCatchUp(delta)

	case DecisionBuffer:
		if err := s.buffer.Push(delta); err != nil {
			return s.desync(err)
		}
		return Outcome{}

	case DecisionDiscard:
		s.log.WithField("rangeEnd", delta.RangeEnd).Debug("discarded stale update")
		return Outcome{}

	default: // DecisionResync
		return s.desync(derr)
	}
}

// applyAndCatchUp applies one validated delta, then drains whatever buffered
// deltas now continue the chain (updates that arrived ahead of the book).
func (s *SymbolSyncState) applyAndCatchUp(delta *OrderBookDelta) Outcome {
	out := Outcome{}

	if verdict := s.applyOne(delta, &out); !verdict {
		return out
	}

	for s.buffer.Len() > 0 {
		run := s.buffer.DrainApplicable(s.lastAppliedSeq)
		if len(run) == 0 {
			break
		}
		for _, buffered := range run {
			decision, derr := s.strategy.Evaluate(s.cursor(), buffered)
			switch decision {
			case DecisionApply:
				if ok := s.applyOne(buffered, &out); !ok {
					return out
				}
			case DecisionDiscard:
				continue
			default:
				merged := s.desync(derr)
				merged.Publish = append(out.Publish, merged.Publish...)
				return merged
			}
		}
	}

	return out
}

// applyOne mutates the book, advances the cursor and, for checksum-linked
// strategies, verifies the merged book. Returns false when the state
// desynced; the outcome then carries the resync request.
func (s *SymbolSyncState) applyOne(delta *OrderBookDelta, out *Outcome) bool {
	s.book.Apply(delta)
	s.lastAppliedSeq = delta.RangeEnd
	s.firstDeltaApplied = true

	if verifier, ok := s.strategy.(BookVerifier); ok {
		if err := verifier.VerifyBook(s.book, delta); err != nil {
			// The book already diverged; nothing applied so far in this
			// batch may be published.
			*out = s.desync(err)
			return false
		}
	}

	out.Publish = append(out.Publish, newDeltaEvent(delta, time.Now()))
	return true
}

// SeedSnapshot reseeds the book from a fetched or stream-delivered snapshot
// and replays the applicable buffered run. The state goes synced unless the
// buffer proves the snapshot is already too old to bridge the gap.
func (s *SymbolSyncState) SeedSnapshot(snap *OrderBookSnapshot) Outcome {
	if head := s.buffer.PeekFront(); head != nil &&
		head.RangeStart > snap.SequenceMarker+1 && head.RangeEnd > snap.SequenceMarker {
		// Everything buffered starts after the marker: the updates
		// between snapshot and buffer head are gone, and this exchange
		// family never re-sends them. Retry with a fresher snapshot.
		s.log.WithFields(logrus.Fields{
			"sequenceMarker": snap.SequenceMarker,
			"bufferHead":     head.RangeStart,
		}).Warn("snapshot predates buffered updates, refetching")
		s.status = StatusAwaitingSnapshot
		return Outcome{NeedSnapshot: true, Err: ErrSequenceGap}
	}

	s.book.Seed(snap.Bids, snap.Asks)

	if verifier, ok := s.strategy.(SnapshotVerifier); ok {
		if err := verifier.VerifySnapshot(s.book, snap); err != nil {
			// The snapshot itself is bad; nothing from it may be served
			// or published. Fetch another one.
			s.consecutiveErrors++
			s.status = StatusAwaitingSnapshot
			return Outcome{
				NeedSnapshot: true,
				Alert:        s.consecutiveErrors >= s.maxErrors,
				Err:          err,
			}
		}
	}

	s.lastAppliedSeq = snap.SequenceMarker
	s.firstDeltaApplied = false
	s.lastSnapshotAt = time.Now()
	s.status = StatusSynced
	s.consecutiveErrors = 0

	out := Outcome{Publish: []*PublishEvent{newSnapshotEvent(snap)}}

	for _, buffered := range s.buffer.DrainApplicable(s.lastAppliedSeq) {
		decision, derr := s.strategy.Evaluate(s.cursor(), buffered)
		switch decision {
		case DecisionApply:
			if ok := s.applyOne(buffered, &out); !ok {
				return out
			}
		case DecisionDiscard:
			continue
		default:
			merged := s.desync(derr)
			merged.Publish = append(out.Publish, merged.Publish...)
			return merged
		}
	}

	return out
}

// SnapshotFetchFailed records a failed fetch attempt. The state stays
// awaiting; the owner re-requests after backing off.
func (s *SymbolSyncState) SnapshotFetchFailed(err error) Outcome {
	s.consecutiveErrors++
	s.status = StatusAwaitingSnapshot
	return Outcome{
		NeedSnapshot: true,
		Alert:        s.consecutiveErrors >= s.maxErrors,
		Err:          err,
	}
}

func (s *SymbolSyncState) cursor() SyncCursor {
	return SyncCursor{
		LastAppliedSeq:    s.lastAppliedSeq,
		FirstDeltaApplied: s.firstDeltaApplied,
	}
}

// desync drops out of the synced state: the book may no longer be published,
// the buffer is cleared and a fresh snapshot is requested.
func (s *SymbolSyncState) desync(err error) Outcome {
	s.consecutiveErrors++
	s.buffer.Clear()
	s.firstDeltaApplied = false
	s.status = StatusUnsynced
	return s.resyncOutcome(err)
}

func (s *SymbolSyncState) resyncOutcome(err error) Outcome {
	out := Outcome{
		Err:   err,
		Alert: s.consecutiveErrors >= s.maxErrors,
	}
	if s.status != StatusAwaitingSnapshot {
		s.status = StatusAwaitingSnapshot
		out.NeedSnapshot = true
	}
	return out
}
