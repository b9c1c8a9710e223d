package domain

import "time"

type MessageKind string

const (
	KindSnapshot MessageKind = "snapshot"
	KindDelta    MessageKind = "delta"
)

// OrderBookSnapshot is a full point-in-time book keyed to a sequence marker.
// Produced once per resync cycle, either by the REST fetcher or, for
// checksum-linked exchanges, by the stream itself. Immutable after creation.
type OrderBookSnapshot struct {
	Exchange       string
	Market         MarketType
	Symbol         *MarketSymbol
	SequenceMarker uint64
	Bids           []PriceLevel // descending by price
	Asks           []PriceLevel // ascending by price
	Checksum       int32
	HasChecksum    bool
	CapturedAt     time.Time
}

// OrderBookDelta is one incremental update. RangeStart..RangeEnd is the
// sequence span the exchange assigns to it; LinkMarker is the "must equal the
// previous message's end" field carried by Binance futures (pu) and OKX
// (prevSeqId).
type OrderBookDelta struct {
	Exchange    string
	Market      MarketType
	Symbol      *MarketSymbol
	RangeStart  uint64
	RangeEnd    uint64
	LinkMarker  uint64
	HasLink     bool
	Checksum    int32
	HasChecksum bool
	Bids        []PriceLevel
	Asks        []PriceLevel
	ReceivedAt  time.Time
}

// InboundMessage is what a transport adapter hands to the manager after
// decoding a wire frame. Exactly one of Snapshot/Delta is set.
type InboundMessage struct {
	Kind     MessageKind
	Snapshot *OrderBookSnapshot
	Delta    *OrderBookDelta
}

// BookSnapshotEvent is published once per reseed so downstream consumers can
// rebuild state without replaying history.
type BookSnapshotEvent struct {
	Exchange       string     `json:"exchange"`
	Market         string     `json:"market"`
	Symbol         string     `json:"symbol"`
	SequenceMarker uint64     `json:"sequenceMarker"`
	Bids           [][]string `json:"bids"`
	Asks           [][]string `json:"asks"`
	CapturedAt     time.Time  `json:"capturedAt"`
}

// BookDeltaEvent is published once per applied update, in application order.
type BookDeltaEvent struct {
	Exchange       string     `json:"exchange"`
	Market         string     `json:"market"`
	Symbol         string     `json:"symbol"`
	SequenceMarker uint64     `json:"sequenceMarker"`
	Bids           [][]string `json:"bids"`
	Asks           [][]string `json:"asks"`
	AppliedAt      time.Time  `json:"appliedAt"`
}

type PublishEvent struct {
	Kind     MessageKind
	Snapshot *BookSnapshotEvent
	Delta    *BookDeltaEvent
}

func newSnapshotEvent(snap *OrderBookSnapshot) *PublishEvent {
	return &PublishEvent{
		Kind: KindSnapshot,
		Snapshot: &BookSnapshotEvent{
			Exchange:       snap.Exchange,
			Market:         string(snap.Market),
			Symbol:         snap.Symbol.String(),
			SequenceMarker: snap.SequenceMarker,
			Bids:           SerializePriceLevels(snap.Bids),
			Asks:           SerializePriceLevels(snap.Asks),
			CapturedAt:     snap.CapturedAt,
		},
	}
}

func newDeltaEvent(delta *OrderBookDelta, appliedAt time.Time) *PublishEvent {
	return &PublishEvent{
		Kind: KindDelta,
		Delta: &BookDeltaEvent{
			Exchange:       delta.Exchange,
			Market:         string(delta.Market),
			Symbol:         delta.Symbol.String(),
			SequenceMarker: delta.RangeEnd,
			Bids:           SerializePriceLevels(delta.Bids),
			Asks:           SerializePriceLevels(delta.Asks),
			AppliedAt:      appliedAt,
		},
	}
}
