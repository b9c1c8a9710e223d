package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	promclient "github.com/MNS-Vic/marketprism-sub020/infrastructure/prometheus"
)

// Publisher is the outbound message-bus collaborator. Publish failures are
// reported but never roll back book state.
type Publisher interface {
	Publish(subject string, payload []byte) error
}

type ManagerOptions struct {
	UpdateBufferCapacity int
	SymbolQueueCapacity  int
	ChecksumDepth        int
	MaxConsecutiveErrors int
	// ResyncInterval bounds long-run drift with a periodic forced refresh
	// of every book. Zero disables it.
	ResyncInterval time.Duration
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.UpdateBufferCapacity <= 0 {
		o.UpdateBufferCapacity = DefaultUpdateBufferCapacity
	}
	if o.SymbolQueueCapacity <= 0 {
		o.SymbolQueueCapacity = 2048
	}
	if o.ChecksumDepth <= 0 {
		o.ChecksumDepth = DefaultChecksumDepth
	}
	if o.MaxConsecutiveErrors <= 0 {
		o.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	return o
}

// OrderBookManager owns every SymbolSyncState, routes inbound messages to
// the right one and publishes the resulting events. Each book gets its own
// worker goroutine with a bounded inbox, so cross-symbol work is parallel
// while within-symbol processing stays strictly ordered.
type OrderBookManager struct {
	opts      ManagerOptions
	publisher Publisher
	fetchers  map[string]*SnapshotFetcher

	mu    sync.RWMutex
	books map[BookKey]*bookActor
	subID uint64

	log *logrus.Entry
}

func NewOrderBookManager(publisher Publisher, fetchers map[string]*SnapshotFetcher, opts ManagerOptions) *OrderBookManager {
	return &OrderBookManager{
		opts:      opts.withDefaults(),
		publisher: publisher,
		fetchers:  fetchers,
		books:     make(map[BookKey]*bookActor),
		log:       logrus.WithField("component", "orderbook-manager"),
	}
}

type actorMsg struct {
	delta       *OrderBookDelta
	snapshot    *OrderBookSnapshot
	fetchErr    error
	forceResync bool
	health      chan<- HealthReport
	bookQuery   chan<- *OrderBookSnapshot
	queryDepth  int
}

// bookActor pairs a SymbolSyncState with its single-consumer inbox. The id
// is unique per subscription: a late snapshot from a fetch started before an
// unsubscribe carries the old id and is dropped on delivery, never applied
// to a resurrected book for the same symbol.
type bookActor struct {
	id     uint64
	key    BookKey
	symbol *MarketSymbol
	market MarketType
	state  *SymbolSyncState
	inbox  chan actorMsg
	quit   chan struct{}
	done   chan struct{}

	retry *backoff.Backoff
}

// Subscribe registers a book and starts its snapshot cycle. Idempotent.
func (m *OrderBookManager) Subscribe(exchange string, market MarketType, symbol *MarketSymbol) error {
	key := NewBookKey(exchange, market, symbol)

	strategy, err := StrategyFor(key.Exchange, market, m.opts.ChecksumDepth)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.books[key]; ok {
		m.mu.Unlock()
		return nil
	}
	m.subID++
	actor := &bookActor{
		id:     m.subID,
		key:    key,
		symbol: symbol,
		market: market,
		state: NewSymbolSyncState(
			key.Exchange, market, symbol, strategy,
			m.opts.UpdateBufferCapacity, m.opts.MaxConsecutiveErrors,
		),
		inbox: make(chan actorMsg, m.opts.SymbolQueueCapacity),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		retry: &backoff.Backoff{
			Min:    500 * time.Millisecond,
			Max:    30 * time.Second,
			Factor: 2,
			Jitter: true,
		},
	}
	m.books[key] = actor
	m.mu.Unlock()

	m.log.WithField("book", key.String()).Info("subscribed")
	go m.runActor(actor)
	m.send(actor, actorMsg{forceResync: true})
	return nil
}

// Unsubscribe stops routing and disposes the state. An in-flight snapshot
// fetch completes on its own and is then discarded by the id check.
func (m *OrderBookManager) Unsubscribe(exchange string, market MarketType, symbol *MarketSymbol) error {
	key := NewBookKey(exchange, market, symbol)

	m.mu.Lock()
	actor, ok := m.books[key]
	if ok {
		delete(m.books, key)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoutingKey, key.String())
	}

	close(actor.quit)
	<-actor.done
	m.log.WithField("book", key.String()).Info("unsubscribed")
	return nil
}

// OnMessage routes one decoded transport message to its book. An unknown
// routing key is reported, not fatal: the message is dropped.
func (m *OrderBookManager) OnMessage(exchange string, market MarketType, symbol *MarketSymbol, msg *InboundMessage) error {
	key := NewBookKey(exchange, market, symbol)
	actor := m.lookup(key)
	if actor == nil {
		promclient.UnroutableMessages.Inc()
		m.log.WithField("book", key.String()).Warn("message for unknown routing key dropped")
		return fmt.Errorf("%w: %s", ErrUnknownRoutingKey, key.String())
	}

	switch msg.Kind {
	case KindDelta:
		m.send(actor, actorMsg{delta: msg.Delta})
	case KindSnapshot:
		// Checksum-linked streams deliver their own snapshots in-band.
		m.send(actor, actorMsg{snapshot: msg.Snapshot})
	default:
		return fmt.Errorf("unknown message kind %q for %s", msg.Kind, key.String())
	}
	return nil
}

// ForceResync is the administrative escape hatch: the book drops to unsynced
// regardless of its current state and fetches a fresh snapshot.
func (m *OrderBookManager) ForceResync(exchange string, market MarketType, symbol *MarketSymbol) error {
	key := NewBookKey(exchange, market, symbol)
	actor := m.lookup(key)
	if actor == nil {
		return fmt.Errorf("%w: %s", ErrUnknownRoutingKey, key.String())
	}
	m.send(actor, actorMsg{forceResync: true})
	return nil
}

// Health answers the per-symbol monitoring query through the owning worker.
func (m *OrderBookManager) Health(exchange string, market MarketType, symbol *MarketSymbol) (HealthReport, error) {
	key := NewBookKey(exchange, market, symbol)
	actor := m.lookup(key)
	if actor == nil {
		return HealthReport{}, fmt.Errorf("%w: %s", ErrUnknownRoutingKey, key.String())
	}

	reply := make(chan HealthReport, 1)
	select {
	case actor.inbox <- actorMsg{health: reply}:
	case <-actor.quit:
		return HealthReport{}, fmt.Errorf("%w: %s", ErrUnknownRoutingKey, key.String())
	}

	select {
	case report := <-reply:
		return report, nil
	case <-actor.quit:
		return HealthReport{}, fmt.Errorf("%w: %s", ErrUnknownRoutingKey, key.String())
	}
}

// LocalSnapshot serves the current top-depth book, if synced.
func (m *OrderBookManager) LocalSnapshot(exchange string, market MarketType, symbol *MarketSymbol, depth int) (*OrderBookSnapshot, error) {
	key := NewBookKey(exchange, market, symbol)
	actor := m.lookup(key)
	if actor == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoutingKey, key.String())
	}

	reply := make(chan *OrderBookSnapshot, 1)
	select {
	case actor.inbox <- actorMsg{bookQuery: reply, queryDepth: depth}:
	case <-actor.quit:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoutingKey, key.String())
	}

	select {
	case snap := <-reply:
		if snap == nil {
			return nil, ErrBookNotSynced
		}
		return snap, nil
	case <-actor.quit:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoutingKey, key.String())
	}
}

// Run drives the periodic forced refresh until the context is cancelled,
// then shuts every book down.
func (m *OrderBookManager) Run(ctx context.Context) {
	if m.opts.ResyncInterval > 0 {
		ticker := time.NewTicker(m.opts.ResyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.Close()
				return
			case <-ticker.C:
				m.resyncAll()
			}
		}
	}
	<-ctx.Done()
	m.Close()
}

func (m *OrderBookManager) Close() {
	m.mu.Lock()
	actors := make([]*bookActor, 0, len(m.books))
	for key, actor := range m.books {
		actors = append(actors, actor)
		delete(m.books, key)
	}
	m.mu.Unlock()

	for _, actor := range actors {
		close(actor.quit)
		<-actor.done
	}
}

func (m *OrderBookManager) resyncAll() {
	m.mu.RLock()
	actors := make([]*bookActor, 0, len(m.books))
	for _, actor := range m.books {
		actors = append(actors, actor)
	}
	m.mu.RUnlock()

	m.log.WithField("books", len(actors)).Info("periodic forced resync")
	for _, actor := range actors {
		m.send(actor, actorMsg{forceResync: true})
	}
}

func (m *OrderBookManager) lookup(key BookKey) *bookActor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.books[key]
}

// send applies backpressure: a full inbox blocks the transport worker rather
// than dropping within-symbol ordering.
func (m *OrderBookManager) send(actor *bookActor, msg actorMsg) {
	select {
	case actor.inbox <- msg:
	case <-actor.quit:
	}
}

func (m *OrderBookManager) runActor(a *bookActor) {
	defer close(a.done)

	wasSynced := false
	for {
		select {
		case <-a.quit:
			if wasSynced {
				promclient.SyncedBooks.WithLabelValues(a.key.Exchange).Dec()
			}
			return
		case msg := <-a.inbox:
			var out Outcome
			switch {
			case msg.health != nil:
				msg.health <- a.state.Health()
				continue
			case msg.bookQuery != nil:
				msg.bookQuery <- a.takeSnapshot(msg.queryDepth)
				continue
			case msg.delta != nil:
				out = a.state.HandleDelta(msg.delta)
			case msg.snapshot != nil:
				out = a.state.SeedSnapshot(msg.snapshot)
			case msg.fetchErr != nil:
				out = a.state.SnapshotFetchFailed(msg.fetchErr)
			case msg.forceResync:
				out = a.state.BeginResync()
			default:
				continue
			}
			m.handleOutcome(a, out)

			if synced := a.state.IsSynced(); synced != wasSynced {
				gauge := promclient.SyncedBooks.WithLabelValues(a.key.Exchange)
				if synced {
					gauge.Inc()
					a.retry.Reset()
				} else {
					gauge.Dec()
				}
				wasSynced = synced
			}
		}
	}
}

func (a *bookActor) takeSnapshot(depth int) *OrderBookSnapshot {
	if !a.state.IsSynced() {
		return nil
	}
	bids, asks := a.state.Book().Top(depth)
	return &OrderBookSnapshot{
		Exchange:       a.key.Exchange,
		Market:         a.market,
		Symbol:         a.symbol,
		SequenceMarker: a.state.LastAppliedSeq(),
		Bids:           bids,
		Asks:           asks,
		CapturedAt:     time.Now(),
	}
}

// handleOutcome runs on the actor goroutine, so reading state here is safe.
func (m *OrderBookManager) handleOutcome(a *bookActor, out Outcome) {
	for _, event := range out.Publish {
		m.publish(a, event)
	}

	if out.Err != nil {
		promclient.ResyncSignals.WithLabelValues(a.key.Exchange, reasonLabel(out.Err)).Inc()
		m.log.WithError(out.Err).WithField("book", a.key.String()).Warn("book desynchronized")
	}
	if out.Alert {
		promclient.PersistentDesyncs.WithLabelValues(a.key.Exchange).Inc()
		m.log.WithFields(logrus.Fields{
			"book":              a.key.String(),
			"consecutiveErrors": a.state.ConsecutiveErrors(),
		}).Error("persistent desync, still retrying")
	}

	if out.NeedSnapshot {
		delay := time.Duration(0)
		if a.state.ConsecutiveErrors() > 0 {
			delay = a.retry.Duration()
		}
		m.scheduleFetch(a, delay)
	}
}

func (m *OrderBookManager) scheduleFetch(a *bookActor, delay time.Duration) {
	fetcher := m.fetchers[a.key.Exchange]
	if fetcher == nil {
		m.log.WithField("book", a.key.String()).Error("no snapshot fetcher for exchange")
		return
	}

	id, key := a.id, a.key
	go func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-a.quit:
				return
			case <-timer.C:
			}
		}

		snap, err := fetcher.Fetch(context.Background(), a.market, a.symbol)
		if err != nil {
			promclient.SnapshotFetchFailures.WithLabelValues(key.Exchange).Inc()
		}
		m.deliverSnapshot(id, key, snap, err)
	}()
}

// deliverSnapshot hands a fetch result to the current actor for the key. A
// result for a stale subscription id is dropped: the book it was meant for
// no longer exists.
func (m *OrderBookManager) deliverSnapshot(id uint64, key BookKey, snap *OrderBookSnapshot, err error) {
	actor := m.lookup(key)
	if actor == nil || actor.id != id {
		m.log.WithField("book", key.String()).Debug("late snapshot discarded")
		return
	}
	if err != nil {
		m.send(actor, actorMsg{fetchErr: err})
		return
	}
	m.send(actor, actorMsg{snapshot: snap})
}

func (m *OrderBookManager) publish(a *bookActor, event *PublishEvent) {
	var payload any
	subject := fmt.Sprintf("orderbook.%s.%s.%s.%s", event.Kind, a.key.Exchange, a.key.Market, a.key.Symbol)
	if event.Kind == KindSnapshot {
		payload = event.Snapshot
	} else {
		payload = event.Delta
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		m.log.WithError(err).WithField("subject", subject).Error("event serialization failed")
		return
	}

	if err := m.publisher.Publish(subject, raw); err != nil {
		// The local book stays correct regardless of downstream delivery.
		promclient.PublishFailures.Inc()
		m.log.WithError(err).WithField("subject", subject).Warn("publish failed")
	}
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrSequenceGap):
		return "sequence_gap"
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, ErrBufferOverflow):
		return "buffer_overflow"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrSnapshotInvalid):
		return "snapshot_invalid"
	case errors.Is(err, ErrTransientNetwork):
		return "network"
	}
	return "other"
}
