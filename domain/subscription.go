package domain

// Subscription is a live stream of decoded values plus the handle to stop it.
type Subscription[T any] struct {
	Stream      chan T
	Unsubscribe func()
	Topic       string
}

// InboundHandler receives decoded transport messages. OrderBookManager's
// OnMessage satisfies it.
type InboundHandler func(exchange string, market MarketType, symbol *MarketSymbol, msg *InboundMessage) error
