package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceLevel is one entry of a book side. Quantity is absolute: applying a
// level overwrites whatever quantity the book currently holds at that price,
// and a zero quantity removes the price entirely.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

func NewPriceLevel(price, quantity string) (PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("invalid price %q: %w", price, err)
	}
	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("invalid quantity %q: %w", quantity, err)
	}
	return PriceLevel{Price: p, Quantity: q}, nil
}

// ParsePriceLevels converts the wire [price, quantity] string pairs used by
// every exchange into decimal levels. Malformed entries fail the whole batch
// so a partially decoded update is never applied.
func ParsePriceLevels(raw [][]string) ([]PriceLevel, error) {
	levels := make([]PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("price level needs 2 fields, got %d", len(entry))
		}
		level, err := NewPriceLevel(entry[0], entry[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, nil
}

func SerializePriceLevels(levels []PriceLevel) [][]string {
	result := make([][]string, len(levels))
	for i, level := range levels {
		result[i] = []string{level.Price.String(), level.Quantity.String()}
	}
	return result
}
