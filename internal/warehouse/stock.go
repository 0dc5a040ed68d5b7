package warehouse

import (
	"context"
	"fmt"
)

type ledgerStock struct {
	ledger ShelfLedger
}

// NewStockAggregator sums counts reported by the ledger's Locate.
func NewStockAggregator(ledger ShelfLedger) StockAggregator {
	return &ledgerStock{ledger: ledger}
}

func (s *ledgerStock) TotalFor(ctx context.Context, bookID string) (int, error) {
	locations, err := s.ledger.Locate(ctx, bookID)
	if err != nil {
		return 0, fmt.Errorf("failed to locate book %s: %w", bookID, err)
	}
	total := 0
	for _, loc := range locations {
		total += loc.Count
	}
	return total, nil
}

func (s *ledgerStock) TotalsFor(ctx context.Context, bookIDs []string) (map[string]int, error) {
	totals := make(map[string]int, len(bookIDs))
	for _, id := range bookIDs {
		if _, done := totals[id]; done {
			continue
		}
		total, err := s.TotalFor(ctx, id)
		if err != nil {
			return nil, err
		}
		totals[id] = total
	}
	return totals, nil
}
