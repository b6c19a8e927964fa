package engine

import (
	"fmt"

	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/efreitasn/simexchange/internal/store"
)

// ApplyTrade moves the traded quantity from the seller's holding to the
// buyer's inside tx. It must run in the same unit as the order updates of
// the trade. A seller position that would turn negative fails with
// domain.ErrInsufficientHoldings and a buyer position that would overflow
// fails with domain.ErrHoldingOverflow. Either rolls the unit back.
func ApplyTrade(tx store.Tx, t *domain.Trade) error {
	if _, err := tx.UpsertHolding(t.BuyerID, t.Symbol, t.Quantity); err != nil {
		return fmt.Errorf("credit buyer %s: %w", t.BuyerID, err)
	}
	qty, err := tx.UpsertHolding(t.SellerID, t.Symbol, -t.Quantity)
	if err != nil {
		return fmt.Errorf("debit seller %s: %w", t.SellerID, err)
	}
	if qty < 0 {
		return fmt.Errorf("seller %s would hold %d %s: %w", t.SellerID, qty, t.Symbol, domain.ErrInsufficientHoldings)
	}
	return nil
}
