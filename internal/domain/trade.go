package domain

import "time"

// Trade is the immutable record of one match between a buy and a sell order.
type Trade struct {
	TradeID     string
	Symbol      string
	BuyOrderID  string
	SellOrderID string
	BuyerID     string
	SellerID    string
	Price       int64 // cents
	Quantity    int64
	ExecutedAt  time.Time
}

// Notional returns price × quantity in cents. Submission bounds the
// notional of every order, and a trade executes at one of its orders'
// prices for at most that order's quantity, so the product fits in an int64.
func (t *Trade) Notional() int64 {
	return t.Price * t.Quantity
}

// MarketTick is the market-data row published for every trade. The last
// tick of a symbol defines its last traded price.
type MarketTick struct {
	TradeID  string
	Symbol   string
	BuyerID  string
	SellerID string
	Price    int64 // cents
	Quantity int64
	Amount   int64 // cents
	TradedAt time.Time
}

// NewMarketTick derives the market-data row for a trade.
func NewMarketTick(t *Trade) *MarketTick {
	return &MarketTick{
		TradeID:  t.TradeID,
		Symbol:   t.Symbol,
		BuyerID:  t.BuyerID,
		SellerID: t.SellerID,
		Price:    t.Price,
		Quantity: t.Quantity,
		Amount:   t.Notional(),
		TradedAt: t.ExecutedAt,
	}
}
