package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/efreitasn/simexchange/internal/service"
)

// MarketHandler handles HTTP requests for market-data endpoints.
type MarketHandler struct {
	marketSvc *service.MarketService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc}
}

type symbolResponse struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"last_price"`
	Traded    bool    `json:"traded"`
}

// priceResponse is the JSON response for GET /stocks/{symbol}/price.
type priceResponse struct {
	Symbol        string   `json:"symbol"`
	LastPrice     float64  `json:"last_price"`
	Traded        bool     `json:"traded"`
	VWAP          *float64 `json:"vwap"`
	Window        string   `json:"window"`
	TicksInWindow int      `json:"ticks_in_window"`
	LastTradeAt   *string  `json:"last_trade_at"`
}

// bookLevelResponse is a single price level in the book response.
type bookLevelResponse struct {
	Price         float64 `json:"price"`
	TotalQuantity int64   `json:"total_quantity"`
	OrderCount    int     `json:"order_count"`
}

// bookResponse is the JSON response for GET /stocks/{symbol}/book.
type bookResponse struct {
	Symbol     string              `json:"symbol"`
	Bids       []bookLevelResponse `json:"bids"`
	Asks       []bookLevelResponse `json:"asks"`
	Spread     *float64            `json:"spread"`
	SnapshotAt string              `json:"snapshot_at"`
}

type tickResponse struct {
	TradeID  string  `json:"trade_id"`
	Symbol   string  `json:"symbol"`
	BuyerID  string  `json:"buyer_id"`
	SellerID string  `json:"seller_id"`
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Amount   float64 `json:"amount"`
	TradedAt string  `json:"traded_at"`
}

type positionResponse struct {
	ParticipantID string `json:"participant_id"`
	Quantity      int64  `json:"quantity"`
}

type symbolHoldingsResponse struct {
	Symbol   string             `json:"symbol"`
	Holdings []positionResponse `json:"holdings"`
	Total    int64              `json:"total"`
}

// ListSymbols handles GET /stocks.
func (h *MarketHandler) ListSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.marketSvc.ListSymbols(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}

	resp := make([]symbolResponse, len(symbols))
	for i, s := range symbols {
		resp[i] = symbolResponse{
			Symbol:    s.Symbol,
			LastPrice: domain.CentsToDollars(s.LastPrice),
			Traded:    s.Traded,
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetPrice handles GET /stocks/{symbol}/price.
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	price, err := h.marketSvc.GetPrice(r.Context(), symbol)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, priceResponse{
		Symbol:        price.Symbol,
		LastPrice:     domain.CentsToDollars(price.LastPrice),
		Traded:        price.Traded,
		VWAP:          dollarsPtr(price.VWAP),
		Window:        price.Window,
		TicksInWindow: price.TicksInWindow,
		LastTradeAt:   formatTimePtr(price.LastTradeAt),
	})
}

// GetBook handles GET /stocks/{symbol}/book.
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	// Parse depth query param (default 10, max 50).
	depth, err := queryInt(r, "depth", 10)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	book, err := h.marketSvc.GetBook(r.Context(), symbol, depth)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, bookResponse{
		Symbol:     book.Symbol,
		Bids:       buildLevels(book.Bids),
		Asks:       buildLevels(book.Asks),
		Spread:     dollarsPtr(book.Spread),
		SnapshotAt: formatTime(book.SnapshotAt),
	})
}

func buildLevels(levels []service.BookPriceLevel) []bookLevelResponse {
	out := make([]bookLevelResponse, len(levels))
	for i, l := range levels {
		out[i] = bookLevelResponse{
			Price:         domain.CentsToDollars(l.Price),
			TotalQuantity: l.TotalQuantity,
			OrderCount:    l.OrderCount,
		}
	}
	return out
}

// ListTicks handles GET /stocks/{symbol}/ticks.
func (h *MarketHandler) ListTicks(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	ticks, err := h.marketSvc.ListTicks(r.Context(), symbol, limit)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := make([]tickResponse, len(ticks))
	for i, k := range ticks {
		resp[i] = tickResponse{
			TradeID:  k.TradeID,
			Symbol:   k.Symbol,
			BuyerID:  k.BuyerID,
			SellerID: k.SellerID,
			Price:    domain.CentsToDollars(k.Price),
			Quantity: k.Quantity,
			Amount:   domain.CentsToDollars(k.Amount),
			TradedAt: formatTime(k.TradedAt),
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HoldingsBySymbol handles GET /stocks/{symbol}/holdings.
func (h *MarketHandler) HoldingsBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	sh, err := h.marketSvc.HoldingsBySymbol(r.Context(), symbol)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := symbolHoldingsResponse{
		Symbol:   sh.Symbol,
		Holdings: make([]positionResponse, len(sh.Holdings)),
		Total:    sh.Total,
	}
	for i, hd := range sh.Holdings {
		resp.Holdings[i] = positionResponse{ParticipantID: hd.ParticipantID, Quantity: hd.Quantity}
	}
	WriteJSON(w, http.StatusOK, resp)
}
