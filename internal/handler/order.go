package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/efreitasn/simexchange/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// submitOrderRequest is the JSON request body for POST /orders.
type submitOrderRequest struct {
	ParticipantID string  `json:"participant_id"`
	Side          string  `json:"side"`
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Quantity      int64   `json:"quantity"`
}

// orderResponse is the JSON representation of an order. Nullable fields
// use pointers.
type orderResponse struct {
	OrderID           string  `json:"order_id"`
	ParticipantID     string  `json:"participant_id"`
	Side              string  `json:"side"`
	Symbol            string  `json:"symbol"`
	Price             float64 `json:"price"`
	Quantity          int64   `json:"quantity"`
	FilledQuantity    int64   `json:"filled_quantity"`
	RemainingQuantity int64   `json:"remaining_quantity"`
	Status            string  `json:"status"`
	CreatedAt         string  `json:"created_at"`
	CancelledAt       *string `json:"cancelled_at"`
}

// tradeResponse is a single executed trade.
type tradeResponse struct {
	TradeID     string  `json:"trade_id"`
	Symbol      string  `json:"symbol"`
	BuyOrderID  string  `json:"buy_order_id"`
	SellOrderID string  `json:"sell_order_id"`
	BuyerID     string  `json:"buyer_id"`
	SellerID    string  `json:"seller_id"`
	Price       float64 `json:"price"`
	Quantity    int64   `json:"quantity"`
	ExecutedAt  string  `json:"executed_at"`
}

// matchResponse is the JSON response for POST /stocks/{symbol}/match.
type matchResponse struct {
	Symbol string          `json:"symbol"`
	Trades []tradeResponse `json:"trades"`
}

// SubmitOrder handles POST /orders.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	order, err := h.orderSvc.SubmitOrder(r.Context(), service.SubmitOrderRequest{
		ParticipantID: req.ParticipantID,
		Side:          domain.OrderSide(req.Side),
		Symbol:        req.Symbol,
		Price:         req.Price,
		Quantity:      req.Quantity,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildOrderResponse(order))
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	order, err := h.orderSvc.GetOrder(r.Context(), orderID)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// CancelOrder handles DELETE /orders/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	order, err := h.orderSvc.CancelOrder(r.Context(), orderID)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// Match handles POST /stocks/{symbol}/match. When a step fails after
// earlier steps committed, the error is returned and the committed trades
// are visible through the order and tick endpoints.
func (h *OrderHandler) Match(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	trades, err := h.orderSvc.Match(r.Context(), symbol)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, matchResponse{
		Symbol: symbol,
		Trades: buildTradeResponses(trades),
	})
}

func buildOrderResponse(o *domain.Order) orderResponse {
	return orderResponse{
		OrderID:           o.OrderID,
		ParticipantID:     o.ParticipantID,
		Side:              string(o.Side),
		Symbol:            o.Symbol,
		Price:             domain.CentsToDollars(o.Price),
		Quantity:          o.Quantity,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity,
		Status:            string(o.Status),
		CreatedAt:         formatTime(o.CreatedAt),
		CancelledAt:       formatTimePtr(o.CancelledAt),
	}
}

func buildTradeResponse(t *domain.Trade) tradeResponse {
	return tradeResponse{
		TradeID:     t.TradeID,
		Symbol:      t.Symbol,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		Price:       domain.CentsToDollars(t.Price),
		Quantity:    t.Quantity,
		ExecutedAt:  formatTime(t.ExecutedAt),
	}
}

func buildTradeResponses(trades []*domain.Trade) []tradeResponse {
	result := make([]tradeResponse, len(trades))
	for i, t := range trades {
		result[i] = buildTradeResponse(t)
	}
	return result
}
