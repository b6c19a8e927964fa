package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/efreitasn/simexchange/internal/service"
)

// ParticipantHandler handles HTTP requests for participant endpoints.
type ParticipantHandler struct {
	participantSvc *service.ParticipantService
}

// NewParticipantHandler creates a new ParticipantHandler.
func NewParticipantHandler(participantSvc *service.ParticipantService) *ParticipantHandler {
	return &ParticipantHandler{participantSvc: participantSvc}
}

type holdingInput struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

// registerRequest is the JSON request body for POST /participants.
type registerRequest struct {
	ParticipantID   string         `json:"participant_id"`
	InitialHoldings []holdingInput `json:"initial_holdings"`
}

type participantResponse struct {
	ParticipantID string `json:"participant_id"`
	CreatedAt     string `json:"created_at"`
}

type holdingResponse struct {
	Symbol            string `json:"symbol"`
	Quantity          int64  `json:"quantity"`
	PendingSell       int64  `json:"pending_sell_quantity"`
	AvailableQuantity int64  `json:"available_quantity"`
}

type holdingsResponse struct {
	ParticipantID string            `json:"participant_id"`
	Holdings      []holdingResponse `json:"holdings"`
}

// listOrdersResponse is the paginated order list.
type listOrdersResponse struct {
	Orders []orderResponse `json:"orders"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
	Total  int             `json:"total"`
}

// Register handles POST /participants.
func (h *ParticipantHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := ParseJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	holdings := make([]service.HoldingInput, len(req.InitialHoldings))
	for i, hi := range req.InitialHoldings {
		holdings[i] = service.HoldingInput{Symbol: hi.Symbol, Quantity: hi.Quantity}
	}

	p, err := h.participantSvc.Register(r.Context(), service.RegisterParticipantRequest{
		ParticipantID:   req.ParticipantID,
		InitialHoldings: holdings,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, participantResponse{
		ParticipantID: p.ParticipantID,
		CreatedAt:     formatTime(p.CreatedAt),
	})
}

// GetHoldings handles GET /participants/{participant_id}/holdings.
func (h *ParticipantHandler) GetHoldings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "participant_id")

	resp, err := h.participantSvc.GetHoldings(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}

	out := holdingsResponse{
		ParticipantID: resp.ParticipantID,
		Holdings:      make([]holdingResponse, len(resp.Holdings)),
	}
	for i, hb := range resp.Holdings {
		out.Holdings[i] = holdingResponse{
			Symbol:            hb.Symbol,
			Quantity:          hb.Quantity,
			PendingSell:       hb.PendingSell,
			AvailableQuantity: hb.AvailableQuantity,
		}
	}
	WriteJSON(w, http.StatusOK, out)
}

// ListOrders handles GET /participants/{participant_id}/orders.
func (h *ParticipantHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "participant_id")

	var status *domain.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.OrderStatus(s)
		status = &st
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	orders, total, err := h.participantSvc.ListOrders(r.Context(), id, status, page, limit)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := listOrdersResponse{
		Orders: make([]orderResponse, len(orders)),
		Page:   page,
		Limit:  limit,
		Total:  total,
	}
	for i, o := range orders {
		resp.Orders[i] = buildOrderResponse(o)
	}
	WriteJSON(w, http.StatusOK, resp)
}
