package handler

import (
	"net/http"

	"github.com/efreitasn/simexchange/internal/service"
	"github.com/efreitasn/simexchange/internal/settlement"
)

// SettlementHandler handles HTTP requests for the settlement reports.
type SettlementHandler struct {
	settlementSvc *service.SettlementService
}

// NewSettlementHandler creates a new SettlementHandler.
func NewSettlementHandler(settlementSvc *service.SettlementService) *SettlementHandler {
	return &SettlementHandler{settlementSvc: settlementSvc}
}

// graphResponse is a settlement graph. Edges serialize as
// {source, target, symbol, quantity, rate}.
type graphResponse struct {
	Stage   string            `json:"stage"`
	Trades  int               `json:"trades"`
	Dropped int               `json:"dropped_self_obligations"`
	Edges   []settlement.Edge `json:"edges"`
}

// netRequest is the JSON body for POST /settlement/net.
type netRequest struct {
	Stage string            `json:"stage"`
	Edges []settlement.Edge `json:"edges"`
}

// Entities handles GET /settlement/entities.
func (h *SettlementHandler) Entities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.settlementSvc.Entities(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, entities)
}

// Symbols handles GET /settlement/symbols.
func (h *SettlementHandler) Symbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.settlementSvc.Symbols(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, symbols)
}

// Graph handles GET /settlement/graph?entity=&symbol=&stage=.
func (h *SettlementHandler) Graph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stage := service.Stage(q.Get("stage"))
	if stage == "" {
		stage = service.StageRaw
	}

	g, err := h.settlementSvc.Graph(r.Context(), service.GraphFilter{
		Entity: q.Get("entity"),
		Symbol: q.Get("symbol"),
	}, stage)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildGraphResponse(g))
}

// Net handles POST /settlement/net. The stage defaults to netted.
func (h *SettlementHandler) Net(w http.ResponseWriter, r *http.Request) {
	var req netRequest
	if err := ParseJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	stage := service.Stage(req.Stage)
	if stage == "" {
		stage = service.StageNetted
	}

	g, err := h.settlementSvc.NetEdges(req.Edges, stage)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildGraphResponse(g))
}

func buildGraphResponse(g *service.GraphResponse) graphResponse {
	edges := g.Edges
	if edges == nil {
		edges = []settlement.Edge{}
	}
	return graphResponse{
		Stage:   string(g.Stage),
		Trades:  g.Trades,
		Dropped: g.Dropped,
		Edges:   edges,
	}
}
