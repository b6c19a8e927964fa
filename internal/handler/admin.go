package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/efreitasn/simexchange/internal/simulation"
)

// MarketControl starts and stops the synthetic order flow.
type MarketControl interface {
	Start(ctx context.Context) error
	Stop()
	Status() simulation.Status
}

// AdminHandler handles HTTP requests for market control.
type AdminHandler struct {
	market MarketControl
	// base is the lifetime of loops started over HTTP; request contexts
	// end with the request.
	base context.Context
}

// NewAdminHandler creates a new AdminHandler. Loops it starts end when base
// is cancelled.
func NewAdminHandler(base context.Context, market MarketControl) *AdminHandler {
	return &AdminHandler{market: market, base: base}
}

type marketStatusResponse struct {
	Running    bool    `json:"running"`
	Ticks      uint64  `json:"ticks"`
	LastTickAt *string `json:"last_tick_at"`
}

// Status handles GET /admin/market.
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.status())
}

// Start handles POST /admin/market/start.
func (h *AdminHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.market.Start(h.base); err != nil {
		if errors.Is(err, simulation.ErrAlreadyRunning) {
			WriteError(w, http.StatusConflict, "already_running", "The market simulation is already running")
			return
		}
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.status())
}

// Stop handles POST /admin/market/stop. It returns once the in-flight tick
// has finished.
func (h *AdminHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.market.Stop()
	WriteJSON(w, http.StatusOK, h.status())
}

func (h *AdminHandler) status() marketStatusResponse {
	s := h.market.Status()
	return marketStatusResponse{
		Running:    s.Running,
		Ticks:      s.Ticks,
		LastTickAt: formatTimePtr(s.LastTickAt),
	}
}
