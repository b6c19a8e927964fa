package handler

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/efreitasn/simexchange/internal/metrics"
	"github.com/efreitasn/simexchange/internal/service"
)

// Deps collects everything the router wires into handlers.
type Deps struct {
	Participants *service.ParticipantService
	Orders       *service.OrderService
	Market       *service.MarketService
	Settlement   *service.SettlementService

	// MarketControl and Base back the admin routes. Base bounds the
	// lifetime of loops started over HTTP.
	MarketControl MarketControl
	Base          context.Context

	Hub         *Hub
	Metrics     *metrics.Metrics
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter creates a chi router with all routes registered, request logging,
// CORS and Content-Type validation middleware.
func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()

	logger := d.Logger.Named("http")
	base := d.Base
	if base == nil {
		base = context.Background()
	}

	// Global middleware.
	r.Use(requestLogging(logger, d.Metrics))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler)
	r.Use(contentTypeJSON)

	participantH := NewParticipantHandler(d.Participants)
	orderH := NewOrderHandler(d.Orders)
	marketH := NewMarketHandler(d.Market)
	settlementH := NewSettlementHandler(d.Settlement)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	// Participant routes.
	r.Post("/participants", participantH.Register)
	r.Get("/participants/{participant_id}/holdings", participantH.GetHoldings)
	r.Get("/participants/{participant_id}/orders", participantH.ListOrders)

	// Order routes.
	r.Post("/orders", orderH.SubmitOrder)
	r.Get("/orders/{order_id}", orderH.GetOrder)
	r.Delete("/orders/{order_id}", orderH.CancelOrder)

	// Market routes.
	r.Get("/stocks", marketH.ListSymbols)
	r.Route("/stocks/{symbol}", func(r chi.Router) {
		r.Post("/match", orderH.Match)
		r.Get("/price", marketH.GetPrice)
		r.Get("/book", marketH.GetBook)
		r.Get("/ticks", marketH.ListTicks)
		r.Get("/holdings", marketH.HoldingsBySymbol)
	})

	// Settlement routes.
	r.Route("/settlement", func(r chi.Router) {
		r.Get("/entities", settlementH.Entities)
		r.Get("/symbols", settlementH.Symbols)
		r.Get("/graph", settlementH.Graph)
		r.Post("/net", settlementH.Net)
	})

	if d.MarketControl != nil {
		adminH := NewAdminHandler(base, d.MarketControl)
		r.Get("/admin/market", adminH.Status)
		r.Post("/admin/market/start", adminH.Start)
		r.Post("/admin/market/stop", adminH.Stop)
	}

	if d.Hub != nil {
		r.Method(http.MethodGet, "/ws/trades", d.Hub)
	}

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration, and counts it in the request metrics.
func requestLogging(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			m.HTTPRequest(r.Method, ww.status)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	if !w.wroteHeader {
		w.status = http.StatusSwitchingProtocols
		w.wroteHeader = true
	}
	return hj.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests that carry a body. If the Content-Type header doesn't start
// with "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasBody := r.ContentLength != 0
		if hasBody && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
