package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"price_watch/internal/domain"
	"price_watch/internal/service"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the HTTP control surface over a FeedService
type Handler struct {
	feeds *service.FeedService
	store Pinger // optional
}

func NewHandler(feeds *service.FeedService, store Pinger) *Handler {
	return &Handler{feeds: feeds, store: store}
}

// StartFeedRequest starts a feed. A missing or null price disables the threshold.
type StartFeedRequest struct {
	Symbol string           `json:"symbol"`
	Price  *decimal.Decimal `json:"price"`
}

type StartFeedResponse struct {
	ID      string  `json:"id"`
	Symbol  string  `json:"symbol"`
	Results *string `json:"results"`
}

// LivePriceResponse keeps the field names existing clients read
type LivePriceResponse struct {
	Symbol string          `json:"Symbol"`
	Price  string          `json:"price"`
	User   json.RawMessage `json:"user,omitempty"`
}

// NewRouter registers every route. Method checks live in the handlers so a
// wrong method gets the structured 405 body instead of mux's plain one.
func NewRouter(h *Handler) *mux.Router {
	router := mux.NewRouter()
	router.Use(logRequests)

	router.HandleFunc("/websocket", h.handleStartFeed)
	router.HandleFunc("/live_price", h.handleLivePrice)
	router.HandleFunc("/prices/{symbol}", h.handlePrice)
	router.HandleFunc("/feeds", h.handleFeeds)
	router.HandleFunc("/feeds/{id}", h.handleFeed)
	router.HandleFunc("/stats", h.handleStats)
	router.HandleFunc("/health", h.handleHealth)
	return router
}

// NewServer wraps the router in an http.Server with sane timeouts
func NewServer(addr string, h *Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func (h *Handler) handleStartFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(http.MethodPost, w)
		return
	}

	var req StartFeedRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		setErrorResponse(http.StatusBadRequest, "invalid request body: "+err.Error(), w)
		return
	}

	handle, err := h.feeds.StartFeed(req.Symbol, domain.ThresholdFromPtr(req.Price))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrInvalidSymbol):
			status = http.StatusBadRequest
		case errors.Is(err, domain.ErrServiceClosed):
			status = http.StatusServiceUnavailable
		}
		setErrorResponse(status, err.Error(), w)
		return
	}

	resp := StartFeedResponse{ID: handle.ID, Symbol: handle.Symbol}
	price, found, err := h.feeds.GetCurrentPrice(r.Context(), handle.Symbol)
	if err != nil {
		slog.Warn("Current price lookup failed", slog.String("symbol", handle.Symbol), slog.Any("error", err))
	}
	if found {
		p := price.String()
		resp.Results = &p
	}

	if err := setResponse(resp, w); err != nil {
		slog.Warn("handleStartFeed: failed to set response", slog.Any("error", err))
	}
}

func (h *Handler) handleLivePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(http.MethodGet, w)
		return
	}

	snap, err := h.feeds.GetCurrentSnapshot(r.Context())
	if err != nil {
		setErrorResponse(statusFor(err), err.Error(), w)
		return
	}

	// Before the first trade both fields are empty
	resp := LivePriceResponse{}
	if snap != nil {
		resp.Symbol = snap.Symbol
		resp.Price = snap.Price.String()
		if th, ok := snap.Threshold.Price(); ok {
			resp.User = json.RawMessage(th.String())
		}
	}

	if err := setResponse(resp, w); err != nil {
		slog.Warn("handleLivePrice: failed to set response", slog.Any("error", err))
	}
}

func (h *Handler) handlePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(http.MethodGet, w)
		return
	}

	symbol := mux.Vars(r)["symbol"]
	entry, err := h.feeds.GetLatest(r.Context(), symbol)
	if err != nil {
		setErrorResponse(statusFor(err), err.Error(), w)
		return
	}
	if entry == nil {
		setErrorResponse(http.StatusNotFound, "no price recorded for "+symbol, w)
		return
	}

	if err := setResponse(entry, w); err != nil {
		slog.Warn("handlePrice: failed to set response", slog.Any("error", err))
	}
}

func (h *Handler) handleFeeds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(http.MethodGet, w)
		return
	}

	response := map[string]interface{}{
		"feeds": h.feeds.Feeds(),
	}
	if err := setResponse(response, w); err != nil {
		slog.Warn("handleFeeds: failed to set response", slog.Any("error", err))
	}
}

func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(http.MethodDelete, w)
		return
	}

	if err := h.feeds.StopFeedByID(mux.Vars(r)["id"]); err != nil {
		setErrorResponse(statusFor(err), err.Error(), w)
		return
	}
	if err := setResponse(statusResponse{Status: true}, w); err != nil {
		slog.Warn("handleFeed: failed to set response", slog.Any("error", err))
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(http.MethodGet, w)
		return
	}
	if err := setResponse(h.feeds.Metrics().Snapshot(), w); err != nil {
		slog.Warn("handleStats: failed to set response", slog.Any("error", err))
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(http.MethodGet, w)
		return
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			writeJSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()}, w)
			return
		}
	}
	setResponse(map[string]string{"status": "ok"}, w)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidSymbol):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrFeedNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
