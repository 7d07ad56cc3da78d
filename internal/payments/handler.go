package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/reader-dict/website/internal/catalog"
	"github.com/reader-dict/website/internal/platform/middleware"
)

// PreOrderer opens a hosted checkout for a dictionary.
type PreOrderer interface {
	PreOrder(ctx context.Context, src, dst string) (string, error)
}

// Handler exposes the webhook and pre-order endpoints.
type Handler struct {
	registry  *Registry
	preOrders PreOrderer
	logger    *slog.Logger
}

func NewHandler(registry *Registry, preOrders PreOrderer, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, preOrders: preOrders, logger: logger}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/webhook/{provider}", h.HandleWebhook)
	if h.preOrders != nil {
		mux.HandleFunc("GET /api/v1/pre-order/{src}/{dst}", h.HandlePreOrder)
	}
}

func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(strings.TrimSpace(r.PathValue("provider")))
	requestID := middleware.GetRequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResult("invalid request body"))
		return
	}
	h.logger.Info("webhook received", "provider", provider, "request_id", requestID, "bytes", len(body))

	res, err := h.registry.Dispatch(r.Context(), provider, r.Header, body)
	switch {
	case errors.Is(err, ErrUnknownProvider):
		h.logger.Error("unknown webhook provider", "provider", provider, "request_id", requestID)
		writeJSON(w, http.StatusNotFound, errorResult("unsupported provider"))
	case errors.Is(err, ErrMalformedEvent):
		h.logger.Error("malformed webhook event", "provider", provider, "request_id", requestID, "error", err)
		writeJSON(w, http.StatusBadRequest, errorResult("malformed webhook event"))
	case err != nil:
		// Non-2xx so the provider redelivers; every transition is idempotent.
		h.logger.Error("processing webhook failed", "provider", provider, "request_id", requestID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResult("processing webhook failed"))
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) HandlePreOrder(w http.ResponseWriter, r *http.Request) {
	src, dst := r.PathValue("src"), r.PathValue("dst")

	checkoutURL, err := h.preOrders.PreOrder(r.Context(), src, dst)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown dictionary"})
	case err != nil:
		h.logger.Error("pre-order failed", "dictionary", src+"-"+dst, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "checkout unavailable"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"url": checkoutURL})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
