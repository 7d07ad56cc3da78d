package downloads

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os"

	"github.com/reader-dict/website/internal/platform/middleware"
)

// Handler exposes the download pages, file links and public catalog.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /download/{lang}", h.HandleMonolingual)
	mux.HandleFunc("GET /download/{src}/{dst}", h.HandleBilingual)
	mux.HandleFunc("GET /file/{token}", h.HandleFile)
	mux.HandleFunc("GET /file/{lang}/{name}", h.HandleFreeFile)
	mux.HandleFunc("GET /api/v1/dictionaries", h.HandleDictionaries)
}

func (h *Handler) HandleMonolingual(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.Monolingual(r.PathValue("lang"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) HandleBilingual(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orderID := q.Get("order")
	if orderID == "" {
		orderID = q.Get("subscription")
	}

	page, err := h.svc.Bilingual(r.PathValue("src"), r.PathValue("dst"), orderID, q.Get("checkpoint"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("download page served", "order_id", orderID, "dictionary", page.Dictionary,
		"request_id", middleware.GetRequestID(r.Context()))
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) HandleFile(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.Resolve(r.PathValue("token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("file downloaded", "source", f.Source, "order_id", f.OrderID, "file", f.Name)
	h.serve(w, r, f)
}

func (h *Handler) HandleFreeFile(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.ResolveFree(r.PathValue("lang"), r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.serve(w, r, f)
}

func (h *Handler) HandleDictionaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.svc.Summaries()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, f File) {
	fh, err := os.Open(f.Path)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.svc.Record(r.Context(), f)

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
	if f.Source != sourceFree {
		w.Header().Set("File-Source", f.Source)
	}
	http.ServeContent(w, r, f.Name, info.ModTime(), fh)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrGone):
		status = http.StatusGone
	}

	attrs := []any{"path", r.URL.Path, "status", status, "error", err, "request_id", middleware.GetRequestID(r.Context())}
	if status == http.StatusInternalServerError {
		h.logger.Error("download failed", attrs...)
	} else {
		h.logger.Warn("download refused", attrs...)
	}
	writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
