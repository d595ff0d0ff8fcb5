package collections

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/entities"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/report"
)

// Handler serves the collection and reference endpoints.
type Handler struct {
	logger      *slog.Logger
	catalog     *entities.Catalog
	store       Store
	maxPageSize int
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, catalog *entities.Catalog, store Store, maxPageSize int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, catalog: catalog, store: store, maxPageSize: maxPageSize}
}

// MountRoutes registers the read-only collection routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/refs/{collection}", h.references)
	r.Get("/*", h.list)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ent, err := h.catalog.EntityAt(r.URL.Path)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
		return
	}
	q, err := ParseQuery(ent, r.URL.Query(), h.maxPageSize)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, total, err := h.store.List(r.Context(), q)
	if err != nil {
		h.fail(w, r, ent.Name, err)
		return
	}

	recordsKey, totalKey := ent.Envelope.Records, ent.Envelope.Total
	if recordsKey == "" {
		recordsKey = "data"
	}
	if totalKey == "" {
		totalKey = "total"
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		recordsKey:           records,
		totalKey:             total,
		report.ParamPage:     q.Page,
		report.ParamPageSize: q.PageSize,
	})
}

func (h *Handler) references(w http.ResponseWriter, r *http.Request) {
	ref, err := h.catalog.Reference(chi.URLParam(r, "collection"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
		return
	}
	records, err := h.store.References(r.Context(), ref)
	if err != nil {
		h.fail(w, r, ref.Name, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": records})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, name string, err error) {
	if errors.Is(err, r.Context().Err()) && r.Context().Err() != nil {
		return
	}
	if !errors.Is(err, httpx.ErrValidation) {
		h.logger.Error("list collection", slog.String("collection", name), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
