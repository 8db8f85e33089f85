package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/api"
	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/receipt"
	"github.com/vladislavdragonenkov/pos/internal/service/sale"
)

const (
	maxBodyBytes         = 1 << 20
	idempotencyKeyHeader = "Idempotency-Key"
)

// SaleService - операции кассы, доступные по REST.
type SaleService interface {
	Replay(ctx context.Context, saleID string) (domain.Sale, bool, error)
	BuildCart(ctx context.Context, draft sale.CartDraft) (*domain.Cart, error)
	Commit(ctx context.Context, req sale.CommitRequest) (domain.Sale, error)
	Get(ctx context.Context, saleID string) (domain.Sale, error)
	Void(ctx context.Context, saleID, reason string) (domain.Sale, error)
	Receipt(ctx context.Context, saleID string) (receipt.Document, error)
	History(ctx context.Context, saleID string) ([]domain.SaleEvent, error)
	Quote(ctx context.Context, draft sale.CartDraft) (sale.Quote, error)
}

// Handler обслуживает REST API продаж.
type Handler struct {
	sales   SaleService
	catalog domain.Catalog
	logger  *log.Entry
}

// NewHandler создаёт Handler. catalog может быть nil, тогда /items недоступен.
func NewHandler(sales SaleService, catalog domain.Catalog, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{sales: sales, catalog: catalog, logger: logger}
}

// CommitSale - POST /api/v1/sales.
func (h *Handler) CommitSale(w http.ResponseWriter, r *http.Request) {
	var req api.CommitSaleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, api.Error{Code: api.CodeValidation, Message: err.Error()})
		return
	}
	if req.SaleID == "" {
		req.SaleID = strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	}

	// Повтор отдаёт записанную продажу, даже если товар с тех пор убран из каталога.
	stored, replayed, err := h.sales.Replay(r.Context(), req.SaleID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	if replayed {
		respondJSON(w, http.StatusCreated, api.FromSale(stored))
		return
	}

	cart, err := h.sales.BuildCart(r.Context(), req.Draft())
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	committed, err := h.sales.Commit(r.Context(), sale.CommitRequest{
		SaleID:        req.SaleID,
		Cart:          cart,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, api.FromSale(committed))
}

// GetSale - GET /api/v1/sales/{saleID}.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	found, err := h.sales.Get(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, api.FromSale(found))
}

// VoidSale - POST /api/v1/sales/{saleID}/void.
func (h *Handler) VoidSale(w http.ResponseWriter, r *http.Request) {
	var req api.VoidSaleRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, api.Error{Code: api.CodeValidation, Message: err.Error()})
		return
	}

	voided, err := h.sales.Void(r.Context(), chi.URLParam(r, "saleID"), req.Reason)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, api.FromSale(voided))
}

// GetReceipt - GET /api/v1/sales/{saleID}/receipt.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	doc, err := h.sales.Receipt(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// GetSaleEvents - GET /api/v1/sales/{saleID}/events.
func (h *Handler) GetSaleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.sales.History(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, api.FromEvents(events))
}

// Quote - POST /api/v1/quotes.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req api.CartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, api.Error{Code: api.CodeValidation, Message: err.Error()})
		return
	}

	quote, err := h.sales.Quote(r.Context(), req.Draft())
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, api.FromQuote(quote))
}

// GetItem - GET /api/v1/items/{itemID}.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		respondError(w, http.StatusNotFound, api.Error{Code: api.CodeNotFound, Message: "catalog is not configured"})
		return
	}
	item, err := h.catalog.GetItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, api.FromItem(item))
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	body := api.NewError(err)
	status := statusFor(body.Code)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Warn("request failed")
	}
	if body.Code == api.CodeContention {
		w.Header().Set("Retry-After", "1")
	}
	respondError(w, status, body)
}

func statusFor(code api.ErrorCode) int {
	switch code {
	case api.CodeValidation:
		return http.StatusBadRequest
	case api.CodeInsufficientStock:
		return http.StatusConflict
	case api.CodeContention:
		return http.StatusServiceUnavailable
	case api.CodeNotFound:
		return http.StatusNotFound
	case api.CodeCanceled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, body api.Error) {
	respondJSON(w, status, body)
}
