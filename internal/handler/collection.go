package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/basket-sync/internal/auth"
	"github.com/vyrodovalexey/basket-sync/internal/model"
	"github.com/vyrodovalexey/basket-sync/internal/service"
	"github.com/vyrodovalexey/basket-sync/internal/store"
)

// CollectionHandler serves /api/{kind} for one collection kind.
type CollectionHandler[T model.Line[T]] struct {
	svc    *service.CollectionService[T]
	logger *zap.Logger
}

// NewCollectionHandler creates a handler over svc.
func NewCollectionHandler[T model.Line[T]](svc *service.CollectionService[T], logger *zap.Logger) *CollectionHandler[T] {
	return &CollectionHandler[T]{
		svc:    svc,
		logger: logger.With(zap.String("collection", string(svc.Kind()))),
	}
}

// RegisterRoutes registers the collection routes. The quantity route exists
// only for the cart.
func (h *CollectionHandler[T]) RegisterRoutes(router *mux.Router) {
	base := "/api/" + string(h.svc.Kind())

	router.HandleFunc(base, h.Get).Methods(http.MethodGet)
	router.HandleFunc(base, h.Sync).Methods(http.MethodPost)
	router.HandleFunc(base, h.Clear).Methods(http.MethodDelete)
	router.HandleFunc(base+"/items", h.Upsert).Methods(http.MethodPost)
	router.HandleFunc(base+"/items/{productId}", h.Remove).Methods(http.MethodDelete)
	if h.svc.Kind() == model.KindCart {
		router.HandleFunc(base+"/items/{productId}", h.SetQuantity).Methods(http.MethodPut)
	}
}

// Get handles GET /api/{kind}.
func (h *CollectionHandler[T]) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	items, err := h.svc.Get(r.Context(), userID)
	if err != nil {
		h.handleError(w, err, "get")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(nonNil(items)))
}

// Sync handles POST /api/{kind}: the body is the client's collection, the
// response is the merged one.
func (h *CollectionHandler[T]) Sync(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var incoming []T
	if err := decodeJSON(w, r, &incoming); err != nil {
		h.logger.Warn("invalid request body", zap.Error(err))
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	merged, err := h.svc.Sync(r.Context(), userID, incoming)
	if err != nil {
		h.handleError(w, err, "sync")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(nonNil(merged)))
}

// Upsert handles POST /api/{kind}/items.
func (h *CollectionHandler[T]) Upsert(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var item T
	if err := decodeJSON(w, r, &item); err != nil {
		h.logger.Warn("invalid request body", zap.Error(err))
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.Upsert(r.Context(), userID, item); err != nil {
		h.handleError(w, err, "upsert")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(item))
}

// SetQuantity handles PUT /api/cart/items/{productId}.
func (h *CollectionHandler[T]) SetQuantity(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var body model.QuantityUpdate
	if err := decodeJSON(w, r, &body); err != nil {
		h.logger.Warn("invalid request body", zap.Error(err))
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	if err := h.svc.SetQuantity(r.Context(), userID, productID, body.Quantity); err != nil {
		h.handleError(w, err, "set quantity")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(body))
}

// Remove handles DELETE /api/{kind}/items/{productId}.
func (h *CollectionHandler[T]) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Remove(r.Context(), userID, productID); err != nil {
		h.handleError(w, err, "remove")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /api/{kind}.
func (h *CollectionHandler[T]) Clear(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	if err := h.svc.Clear(r.Context(), userID); err != nil {
		h.handleError(w, err, "clear")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CollectionHandler[T]) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user.ID == "" {
		writeError(w, h.logger, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return user.ID, true
}

// handleError maps service and store errors onto HTTP responses.
func (h *CollectionHandler[T]) handleError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, h.logger, http.StatusNotFound, "item not found")
	case errors.Is(err, store.ErrInvalidID):
		writeError(w, h.logger, http.StatusBadRequest, "invalid product ID")
	case errors.Is(err, service.ErrInvalidItem), errors.Is(err, service.ErrInvalidQuantity):
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("collection operation failed", zap.String("operation", operation), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error")
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// productID returns the decoded {productId} path variable. Routers built with
// UseEncodedPath hand it over still escaped, so ids containing "/" survive
// routing.
func (h *CollectionHandler[T]) productID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := url.PathUnescape(mux.Vars(r)["productId"])
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid product id")
		return "", false
	}
	return id, true
}
