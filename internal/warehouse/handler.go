// internal/warehouse/handler.go
package warehouse

import (
	"encoding/json"
	"errors"
	"net/http"

	"bookwarehouse/internal/catalog"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts the warehouse and stock-enriched book endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/warehouse", func(r chi.Router) {
		r.Post("/place-books", h.HandlePlaceBooks)
		r.Get("/find-book/{bookId}", h.HandleFindBook)
		r.Post("/order", h.HandleCreateOrder)
		r.Get("/orders", h.HandleListOrders)
		r.Get("/orders/{orderId}", h.HandleGetOrder)
		r.Post("/fulfil-order", h.HandleFulfilOrder)
	})
	r.Get("/books", h.HandleListBooks)
	r.Get("/books/{id}", h.HandleGetBook)
}

// RateLimit rejects requests with 429 once the shared token bucket is empty.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type bookStockResponse struct {
	*catalog.Book
	Stock int `json:"stock"`
}

func (h *Handler) HandlePlaceBooks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookID        string `json:"bookId"`
		NumberOfBooks int    `json:"numberOfBooks"`
		Shelf         string `json:"shelf"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.PlaceOnShelf(r.Context(), req.BookID, req.NumberOfBooks, req.Shelf); err != nil {
		h.writeError(w, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "Books placed on shelf successfully"})
}

func (h *Handler) HandleFindBook(w http.ResponseWriter, r *http.Request) {
	locations, err := h.service.Locate(r.Context(), chi.URLParam(r, "bookId"))
	if err != nil {
		h.writeError(w, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, locations)
}

func (h *Handler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Books []string `json:"books"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	orderID, err := h.service.Order(r.Context(), req.Books)
	if err != nil {
		h.writeError(w, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"orderId": orderID})
}

func (h *Handler) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	orders := []*Order{}
	for order, err := range h.service.ListOrders(r.Context()) {
		if err != nil {
			h.writeError(w, err, http.StatusBadRequest)
			return
		}
		orders = append(orders, order)
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleFulfilOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID        string            `json:"orderId"`
		BooksFulfilled []FulfillmentLine `json:"booksFulfilled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.Fulfil(r.Context(), req.OrderID, req.BooksFulfilled); err != nil {
		h.writeError(w, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Order fulfilled successfully"})
}

func (h *Handler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.AllBooksWithStock(r.Context())
	if err != nil {
		h.writeError(w, err, http.StatusBadRequest)
		return
	}
	out := make([]bookStockResponse, len(books))
	for i, b := range books {
		out[i] = bookStockResponse{Book: b.Book, Stock: b.Stock}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.BookWithStock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, bookStockResponse{Book: book.Book, Stock: book.Stock})
}

// writeError maps domain errors to status codes. unknownStatus is used for
// unknown books and orders, which are 404 on reads and 400 on mutations.
func (h *Handler) writeError(w http.ResponseWriter, err error, unknownStatus int) {
	switch {
	case errors.Is(err, ErrUnknownBook), errors.Is(err, ErrUnknownOrder):
		http.Error(w, err.Error(), unknownStatus)
	case errors.Is(err, ErrOrderNotPending):
		http.Error(w, err.Error(), http.StatusConflict)
	case IsClientError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
