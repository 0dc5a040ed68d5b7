// internal/catalog/handler.go
package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	lookup Lookup
}

func NewHandler(lookup Lookup) *Handler {
	return &Handler{lookup: lookup}
}

// Routes mounts the read-only catalog endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books", h.HandleListBooks)
	r.Get("/books/{id}", h.HandleGetBook)
}

func (h *Handler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.lookup.ListBooks(r.Context())
	if err != nil {
		http.Error(w, "failed to list books", http.StatusInternalServerError)
		return
	}
	if books == nil {
		books = []*Book{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(books)
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.lookup.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrBookNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "failed to get book", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(book)
}
