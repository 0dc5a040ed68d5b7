// internal/clients/catalog_client.go
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"bookwarehouse/internal/catalog"

	"github.com/sony/gobreaker"
)

const (
	defaultClientTimeout = 5 * time.Second
	breakerTripFailures  = 5
	breakerOpenTimeout   = 10 * time.Second
)

// CatalogClient is a catalog.Lookup backed by the catalog service's HTTP API.
// Calls go through a circuit breaker; a 404 is an answer, not a failure.
type CatalogClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultClientTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "catalog",
			MaxRequests: 1,
			Timeout:     breakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerTripFailures
			},
		}),
	}
}

// State reports the circuit breaker state.
func (c *CatalogClient) State() gobreaker.State {
	return c.breaker.State()
}

func (c *CatalogClient) GetBook(ctx context.Context, id string) (*catalog.Book, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var book catalog.Book
		found, err := c.getJSON(ctx, "/books/"+url.PathEscape(id), &book)
		if err != nil || !found {
			return nil, err
		}
		return &book, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get book %s: %w", id, err)
	}
	if result == nil {
		return nil, catalog.ErrBookNotFound
	}
	return result.(*catalog.Book), nil
}

func (c *CatalogClient) ListBooks(ctx context.Context) ([]*catalog.Book, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var books []*catalog.Book
		if _, err := c.getJSON(ctx, "/books", &books); err != nil {
			return nil, err
		}
		return books, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return result.([]*catalog.Book), nil
}

// getJSON decodes a 200 response into v. It reports found=false on 404.
func (c *CatalogClient) getJSON(ctx context.Context, path string, v any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}

// IsBreakerOpen reports whether err was caused by an open or saturated breaker.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
