package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gdsec-test/dcu-middleware/internal/enrichment"
)

const auditClientIP = "cmap.service.int.godaddy.com"

// Resolver maps legacy shopper ids and customer ids onto each other through
// the identity service. The client is expected to present the service
// certificate.
type Resolver struct {
	baseURL string
	http    *http.Client
}

// NewResolver builds a resolver.
func NewResolver(baseURL string, httpClient *http.Client) *Resolver {
	return &Resolver{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// ResolveShopperID returns the shopper id owning customerID, or "" when the
// service knows no such customer.
func (r *Resolver) ResolveShopperID(ctx context.Context, customerID string) (string, error) {
	var out struct {
		ShopperID string `json:"shopperId"`
	}
	endpoint := fmt.Sprintf("%s/v1/customers/%s/shopper", r.baseURL, url.PathEscape(customerID))
	if err := r.get(ctx, "resolve shopper id", endpoint, &out); err != nil {
		return "", err
	}
	return out.ShopperID, nil
}

// ResolveCustomerID returns the customer id for a legacy shopper id, or "".
func (r *Resolver) ResolveCustomerID(ctx context.Context, shopperID string) (string, error) {
	var out struct {
		CustomerID string `json:"customerId"`
	}
	endpoint := fmt.Sprintf("%s/v1/shoppers/%s?includes=customerId", r.baseURL, url.PathEscape(shopperID))
	if err := r.get(ctx, "resolve customer id", endpoint, &out); err != nil {
		return "", err
	}
	return out.CustomerID, nil
}

func (r *Resolver) get(ctx context.Context, op, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("auditClientIp", auditClientIP)
	req.URL.RawQuery = q.Encode()

	resp, err := r.http.Do(req)
	if err != nil {
		return &enrichment.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return &enrichment.TransportError{Op: op, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 300:
		return &enrichment.MalformedResponseError{Reason: fmt.Sprintf("%s: status %d", op, resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &enrichment.MalformedResponseError{Reason: op + ": " + err.Error()}
	}
	return nil
}
