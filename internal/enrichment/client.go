package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gdsec-test/dcu-middleware/internal/auth"
	"github.com/gdsec-test/dcu-middleware/internal/domain"
)

// requiredObjects must all be JSON objects under data.domainQuery.
var requiredObjects = []string{"apiReseller", "host", "registrar", "securitySubscription", "shopperInfo"}

const domainQueryFields = `
    domain
    blacklist
    isDomainHighValue
    apiReseller { child parent parentCustomerId childCustomerId }
    securitySubscription { sucuriProduct }
    host {
      brand product guid shopperId customerId entitlementId username ip hostname
      dataCenter containerId hostingCompanyName privateLabelId shopperCreateDate
      vip { blacklist portfolioType shopperId }
    }
    registrar { brand domainId domainCreateDate registrarName registrarAbuseEmail }
    shopperInfo {
      shopperId customerId shopperCreateDate domainCount
      vip { blacklist portfolioType shopperId }
    }`

// Client queries the record-enrichment service.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *auth.TokenCache
}

// NewClient builds a client. httpClient should carry the service client
// certificate; tokens holds the SSO JWT sent as "sso-jwt".
func NewClient(baseURL string, httpClient *http.Client, tokens *auth.TokenCache) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, tokens: tokens}
}

// Query returns the ownership facts for domainName. path is the escaped URL
// path of the reported source.
func (c *Client) Query(ctx context.Context, domainName, path string) (*domain.EnrichmentData, error) {
	query := fmt.Sprintf("{\n  domainQuery(domain: %s, path: %s) {%s\n  }\n}", quote(domainName), quote(path), domainQueryFields)

	body, err := c.post(ctx, "domain query", "/graphql", "application/graphql", []byte(query))
	if err != nil {
		return nil, err
	}

	dq, err := decodeDomainQuery(body)
	if err != nil {
		return nil, err
	}
	if dq.Host != nil {
		if reseller, ok := domain.ResellerForPrivateLabel(dq.Host.PrivateLabelID); ok {
			dq.Host.Reseller = string(reseller)
		}
	}
	return &domain.EnrichmentData{DomainQuery: dq}, nil
}

// EntitlementHost looks up the hosting product behind a customer entitlement.
// The service answers with a list holding one product per entitlement.
func (c *Client) EntitlementHost(ctx context.Context, customerID, entitlementID string) (*domain.Host, error) {
	path := "/v1/nes/" + url.PathEscape(customerID) + "/" + url.PathEscape(entitlementID)
	body, err := c.post(ctx, "entitlement lookup", path, "application/json", nil)
	if err != nil {
		return nil, err
	}

	var hosts []domain.Host
	if err := json.Unmarshal(body, &hosts); err != nil {
		return nil, &MalformedResponseError{Reason: "entitlement lookup: " + err.Error()}
	}
	if len(hosts) == 0 {
		return nil, &MalformedResponseError{Reason: "entitlement lookup returned no product"}
	}
	return &hosts[0], nil
}

// ProductLookup runs the product specific hosting lookup for a known guid.
func (c *Client) ProductLookup(ctx context.Context, domainName, guid, ip, product string) (*domain.Host, error) {
	payload, err := json.Marshal(map[string]string{
		"domain":  domainName,
		"guid":    guid,
		"ip":      ip,
		"product": product,
	})
	if err != nil {
		return nil, err
	}
	host, err := c.lookupHost(ctx, "product lookup", "/v1/hosted/lookup", payload)
	if err != nil {
		return nil, err
	}
	if reseller, ok := domain.ResellerForPrivateLabel(host.PrivateLabelID); ok {
		host.Reseller = string(reseller)
	}
	return host, nil
}

// ShopperLookup returns the account facts of shopperID in host form.
func (c *Client) ShopperLookup(ctx context.Context, shopperID string) (*domain.Host, error) {
	payload, err := json.Marshal(map[string]string{"shopper_id": shopperID})
	if err != nil {
		return nil, err
	}
	return c.lookupHost(ctx, "shopper lookup", "/v1/shopper/lookup", payload)
}

func (c *Client) lookupHost(ctx context.Context, op, path string, payload []byte) (*domain.Host, error) {
	body, err := c.post(ctx, op, path, "application/json", payload)
	if err != nil {
		return nil, err
	}
	if !isObject(body) {
		return nil, &MalformedResponseError{Reason: op + " did not return an object"}
	}
	var host domain.Host
	if err := json.Unmarshal(body, &host); err != nil {
		return nil, &MalformedResponseError{Reason: op + ": " + err.Error()}
	}
	return &host, nil
}

func (c *Client) post(ctx context.Context, op, path, contentType string, payload []byte) ([]byte, error) {
	resp, err := c.tokens.Do(ctx, c.http, func(token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "sso-jwt "+token)
		return req, nil
	})
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 300:
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("%s: status %d", op, resp.StatusCode)}
	}
	return body, nil
}

func decodeDomainQuery(body []byte) (*domain.DomainQuery, error) {
	var envelope struct {
		Data   map[string]json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &MalformedResponseError{Reason: err.Error()}
	}
	if len(envelope.Errors) > 0 {
		return nil, &MalformedResponseError{Reason: "query errors: " + envelope.Errors[0].Message}
	}
	if envelope.Data == nil {
		return nil, &MalformedResponseError{Reason: "data is not an object"}
	}

	raw, ok := envelope.Data["domainQuery"]
	if !ok || !isObject(raw) {
		return nil, &MalformedResponseError{Reason: "domainQuery is not an object"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &MalformedResponseError{Reason: err.Error()}
	}
	for _, name := range requiredObjects {
		if !isObject(fields[name]) {
			return nil, &MalformedResponseError{Reason: name + " is not an object"}
		}
	}

	var dq domain.DomainQuery
	if err := json.Unmarshal(raw, &dq); err != nil {
		return nil, &MalformedResponseError{Reason: err.Error()}
	}
	return &dq, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// quote renders s as a GraphQL string literal, which shares JSON escaping.
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// IsRetryable reports whether err is worth another enrichment attempt.
func IsRetryable(err error) bool {
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return false
	}
	return err != nil
}
