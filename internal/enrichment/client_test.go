package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdsec-test/dcu-middleware/internal/auth"
)

type staticFetcher struct {
	tokens []string
	calls  atomic.Int32
}

func (f *staticFetcher) FetchToken(context.Context) (string, error) {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.tokens) {
		n = len(f.tokens) - 1
	}
	return f.tokens[n], nil
}

const validResponse = `{
  "data": {
    "domainQuery": {
      "domain": "example.com",
      "blacklist": true,
      "apiReseller": {},
      "securitySubscription": {"sucuriProduct": ["WAF"]},
      "host": {"brand": "GODADDY", "product": "GenericHosting", "guid": "G1", "shopperId": "S1", "customerId": "C1", "privateLabelId": "525844"},
      "registrar": {"brand": "GODADDY", "domainId": "D1"},
      "shopperInfo": {"shopperId": "S1", "customerId": "C1"}
    }
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, tokens ...string) (*Client, *staticFetcher) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	if len(tokens) == 0 {
		tokens = []string{"tok"}
	}
	fetcher := &staticFetcher{tokens: tokens}
	return NewClient(srv.URL+"/", srv.Client(), auth.NewTokenCache(fetcher)), fetcher
}

func TestClient_Query(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		assert.Equal(t, "application/graphql", r.Header.Get("Content-Type"))
		assert.Equal(t, "sso-jwt tok", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `domainQuery(domain: "example.com", path: "/a%20b")`)
		_, _ = io.WriteString(w, validResponse)
	})

	data, err := client.Query(context.Background(), "example.com", "/a%20b")
	require.NoError(t, err)
	dq := data.DomainQuery
	require.NotNil(t, dq)
	assert.True(t, dq.Blacklist)
	assert.Equal(t, "S1", dq.Host.ShopperID)
	assert.Equal(t, "123REG", dq.Host.Reseller)
	assert.Equal(t, "D1", dq.Registrar.DomainID)
	assert.Equal(t, []string{"WAF"}, dq.SecuritySubscription.SucuriProduct)
}

func TestClient_QueryMalformed(t *testing.T) {
	cases := map[string]string{
		"graphql errors":    `{"errors":[{"message":"bad"}]}`,
		"data not object":   `{"data": []}`,
		"no domain query":   `{"data": {}}`,
		"host is null":      `{"data":{"domainQuery":{"apiReseller":{},"securitySubscription":{},"host":null,"registrar":{},"shopperInfo":{}}}}`,
		"registrar missing": `{"data":{"domainQuery":{"apiReseller":{},"securitySubscription":{},"host":{},"shopperInfo":{}}}}`,
		"not json":          `<html>`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, payload)
			})
			_, err := client.Query(context.Background(), "example.com", "/")
			var malformed *MalformedResponseError
			require.True(t, errors.As(err, &malformed), "got %v", err)
			assert.False(t, IsRetryable(err))
		})
	}
}

func TestClient_QueryStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			})
			_, err := client.Query(context.Background(), "example.com", "/")
			require.Error(t, err)
			assert.Equal(t, tc.retryable, IsRetryable(err))
		})
	}
}

func TestClient_RefreshesTokenOnceOnForbidden(t *testing.T) {
	var hits atomic.Int32
	client, fetcher := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "sso-jwt fresh" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = io.WriteString(w, validResponse)
	}, "expired", "fresh")

	_, err := client.Query(context.Background(), "example.com", "/")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestClient_StillUnauthorizedIsTransport(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, "a", "b")

	_, err := client.Query(context.Background(), "example.com", "/")
	var transport *TransportError
	require.True(t, errors.As(err, &transport))
	assert.Equal(t, http.StatusUnauthorized, transport.StatusCode)
}

func TestClient_NetworkErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, http.DefaultClient, auth.NewTokenCache(&staticFetcher{tokens: []string{"t"}}))
	_, err := client.Query(context.Background(), "example.com", "/")
	var transport *TransportError
	require.True(t, errors.As(err, &transport))
	assert.True(t, IsRetryable(err))
}

func TestClient_EntitlementHost(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/nes/C1/E1", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]map[string]string{{"brand": "GODADDY", "product": "cPanel", "guid": "G9"}})
	})

	host, err := client.EntitlementHost(context.Background(), "C1", "E1")
	require.NoError(t, err)
	assert.Equal(t, "cPanel", host.Product)
	assert.Equal(t, "G9", host.GUID)
}

func TestClient_EntitlementHostEmpty(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := client.EntitlementHost(context.Background(), "C1", "E1")
	assert.False(t, IsRetryable(err))
	assert.Error(t, err)
}

func TestClient_ProductLookup(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/hosted/lookup", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"domain": "example.com", "guid": "G2", "ip": "10.0.0.1", "product": "WordPress"}, body)
		_, _ = io.WriteString(w, `{"brand": "GODADDY", "product": "WordPress", "guid": "G2", "shopperId": "S2", "privateLabelId": "525844"}`)
	})

	host, err := client.ProductLookup(context.Background(), "example.com", "G2", "10.0.0.1", "WordPress")
	require.NoError(t, err)
	assert.Equal(t, "S2", host.ShopperID)
	assert.Equal(t, "123REG", host.Reseller)
}

func TestClient_ShopperLookup(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/shopper/lookup", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "S2", body["shopper_id"])
		_, _ = io.WriteString(w, `{"shopperId": "S2", "customerId": "C2", "shopperCreateDate": "2020-01-01", "vip": {"blacklist": true}}`)
	})

	host, err := client.ShopperLookup(context.Background(), "S2")
	require.NoError(t, err)
	assert.Equal(t, "C2", host.CustomerID)
	require.NotNil(t, host.VIP)
	assert.True(t, host.VIP.Blacklist)
}

func TestClient_ShopperLookupNotObject(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := client.ShopperLookup(context.Background(), "S2")
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}
