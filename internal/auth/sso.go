package auth

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// TokenFetcher obtains a fresh JWT from the SSO issuer.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (string, error)
}

// SSOFetcher posts to an SSO token endpoint and returns the "data" field of the
// answer.
type SSOFetcher struct {
	Endpoint string
	Form     url.Values
	JSON     any
	Query    url.Values
	Client   *http.Client
}

// NewCertFetcher exchanges the client certificate carried by client for a JWT.
func NewCertFetcher(ssoURL string, client *http.Client) *SSOFetcher {
	return &SSOFetcher{
		Endpoint: strings.TrimRight(ssoURL, "/") + "/v1/secure/api/token",
		Form:     url.Values{"realm": {"cert"}},
		Client:   client,
	}
}

// NewPasswordFetcher exchanges a username and password for a JWT.
func NewPasswordFetcher(ssoURL, username, password string, client *http.Client) *SSOFetcher {
	return &SSOFetcher{
		Endpoint: strings.TrimRight(ssoURL, "/") + "/v1/api/token",
		JSON:     map[string]string{"username": username, "password": password},
		Query:    url.Values{"realm": {"idp"}},
		Client:   client,
	}
}

func (f *SSOFetcher) FetchToken(ctx context.Context) (string, error) {
	endpoint := f.Endpoint
	if len(f.Query) > 0 {
		endpoint += "?" + f.Query.Encode()
	}

	var body io.Reader
	contentType := "application/x-www-form-urlencoded"
	if f.JSON != nil {
		raw, err := json.Marshal(f.JSON)
		if err != nil {
			return "", err
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	} else {
		body = strings.NewReader(f.Form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sso token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("sso token request: status %d", resp.StatusCode)
	}

	var payload struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode sso token: %w", err)
	}
	if payload.Data == "" {
		return "", fmt.Errorf("sso token response carried no token")
	}
	return payload.Data, nil
}

// refreshTimeout bounds one shared token fetch.
const refreshTimeout = 30 * time.Second

// TokenCache is the process-wide cell holding one SSO token. Reads are shared;
// a refresh stores the fetched token only when it is not older than the cached
// one, and concurrent refreshes collapse into one fetch.
type TokenCache struct {
	fetcher TokenFetcher
	group   singleflight.Group

	mu     sync.RWMutex
	token  string
	issued time.Time
}

// NewTokenCache builds a lazily populated cache.
func NewTokenCache(fetcher TokenFetcher) *TokenCache {
	return &TokenCache{fetcher: fetcher}
}

// Token returns the cached token, fetching one on first use.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok := c.current(); tok != "" {
		return tok, nil
	}
	return c.Refresh(ctx, "")
}

// Refresh replaces stale. If another caller already swapped stale out, the
// current token is returned without contacting the issuer.
func (c *TokenCache) Refresh(ctx context.Context, stale string) (string, error) {
	if cur := c.current(); cur != "" && cur != stale {
		return cur, nil
	}
	// The shared fetch must not inherit one caller's deadline; every caller
	// still gives up on its own ctx.
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		tok, err := c.fetcher.FetchToken(fetchCtx)
		if err != nil {
			return "", err
		}
		return c.offer(tok), nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Do sends the request built by newReq with the cached token and, on 401 or
// 403, once more with a refreshed token.
func (c *TokenCache) Do(ctx context.Context, client *http.Client, newReq func(token string) (*http.Request, error)) (*http.Response, error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := send(client, newReq, tok)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	tok, err = c.Refresh(ctx, tok)
	if err != nil {
		return nil, err
	}
	return send(client, newReq, tok)
}

func send(client *http.Client, newReq func(string) (*http.Request, error), tok string) (*http.Response, error) {
	req, err := newReq(tok)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

func (c *TokenCache) current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *TokenCache) offer(tok string) string {
	iat := issuedAt(tok)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !iat.Before(c.issued) {
		c.token = tok
		c.issued = iat
	}
	return c.token
}

// issuedAt reads the iat claim without verifying the signature. Tokens without
// a readable iat sort as the oldest.
func issuedAt(tok string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil || claims.IssuedAt == nil {
		return time.Time{}
	}
	return claims.IssuedAt.Time
}

// NewHTTPClient returns a client presenting the given certificate pair. Empty
// paths yield a plain client.
func NewHTTPClient(certPath, keyPath string, timeout time.Duration) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	if certPath == "" || keyPath == "" {
		return client, nil
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	client.Transport = transport
	return client, nil
}
