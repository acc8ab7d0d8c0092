package abuseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gdsec-test/dcu-middleware/internal/auth"
)

// Client notifies the upstream abuse API about tickets closed by the pipeline.
type Client struct {
	ticketsURL string
	http       *http.Client
	tokens     *auth.TokenCache
}

// NewClient builds a client. tokens is normally backed by a password fetcher.
func NewClient(ticketsURL string, httpClient *http.Client, tokens *auth.TokenCache) *Client {
	return &Client{ticketsURL: strings.TrimRight(ticketsURL, "/"), http: httpClient, tokens: tokens}
}

// CloseIncident marks the upstream ticket closed with reason. The API answers
// 204 on success.
func (c *Client) CloseIncident(ctx context.Context, ticketID, reason string) error {
	payload, err := json.Marshal(map[string]string{"closed": "true", "close_reason": reason})
	if err != nil {
		return err
	}
	endpoint := c.ticketsURL + "/" + url.PathEscape(ticketID)

	resp, err := c.tokens.Do(ctx, c.http, func(token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", token)
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("close upstream ticket %s: %w", ticketID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("close upstream ticket %s: status %d", ticketID, resp.StatusCode)
	}
	return nil
}
