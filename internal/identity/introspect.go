// Package identity exchanges a client-supplied bearer token for its
// VATSIM CID via the configured identity provider's OAuth2 introspection
// endpoint, mirroring the token exchange the VATSIM Connect OAuth client
// performs, reduced here to the one call the gateway actually needs at
// connect time.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/groundvoice/internal/domain"
)

// ErrInactiveToken is returned when the provider reports the token as
// no longer valid.
var ErrInactiveToken = fmt.Errorf("token is not active")

// Client introspects bearer tokens against an OAuth2 token introspection
// endpoint (RFC 7662).
type Client struct {
	endpoint     string
	clientID     string
	clientSecret string
	http         *http.Client
}

// NewClient builds an introspection client against endpoint, authenticating
// itself to the provider with clientID/clientSecret per RFC 7662 §2.1.
func NewClient(endpoint, clientID, clientSecret string) *Client {
	return &Client{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: 10 * time.Second},
	}
}

type introspectResponse struct {
	Active bool   `json:"active"`
	CID    string `json:"cid"`
	Sub    string `json:"sub"`
}

// Introspect exchanges token for the caller's VATSIM CID. It returns
// ErrInactiveToken if the provider reports the token inactive or expired.
func (c *Client) Introspect(ctx context.Context, token string) (domain.ClientID, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("introspection request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("introspection endpoint returned %d", resp.StatusCode)
	}

	var body introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode introspection response: %w", err)
	}
	if !body.Active {
		return "", ErrInactiveToken
	}

	cid := body.CID
	if cid == "" {
		cid = body.Sub
	}
	if cid == "" {
		return "", fmt.Errorf("introspection response carried no cid")
	}
	return domain.ClientID(cid), nil
}
