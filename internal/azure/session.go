// Package azure holds the authenticated session shared by every Azure
// collaborator. The session is built once in main from config and passed
// into each client constructor; nothing in this repository reads ambient
// credential state.
package azure

import (
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
)

const (
	defaultAuthorityURL = "https://login.microsoftonline.com"
	defaultScope        = "https://management.azure.com/.default"

	// Refresh this long before the token actually expires.
	expirySkew = 2 * time.Minute
)

// Session carries subscription identity and a cached bearer token obtained
// via the AAD client-credentials flow.
type Session struct {
	SubscriptionID string

	tenantID     string
	clientID     string
	clientSecret string
	authorityURL string
	scope        string

	client *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// Option adjusts a Session. Used by tests to point at a fake authority.
type Option func(*Session)

// WithAuthorityURL overrides the AAD endpoint.
func WithAuthorityURL(u string) Option {
	return func(s *Session) { s.authorityURL = strings.TrimRight(u, "/") }
}

// NewSession builds a session from service-principal credentials.
func NewSession(subscriptionID, tenantID, clientID, clientSecret string, opts ...Option) (*Session, error) {
	if subscriptionID == "" || tenantID == "" || clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("azure: subscription, tenant, client id and client secret are all required")
	}
	s := &Session{
		SubscriptionID: subscriptionID,
		tenantID:       tenantID,
		clientID:       clientID,
		clientSecret:   clientSecret,
		authorityURL:   defaultAuthorityURL,
		scope:          defaultScope,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a bearer token for the management scope, fetching a new one
// only when the cached token is missing or close to expiry.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expiry.Add(-expirySkew)) {
		return s.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
		"scope":         {s.scope},
	}

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", s.authorityURL, s.tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request: HTTP %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	s.token = tr.AccessToken
	s.expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return s.token, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
