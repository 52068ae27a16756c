// Package automation provisions modules into an Azure Automation account
// through the Resource Manager REST API.
//
// Module imports are asynchronous: a PUT submits the job and the account
// reports progress through the module's provisioningState until it reaches
// Succeeded, Failed or Cancelled.
package automation

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
	"time"

	"github.com/y0rik/pwsh-azure/internal/azure"
)

const (
	defaultManagementURL = "https://management.azure.com"
	apiVersion           = "2019-06-01"
)

// Terminal provisioning states reported by the service.
const (
	StateSucceeded = "Succeeded"
	StateFailed    = "Failed"
	StateCancelled = "Cancelled"
)

// TerminalState reports whether an import job state is final.
func TerminalState(state string) bool {
	switch state {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Module is the account's view of an installed (or installing) module.
type Module struct {
	Name              string
	Version           string
	ProvisioningState string
}

// Client talks to one automation account.
type Client struct {
	session       *azure.Session
	account       string
	resourceGroup string
	managementURL string
	client        *http.Client
}

// Option adjusts a Client. Used by tests to point at a fake ARM endpoint.
type Option func(*Client)

// WithManagementURL overrides the ARM endpoint.
func WithManagementURL(u string) Option {
	return func(c *Client) { c.managementURL = strings.TrimRight(u, "/") }
}

// NewClient creates a client scoped to one automation account.
func NewClient(session *azure.Session, resourceGroup, account string, opts ...Option) *Client {
	c := &Client{
		session:       session,
		account:       account,
		resourceGroup: resourceGroup,
		managementURL: defaultManagementURL,
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type moduleResource struct {
	Name       string `json:"name"`
	Properties struct {
		Version           string `json:"version"`
		ProvisioningState string `json:"provisioningState"`
	} `json:"properties"`
}

// GetModule fetches the module as installed in the account. A nil module
// with nil error means the module is absent.
func (c *Client) GetModule(ctx context.Context, name string) (*Module, error) {
	body, status, err := c.do(ctx, http.MethodGet, c.moduleURL(name), nil)
	if err != nil {
		return nil, fmt.Errorf("get module %s: %w", name, err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get module %s: HTTP %d", name, status)
	}
	return decodeModule(name, body)
}

// SubmitInstall submits an asynchronous import of name/version from the
// given content location and returns the initial provisioning state.
func (c *Client) SubmitInstall(ctx context.Context, name, version, contentURI string) (string, error) {
	payload := map[string]any{
		"properties": map[string]any{
			"contentLink": map[string]any{
				"uri": contentURI,
			},
		},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	body, status, err := c.do(ctx, http.MethodPut, c.moduleURL(name), buf)
	if err != nil {
		return "", fmt.Errorf("submit install %s %s: %w", name, version, err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("submit install %s %s: HTTP %d: %s", name, version, status, truncate(string(body), 300))
	}

	m, err := decodeModule(name, body)
	if err != nil {
		return "", err
	}
	return m.ProvisioningState, nil
}

// RemoveModule submits an asynchronous removal. Callers poll GetModule until
// it reports absent.
func (c *Client) RemoveModule(ctx context.Context, name string) error {
	body, status, err := c.do(ctx, http.MethodDelete, c.moduleURL(name), nil)
	if err != nil {
		return fmt.Errorf("remove module %s: %w", name, err)
	}
	switch status {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return fmt.Errorf("remove module %s: HTTP %d: %s", name, status, truncate(string(body), 300))
}

func (c *Client) moduleURL(name string) string {
	return fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Automation/automationAccounts/%s/modules/%s?api-version=%s",
		c.managementURL,
		url.PathEscape(c.session.SubscriptionID),
		url.PathEscape(c.resourceGroup),
		url.PathEscape(c.account),
		url.PathEscape(name),
		apiVersion)
}

func (c *Client) do(ctx context.Context, method, rawURL string, payload []byte) ([]byte, int, error) {
	token, err := c.session.Token(ctx)
	if err != nil {
		return nil, 0, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return data, resp.StatusCode, nil
}

func decodeModule(name string, body []byte) (*Module, error) {
	var res moduleResource
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode module %s: %w", name, err)
	}
	if res.Name == "" {
		res.Name = name
	}
	return &Module{
		Name:              res.Name,
		Version:           res.Properties.Version,
		ProvisioningState: res.Properties.ProvisioningState,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
