// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a Gate backed by the billing service HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Gate = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a billing client for baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("billing url: %w", err)
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "billing")
	return c, nil
}

// Enabled always reports true.
func (c *Client) Enabled() bool {
	return true
}

// ResolveCustomer maps a project to its billing customer.
func (c *Client) ResolveCustomer(ctx context.Context, projectID string) (string, error) {
	var resp struct {
		CustomerID string `json:"customerId"`
	}
	status, reason, err := c.post(ctx, "/customers/resolve", map[string]string{"projectId": projectID}, &resp)
	if err != nil {
		return "", fmt.Errorf("resolving customer: %w", err)
	}
	if status == http.StatusNotFound || (status < 300 && resp.CustomerID == "") {
		return "", fmt.Errorf("%w: project %s", ErrCustomerNotFound, projectID)
	}
	if status >= 300 {
		return "", fmt.Errorf("resolving customer: status %d: %s", status, reason)
	}
	return resp.CustomerID, nil
}

// Authorize asks whether the customer may perform req.
func (c *Client) Authorize(ctx context.Context, customerID string, req Request) error {
	status, reason, err := c.post(ctx, "/customers/"+url.PathEscape(customerID)+"/authorize", req, nil)
	if err != nil {
		return fmt.Errorf("authorizing: %w", err)
	}
	switch {
	case status == http.StatusPaymentRequired || status == http.StatusForbidden:
		return &DeniedError{Reason: reason}
	case status >= 300:
		return fmt.Errorf("authorizing: status %d: %s", status, reason)
	}
	return nil
}

// LogUsage records consumption for the customer.
func (c *Client) LogUsage(ctx context.Context, customerID string, usage Usage) error {
	status, reason, err := c.post(ctx, "/customers/"+url.PathEscape(customerID)+"/usage", usage, nil)
	if err != nil {
		return fmt.Errorf("logging usage: %w", err)
	}
	if status >= 300 {
		return fmt.Errorf("logging usage: status %d: %s", status, reason)
	}
	return nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// post sends body as JSON and decodes a 2xx response into out. Non-2xx
// responses are returned as status plus the service's reason, not as errors.
func (c *Client) post(ctx context.Context, path string, body, out any) (int, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, "", err
	}

	if resp.StatusCode >= 300 {
		var eb errorBody
		reason := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &eb) == nil {
			if eb.Message != "" {
				reason = eb.Message
			} else if eb.Error != "" {
				reason = eb.Error
			}
		}
		c.logger.Debug("billing request rejected", "path", path, "status", resp.StatusCode, "reason", reason)
		return resp.StatusCode, reason, nil
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, "", fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, "", nil
}
