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


// Package qdrant implements vector.Store against the Qdrant REST API.
package qdrant

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

	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/vector"
)

// Client implements vector.Store for one Qdrant collection.
type Client struct {
	baseURL    string
	collection string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ vector.Store = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the api-key header sent with every request.
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

// New creates a client for collection at baseURL (e.g. http://localhost:6333).
func New(baseURL, collection string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("qdrant url: %w", err)
	}
	if collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "qdrant", "collection", collection)
	return c, nil
}

type pointStruct struct {
	ID      string            `json:"id"`
	Vector  []float32         `json:"vector"`
	Payload map[string]string `json:"payload"`
}

type upsertRequest struct {
	Points []pointStruct `json:"points"`
}

type matchValue struct {
	Value string `json:"value"`
}

type fieldCondition struct {
	Key   string     `json:"key"`
	Match matchValue `json:"match"`
}

type filterBody struct {
	Must []fieldCondition `json:"must"`
}

type deleteRequest struct {
	Filter filterBody `json:"filter"`
}

type apiResponse struct {
	Status any     `json:"status"`
	Time   float64 `json:"time"`
}

// Upsert writes points with wait=true so they are durable on return.
func (c *Client) Upsert(ctx context.Context, points []core.EmbeddingPoint) error {
	if len(points) == 0 {
		return nil
	}
	if err := vector.ValidatePoints(points); err != nil {
		return err
	}

	req := upsertRequest{Points: make([]pointStruct, len(points))}
	for i, p := range points {
		req.Points[i] = pointStruct{
			ID:      p.ID,
			Vector:  p.Vector,
			Payload: vector.PayloadMap(p.Payload),
		}
	}

	if err := c.do(ctx, http.MethodPut, "/points?wait=true", req); err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}
	c.logger.Debug("upserted points", "count", len(points))
	return nil
}

// Delete removes every point whose payload matches filter.
func (c *Client) Delete(ctx context.Context, filter vector.Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}

	var req deleteRequest
	for _, cond := range filter.Must() {
		req.Filter.Must = append(req.Filter.Must, fieldCondition{Key: cond.Key, Match: matchValue{Value: cond.Value}})
	}

	if err := c.do(ctx, http.MethodPost, "/points/delete?wait=true", req); err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint := c.baseURL + "/collections/" + url.PathEscape(c.collection) + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var ar apiResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ar); err != nil {
			return fmt.Errorf("decoding qdrant response: %w", err)
		}
	}
	return nil
}
