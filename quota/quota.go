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


// Package quota is the Quota Gate: per-document authorization and token
// usage reporting against a billing service.
package quota

import (
	"context"
	"errors"
	"fmt"
)

const (
	// RequestProcessRAG authorizes one document of RAG processing.
	RequestProcessRAG = "process_rag"
	// UsageRAGTokens reports embedding tokens consumed.
	UsageRAGTokens = "rag_tokens"
)

var (
	// ErrDenied indicates the billing service refused authorization.
	ErrDenied = errors.New("quota denied")

	// ErrCustomerNotFound indicates a project has no billing customer.
	ErrCustomerNotFound = errors.New("billing customer not found")
)

// DeniedError carries the billing service's reason for a denial.
// It matches ErrDenied with errors.Is.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return ErrDenied.Error()
	}
	return fmt.Sprintf("%s: %s", ErrDenied, e.Reason)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// Request is an authorization request.
type Request struct {
	Type string `json:"type"`
}

// Usage is a usage record.
type Usage struct {
	Type   string `json:"type"`
	Amount int    `json:"amount"`
}

// Gate authorizes work and records usage for a billing customer.
type Gate interface {
	// Enabled reports whether the gate enforces anything.
	Enabled() bool

	// ResolveCustomer maps a project to its billing customer.
	ResolveCustomer(ctx context.Context, projectID string) (string, error)

	// Authorize returns an error matching ErrDenied when the customer may
	// not perform req.
	Authorize(ctx context.Context, customerID string, req Request) error

	// LogUsage records consumption for the customer.
	LogUsage(ctx context.Context, customerID string, usage Usage) error
}

type disabled struct{}

// Disabled returns a gate that always authorizes and records nothing.
func Disabled() Gate {
	return disabled{}
}

func (disabled) Enabled() bool { return false }

func (disabled) ResolveCustomer(context.Context, string) (string, error) { return "", nil }

func (disabled) Authorize(context.Context, string, Request) error { return nil }

func (disabled) LogUsage(context.Context, string, Usage) error { return nil }
