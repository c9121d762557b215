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


package core

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL trims a URL and checks that it is an absolute http(s) URL.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidURL, trimmed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q: scheme must be http or https", ErrInvalidURL, trimmed)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q: missing host", ErrInvalidURL, trimmed)
	}
	return trimmed, nil
}

// ValidateURLs normalizes every URL and removes duplicates, keeping the
// first occurrence order.
func ValidateURLs(urls []string) ([]string, error) {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := NormalizeURL(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil, ErrNoURLs
	}
	return out, nil
}

// ValidateSource validates a Source according to domain rules.
//
// Validation rules:
//   - ID and ProjectID must not be empty
//   - Status must be valid
//   - Data must be of type "urls"
//
// NOT validated:
//   - the URL list (a source may lose every URL while documents are deleted)
func ValidateSource(src *Source) error {
	if src == nil {
		return fmt.Errorf("%w: source is nil", ErrInvalidSource)
	}
	if src.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidSource)
	}
	if src.ProjectID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSource, ErrEmptyProjectID)
	}
	if !src.Status.Valid() {
		return fmt.Errorf("%w: %w: %d", ErrInvalidSource, ErrInvalidStatus, src.Status)
	}
	if src.Data.Type != SourceTypeURLs {
		return fmt.Errorf("%w: unsupported data type %q", ErrInvalidSource, src.Data.Type)
	}
	return nil
}

// ValidateDocument validates a Document according to domain rules.
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}
	if doc.ID == "" || doc.SourceID == "" {
		return fmt.Errorf("%w: id and source id are required", ErrInvalidDocument)
	}
	if doc.ProjectID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyProjectID)
	}
	if doc.Name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidDocument)
	}
	if !doc.Status.Valid() {
		return fmt.Errorf("%w: %w: %d", ErrInvalidDocument, ErrInvalidStatus, doc.Status)
	}
	return nil
}
