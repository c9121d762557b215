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


// Package fetch defines the Content Fetcher: turn a URL into page text.
package fetch

import (
	"context"
	"errors"
)

// ErrScrapeFailed indicates the scraper reported an unsuccessful scrape.
var ErrScrapeFailed = errors.New("scrape failed")

// Page is the scraped content of one URL.
type Page struct {
	Title    string
	Markdown string
}

// Fetcher scrapes a URL. Implementations must be thread-safe.
type Fetcher interface {
	Scrape(ctx context.Context, url string) (*Page, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (*Page, error)

// Scrape calls f.
func (f FetcherFunc) Scrape(ctx context.Context, url string) (*Page, error) {
	return f(ctx, url)
}
