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

import "errors"

// Domain validation errors
var (
	// ErrInvalidSource indicates a Source failed validation.
	ErrInvalidSource = errors.New("invalid source")

	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidStatus indicates an unknown status value or name.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidURL indicates a URL that cannot be scraped.
	ErrInvalidURL = errors.New("invalid url")

	// ErrNoURLs indicates a source was configured without any URL.
	ErrNoURLs = errors.New("at least one url is required")

	// ErrEmptyProjectID indicates the ProjectID field is empty.
	ErrEmptyProjectID = errors.New("project id cannot be empty")
)
