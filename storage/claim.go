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


package storage

import (
	"cmp"
	"time"

	"github.com/poiesic/ragindex/core"
)

const (
	// DefaultMaxAttempts is the retry ceiling for a source.
	DefaultMaxAttempts = 3

	// DefaultStallWindow is how long a claim may go without finishing before
	// another worker is allowed to take the source over.
	DefaultStallWindow = time.Hour
)

// ClaimPolicy decides which sources a worker may claim.
//
// Processing eligibility is any of:
//   - pending and never attempted
//   - pending and the last attempt is older than StallWindow (crashed worker)
//   - error and Attempts < MaxAttempts (bounded retry)
//   - error and the last attempt is older than StallWindow, when RecoverExhausted is set
//
// Deletion eligibility is deleted and Attempts <= MaxAttempts.
//
// Both storage backends evaluate exactly these rules.
type ClaimPolicy struct {
	MaxAttempts int
	StallWindow time.Duration

	// RecoverExhausted lets an error source that used up MaxAttempts be
	// claimed again once StallWindow has passed since its last attempt.
	// When false such a source stays in error until it is re-queued.
	RecoverExhausted bool
}

// DefaultClaimPolicy returns the policy with the standard ceiling and window.
func DefaultClaimPolicy() ClaimPolicy {
	return ClaimPolicy{
		MaxAttempts:      DefaultMaxAttempts,
		StallWindow:      DefaultStallWindow,
		RecoverExhausted: true,
	}
}

// Normalize replaces non-positive settings with defaults.
func (p ClaimPolicy) Normalize() ClaimPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.StallWindow <= 0 {
		p.StallWindow = DefaultStallWindow
	}
	return p
}

// StalledBefore returns the cutoff: attempts started before it are stalled.
func (p ClaimPolicy) StalledBefore(now time.Time) time.Time {
	return now.Add(-p.StallWindow)
}

// DeletionEligible reports whether src may be claimed for the deletion cascade.
func (p ClaimPolicy) DeletionEligible(src *core.Source) bool {
	return src.Status == core.StatusDeleted && src.Attempts <= p.MaxAttempts
}

// ProcessingEligible reports whether src may be claimed for processing at now.
func (p ClaimPolicy) ProcessingEligible(src *core.Source, now time.Time) bool {
	stalled := src.LastAttemptAt.Before(p.StalledBefore(now))
	switch src.Status {
	case core.StatusPending:
		return src.Attempts == 0 || stalled
	case core.StatusError:
		if src.Attempts < p.MaxAttempts {
			return true
		}
		return p.RecoverExhausted && stalled
	case core.StatusReady, core.StatusDeleted:
		return false
	default:
		return false
	}
}

// ApplyClaim mutates src the way a successful claim does.
func ApplyClaim(src *core.Source, now time.Time) {
	if src.Status != core.StatusDeleted {
		src.Status = core.StatusPending
	}
	src.Attempts++
	src.LastAttemptAt = now
	src.LastUpdatedAt = now
	src.Version++
}

// ClaimOrder sorts claim candidates oldest first, breaking ties by ID.
func ClaimOrder(a, b *core.Source) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Timestamp normalizes t to the precision both backends persist.
func Timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(time.Microsecond)
}

// BatchTime returns the creation time of the i-th record written in one call
// at now. Each record gets its own microsecond so listings keep insertion order.
func BatchTime(now time.Time, i int) time.Time {
	return Timestamp(now).Add(time.Duration(i) * time.Microsecond)
}

// NormalizeSourceTimes rounds every timestamp of src to stored precision.
func NormalizeSourceTimes(src *core.Source) {
	src.LastAttemptAt = Timestamp(src.LastAttemptAt)
	src.CreatedAt = Timestamp(src.CreatedAt)
	src.LastUpdatedAt = Timestamp(src.LastUpdatedAt)
}

// NormalizeDocumentTimes rounds every timestamp of doc to stored precision.
func NormalizeDocumentTimes(doc *core.Document) {
	doc.CreatedAt = Timestamp(doc.CreatedAt)
	doc.LastUpdatedAt = Timestamp(doc.LastUpdatedAt)
}
