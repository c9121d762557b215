// Package vector defines the Vector Store Adapter: upsert chunk embeddings
// and delete them by payload filter.
package vector

import (
	"context"
	"errors"

	"github.com/poiesic/ragindex/core"
)

// Payload keys every backend stores and filters on.
const (
	KeyProjectID = "projectId"
	KeySourceID  = "sourceId"
	KeyDocID     = "docId"
	KeyContent   = "content"
	KeyTitle     = "title"
	KeyName      = "name"
)

var (
	// ErrUnscopedFilter indicates a delete filter without project and source.
	ErrUnscopedFilter = errors.New("vector filter must name a project and a source")

	// ErrEmptyVector indicates a point without an embedding.
	ErrEmptyVector = errors.New("embedding point has no vector")
)

// Store writes and deletes embedding points.
// Implementations must be thread-safe.
type Store interface {
	// Upsert writes points to the collection.
	Upsert(ctx context.Context, points []core.EmbeddingPoint) error

	// Delete removes every point whose payload matches filter.
	// Deleting nothing is not an error.
	Delete(ctx context.Context, filter Filter) error

	// Close releases resources held by the store.
	Close() error
}

// Filter selects points by payload. Empty fields are not constrained, but
// ProjectID and SourceID are always required.
type Filter struct {
	ProjectID string
	SourceID  string
	DocID     string
}

// SourceFilter matches every point of a source.
func SourceFilter(projectID, sourceID string) Filter {
	return Filter{ProjectID: projectID, SourceID: sourceID}
}

// DocumentFilter matches every point of one document.
func DocumentFilter(projectID, sourceID, docID string) Filter {
	return Filter{ProjectID: projectID, SourceID: sourceID, DocID: docID}
}

// Validate rejects filters that could address a whole collection.
func (f Filter) Validate() error {
	if f.ProjectID == "" || f.SourceID == "" {
		return ErrUnscopedFilter
	}
	return nil
}

// Condition is one exact-match constraint on a payload key.
type Condition struct {
	Key   string
	Value string
}

// Must returns the conditions a point has to satisfy, in a stable order.
func (f Filter) Must() []Condition {
	conds := []Condition{
		{Key: KeyProjectID, Value: f.ProjectID},
		{Key: KeySourceID, Value: f.SourceID},
	}
	if f.DocID != "" {
		conds = append(conds, Condition{Key: KeyDocID, Value: f.DocID})
	}
	return conds
}

// Matches reports whether payload satisfies the filter.
func (f Filter) Matches(p core.Payload) bool {
	for _, c := range f.Must() {
		if PayloadValue(p, c.Key) != c.Value {
			return false
		}
	}
	return true
}

// PayloadMap flattens a payload into its stored key/value form.
func PayloadMap(p core.Payload) map[string]string {
	return map[string]string{
		KeyProjectID: p.ProjectID,
		KeySourceID:  p.SourceID,
		KeyDocID:     p.DocID,
		KeyContent:   p.Content,
		KeyTitle:     p.Title,
		KeyName:      p.Name,
	}
}

// PayloadValue returns the value of key in p.
func PayloadValue(p core.Payload, key string) string {
	switch key {
	case KeyProjectID:
		return p.ProjectID
	case KeySourceID:
		return p.SourceID
	case KeyDocID:
		return p.DocID
	case KeyContent:
		return p.Content
	case KeyTitle:
		return p.Title
	case KeyName:
		return p.Name
	default:
		return ""
	}
}

// ValidatePoints checks every point carries an id and a vector.
func ValidatePoints(points []core.EmbeddingPoint) error {
	for _, p := range points {
		if p.ID == "" {
			return errors.New("embedding point has no id")
		}
		if len(p.Vector) == 0 {
			return ErrEmptyVector
		}
	}
	return nil
}
