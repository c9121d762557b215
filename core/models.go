package core

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// Status is the lifecycle state shared by sources and documents.
// The zero value is not a valid status.
type Status uint8

const (
	// StatusPending means the entity is waiting to be (re)processed.
	StatusPending Status = iota + 1
	// StatusReady means every document was indexed successfully.
	StatusReady
	// StatusError means the last attempt failed.
	StatusError
	// StatusDeleted is the soft-delete marker that triggers cascade cleanup.
	StatusDeleted
)

// String returns the persisted name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	return s >= StatusPending && s <= StatusDeleted
}

// ParseStatus converts a persisted status name back into a Status.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "pending":
		return StatusPending, nil
	case "ready":
		return StatusReady, nil
	case "error":
		return StatusError, nil
	case "deleted":
		return StatusDeleted, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, name)
	}
}

// SourceTypeURLs is the only source data type: a fixed list of URLs.
const SourceTypeURLs = "urls"

// SourceData describes where a source's documents come from.
type SourceData struct {
	Type string   `json:"type"`
	URLs []string `json:"urls"`
}

// Source is one configured data origin for a project.
// It doubles as a queue entry: Status, Attempts and LastAttemptAt drive the
// job claimer, and Version guards every write.
type Source struct {
	ID            string
	ProjectID     string
	Name          string
	Status        Status
	Attempts      int
	LastAttemptAt time.Time // Zero until the first claim
	Error         string
	BillingError  string
	Version       int64
	CreatedAt     time.Time
	LastUpdatedAt time.Time
	Data          SourceData
}

// Clone returns a deep copy of the source.
func (s *Source) Clone() *Source {
	if s == nil {
		return nil
	}
	c := *s
	c.Data.URLs = append([]string(nil), s.Data.URLs...)
	return &c
}

// Document is one URL belonging to a source; the unit of idempotent processing.
type Document struct {
	ID            string
	SourceID      string
	ProjectID     string
	Name          string // The URL
	Status        Status
	Content       string // Last successfully scraped text
	Error         string
	Version       int64
	CreatedAt     time.Time
	LastUpdatedAt time.Time
}

// Clone returns a copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Payload is the filterable data attached to every embedding point.
type Payload struct {
	ProjectID string
	SourceID  string
	DocID     string
	Content   string // The chunk text
	Title     string
	Name      string
}

// EmbeddingPoint is one chunk's vector plus its payload.
// The ID is fresh per write; deletes address points through the payload.
type EmbeddingPoint struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// NewSourceID returns a random identifier for a new source.
func NewSourceID() string {
	return uuid.NewString()
}

// NewPointID returns a random identifier for an embedding point.
func NewPointID() string {
	return uuid.NewString()
}

// DocumentID derives the document identifier for a URL within a source.
// The same URL in the same source always maps to the same document.
func DocumentID(sourceID, url string) string {
	return fmt.Sprintf("%016x", hash64(sourceID+"\x00"+url))
}

// ContentHash returns a stable hex digest of text using BLAKE2b.
func ContentHash(text string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

func hash64(text string) uint64 {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	return binary.LittleEndian.Uint64(h.Sum(nil))
}
