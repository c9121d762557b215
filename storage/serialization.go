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
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/ragindex/core"
)

// codecVersion prefixes every encoded record so the layout can evolve.
const codecVersion = 1

// MarshalSource serializes a Source to bytes.
func MarshalSource(src *core.Source) []byte {
	sz := sizer{}
	sz.int(codecVersion)
	encodeSource(&sz, src)

	w := &writer{bs: make([]byte, sz.n)}
	w.int(codecVersion)
	encodeSource(w, src)
	return w.bs[:w.n]
}

// UnmarshalSource deserializes a Source from bytes.
func UnmarshalSource(data []byte) (*core.Source, error) {
	r := &reader{bs: data}
	if err := r.header(); err != nil {
		return nil, err
	}
	src := &core.Source{
		ID:            r.string(),
		ProjectID:     r.string(),
		Name:          r.string(),
		Status:        core.Status(r.int()),
		Attempts:      r.int(),
		LastAttemptAt: r.time(),
		Error:         r.string(),
		BillingError:  r.string(),
		Version:       r.int64(),
		CreatedAt:     r.time(),
		LastUpdatedAt: r.time(),
		Data: core.SourceData{
			Type: r.string(),
			URLs: r.strings(),
		},
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: source: %w", ErrSerializationFailed, r.err)
	}
	return src, nil
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	sz := sizer{}
	sz.int(codecVersion)
	encodeDocument(&sz, doc)

	w := &writer{bs: make([]byte, sz.n)}
	w.int(codecVersion)
	encodeDocument(w, doc)
	return w.bs[:w.n]
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	r := &reader{bs: data}
	if err := r.header(); err != nil {
		return nil, err
	}
	doc := &core.Document{
		ID:            r.string(),
		SourceID:      r.string(),
		ProjectID:     r.string(),
		Name:          r.string(),
		Status:        core.Status(r.int()),
		Content:       r.string(),
		Error:         r.string(),
		Version:       r.int64(),
		CreatedAt:     r.time(),
		LastUpdatedAt: r.time(),
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: document: %w", ErrSerializationFailed, r.err)
	}
	return doc, nil
}

// encoder is implemented by sizer and writer so one field list drives both
// the size computation and the actual encoding.
type encoder interface {
	string(v string)
	int(v int)
	int64(v int64)
	time(v time.Time)
	strings(v []string)
}

func encodeSource(e encoder, src *core.Source) {
	e.string(src.ID)
	e.string(src.ProjectID)
	e.string(src.Name)
	e.int(int(src.Status))
	e.int(src.Attempts)
	e.time(src.LastAttemptAt)
	e.string(src.Error)
	e.string(src.BillingError)
	e.int64(src.Version)
	e.time(src.CreatedAt)
	e.time(src.LastUpdatedAt)
	e.string(src.Data.Type)
	e.strings(src.Data.URLs)
}

func encodeDocument(e encoder, doc *core.Document) {
	e.string(doc.ID)
	e.string(doc.SourceID)
	e.string(doc.ProjectID)
	e.string(doc.Name)
	e.int(int(doc.Status))
	e.string(doc.Content)
	e.string(doc.Error)
	e.int64(doc.Version)
	e.time(doc.CreatedAt)
	e.time(doc.LastUpdatedAt)
}

// Times are stored as Unix microseconds; 0 encodes the zero time.
func timeToMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func microsToTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

type sizer struct {
	n int
}

func (s *sizer) string(v string)    { s.n += ord.String.Size(v) }
func (s *sizer) int(v int)          { s.n += varint.Int.Size(v) }
func (s *sizer) int64(v int64)      { s.n += varint.Int64.Size(v) }
func (s *sizer) time(v time.Time)   { s.n += varint.Int64.Size(timeToMicros(v)) }
func (s *sizer) strings(v []string) {
	s.int(len(v))
	for _, str := range v {
		s.string(str)
	}
}

type writer struct {
	bs []byte
	n  int
}

func (w *writer) string(v string)  { w.n += ord.String.Marshal(v, w.bs[w.n:]) }
func (w *writer) int(v int)        { w.n += varint.Int.Marshal(v, w.bs[w.n:]) }
func (w *writer) int64(v int64)    { w.n += varint.Int64.Marshal(v, w.bs[w.n:]) }
func (w *writer) time(v time.Time) { w.n += varint.Int64.Marshal(timeToMicros(v), w.bs[w.n:]) }
func (w *writer) strings(v []string) {
	w.int(len(v))
	for _, str := range v {
		w.string(str)
	}
}

// reader decodes fields in order and remembers the first error.
type reader struct {
	bs  []byte
	n   int
	err error
}

func (r *reader) header() error {
	if len(r.bs) == 0 {
		return fmt.Errorf("%w: empty record", ErrTruncatedData)
	}
	v := r.int()
	if r.err != nil {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, r.err)
	}
	if v != codecVersion {
		return fmt.Errorf("%w: unsupported codec version %d", ErrSerializationFailed, v)
	}
	return nil
}

func (r *reader) string() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) int() int {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) int64() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) time() time.Time {
	return microsToTime(r.int64())
}

func (r *reader) strings() []string {
	count := r.int()
	if r.err != nil || count == 0 {
		return nil
	}
	if count < 0 || count > len(r.bs)-r.n {
		r.err = fmt.Errorf("%w: invalid list length %d", ErrTruncatedData, count)
		return nil
	}
	out := make([]string, 0, count)
	for i := 0; i < count && r.err == nil; i++ {
		out = append(out, r.string())
	}
	return out
}
