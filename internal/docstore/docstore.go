// Package docstore defines the document-database contract the application
// is written against: schemaless collections, merge writes and live
// queries that push full replacement snapshots until unsubscribed.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by GetDocument when no document exists for the
// given collection and id.
var ErrNotFound = errors.New("document not found")

// StoreError wraps a read/write failure against the document store.
type StoreError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("docstore: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// serverTimestamp is the sentinel type behind ServerTimestamp.
type serverTimestamp struct{}

// ServerTimestamp is a sentinel field value resolved to the store's clock
// at write time, so creation/update timestamps are server-assigned rather
// than taken from the submitting client.
var ServerTimestamp = serverTimestamp{}

// Filter is a single equality constraint on a document field.
type Filter struct {
	Field string
	Op    string
	Value any
}

// Eq builds an equality filter, the only operator the store contract
// requires.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: "==", Value: value}
}

// Document is one stored record: an id plus a schemaless field map.
type Document struct {
	ID     string
	Fields map[string]any
}

// Decode unmarshals the document's fields into out via JSON, tolerating
// missing fields. The document id is not part of the field map; callers
// assign it separately.
func (d Document) Decode(out any) error {
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("encode document fields: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

// Subscription is a standing live query. Snapshots delivers full
// replacement result sets in non-decreasing logical time; the latest
// snapshot always supersedes the previous one. The channel is closed by
// Unsubscribe.
type Subscription interface {
	Snapshots() <-chan []Document
	Unsubscribe()
}

// Store is the document database port consumed by the rest of the
// application.
type Store interface {
	// GetDocument returns the document or ErrNotFound.
	GetDocument(ctx context.Context, collection, id string) (Document, error)

	// SetDocument writes fields under the given id. With merge set, only
	// the provided fields are overwritten and the rest of the document is
	// preserved; otherwise the document is replaced.
	SetDocument(ctx context.Context, collection, id string, fields map[string]any, merge bool) error

	// AddDocument creates a document with a generated id and returns it.
	AddDocument(ctx context.Context, collection string, fields map[string]any) (string, error)

	// SubscribeToQuery opens a live query over the collection restricted
	// by the given equality filters.
	SubscribeToQuery(ctx context.Context, collection string, filters []Filter) (Subscription, error)
}

// ResolveTimestamps replaces ServerTimestamp sentinels with now, returning
// a copy when any replacement happened. Shared by store implementations.
func ResolveTimestamps(fields map[string]any, now time.Time) map[string]any {
	var resolved map[string]any
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); !ok {
			continue
		}
		if resolved == nil {
			resolved = make(map[string]any, len(fields))
			for k2, v2 := range fields {
				resolved[k2] = v2
			}
		}
		resolved[k] = now.UTC().Format(time.RFC3339Nano)
	}
	if resolved == nil {
		return fields
	}
	return resolved
}
