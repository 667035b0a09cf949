// Package store describes the live-query document store the job board consumes.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates that a document addressed by path does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrInvalidPath indicates that a collection or document path is malformed.
	ErrInvalidPath = errors.New("store: invalid path")
)

// Direction controls query ordering.
type Direction string

const (
	// Ascending orders oldest or smallest first.
	Ascending Direction = "asc"
	// Descending orders newest or largest first.
	Descending Direction = "desc"
)

// Fields holds document field values keyed by field name.
type Fields map[string]any

// Query selects a collection ordered by a single field.
type Query struct {
	Collection string
	OrderBy    string
	Direction  Direction
}

// Document is one entry of a query snapshot.
type Document struct {
	ID     string
	Fields Fields
}

// QuerySnapshot is a complete point-in-time result of a collection query.
type QuerySnapshot struct {
	Documents []Document
}

// Empty reports whether the snapshot holds no documents.
func (snapshot QuerySnapshot) Empty() bool {
	return len(snapshot.Documents) == 0
}

// DocumentSnapshot is the point-in-time state of a single document.
type DocumentSnapshot struct {
	ID     string
	Path   string
	Exists bool
	Fields Fields
}

// Subscription is a live query handle. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

// Client is the capability surface the sync coordinator and chat manager rely on.
type Client interface {
	WatchCollection(ctx context.Context, query Query, onSnapshot func(QuerySnapshot), onError func(error)) (Subscription, error)
	WatchDocument(ctx context.Context, path string, onSnapshot func(DocumentSnapshot), onError func(error)) (Subscription, error)
	AddDocument(ctx context.Context, collectionPath string, fields Fields) (string, error)
	SetDocument(ctx context.Context, path string, fields Fields) error
	UpdateDocument(ctx context.Context, path string, fields Fields) error
	DeleteDocument(ctx context.Context, path string) error
}

// SubscriptionFunc adapts a plain function into a Subscription.
type SubscriptionFunc func()

// Cancel invokes the wrapped function.
func (fn SubscriptionFunc) Cancel() {
	if fn != nil {
		fn()
	}
}

// IncrementValue requests an atomic numeric increment of a field.
type IncrementValue struct {
	Delta int64
}

// Increment returns a field value that adds delta to the stored number.
func Increment(delta int64) IncrementValue {
	return IncrementValue{Delta: delta}
}

// ServerTimestampValue requests that the store stamp the field with its own clock.
type ServerTimestampValue struct{}

// ServerTimestamp returns a field value resolved to the write time by the store.
func ServerTimestamp() ServerTimestampValue {
	return ServerTimestampValue{}
}

// Join builds a slash-delimited path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitDocumentPath separates a document path into its collection path and document id.
// Document paths have an even number of segments.
func SplitDocumentPath(path string) (string, string, error) {
	segments, err := splitSegments(path)
	if err != nil {
		return "", "", err
	}
	if len(segments)%2 != 0 {
		return "", "", errInvalidPath(path, "document path needs an even number of segments")
	}
	last := len(segments) - 1
	return strings.Join(segments[:last], "/"), segments[last], nil
}

// ValidateCollectionPath ensures a collection path has an odd number of non-empty segments.
func ValidateCollectionPath(path string) error {
	segments, err := splitSegments(path)
	if err != nil {
		return err
	}
	if len(segments)%2 != 1 {
		return errInvalidPath(path, "collection path needs an odd number of segments")
	}
	return nil
}

func splitSegments(path string) ([]string, error) {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	if trimmed == "" {
		return nil, errInvalidPath(path, "empty")
	}
	segments := strings.Split(trimmed, "/")
	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" {
			return nil, errInvalidPath(path, "empty segment")
		}
	}
	return segments, nil
}

func errInvalidPath(path, reason string) error {
	return fmt.Errorf("%w: %s (%q)", ErrInvalidPath, reason, path)
}
