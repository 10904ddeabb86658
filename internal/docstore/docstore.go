// Package docstore is a small document store with optimistic, versioned
// read-modify-write transactions. Documents are JSON blobs addressed by
// (collection, id); every mutation re-reads inside a transaction and commits
// conditionally on the versions it read, retrying the whole transaction
// block when a concurrent writer got there first.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
)

var (
	ErrNotFound = errors.New("document not found")
	// ErrConflict is internal to the retry loop; callers only see it once
	// the retry attempts are exhausted.
	ErrConflict = errors.New("document version conflict")
)

// Collection names. Centralized here so no handler or service carries its
// own copy of the string.
const (
	CollectionUsers      = "users"
	CollectionRooms      = "rooms"
	CollectionClassrooms = "classrooms"
	CollectionSessions   = "liveSessions"
)

// Filter matches documents on top-level JSON fields.
type Filter struct {
	// Eq requires field == value.
	Eq map[string]any
	// In requires the field's string value to be one of the given values.
	In map[string][]string
	// Contains requires a string-array field to contain the value.
	Contains map[string]string
}

type Query struct {
	Filter      Filter
	OrderByDesc string // top-level RFC3339 timestamp field to order by, descending
	Limit       int
	Offset      int
}

// Tx is the handle passed to a transaction function. Reads observe committed
// state and are validated at commit; writes are staged and applied
// atomically. A Set on a document that was never read (or read as absent) is
// an insert and conflicts if the document exists by commit time.
//
// Get zeroes out before decoding, so a closure that re-runs after a conflict
// sees exactly the committed document even when it reads into a variable
// captured across attempts.
type Tx interface {
	Get(collection, id string, out any) error
	Set(collection, id string, doc any) error
}

// decodeDoc unmarshals a stored document after zeroing the destination.
// json.Unmarshal merges into pre-populated maps and structs, so decoding a
// fresh read into a variable that still holds state from an aborted
// transaction attempt would blend the two.
func decodeDoc(data []byte, out any) error {
	if v := reflect.ValueOf(out); v.Kind() == reflect.Pointer && !v.IsNil() {
		v.Elem().SetZero()
	}
	return json.Unmarshal(data, out)
}

type Store interface {
	// Get reads a single committed document.
	Get(ctx context.Context, collection, id string, out any) error
	// List returns the raw JSON of documents matching the query.
	List(ctx context.Context, collection string, q Query) ([][]byte, error)
	// RunTransaction runs fn, commits its staged writes if no document it
	// touched changed since being read, and otherwise re-runs fn after a
	// short backoff, a bounded number of times. An error returned by fn
	// aborts immediately with nothing written.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
}
