package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

// Memory implements Store with the same optimistic commit protocol as the
// Postgres store. It backs tests and local development; conflicts and
// retries are real, not simulated.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]memDoc
	maxAttempts int
	retryBase   time.Duration
}

type memDoc struct {
	version int64
	data    []byte
}

func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]memDoc),
		maxAttempts: 5,
		retryBase:   time.Millisecond,
	}
}

func (s *Memory) Get(ctx context.Context, collection, id string, out any) error {
	s.mu.RLock()
	doc, ok := s.collections[collection][id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return decodeDoc(doc.data, out)
}

func (s *Memory) List(ctx context.Context, collection string, q Query) ([][]byte, error) {
	s.mu.RLock()
	docs := make([][]byte, 0, len(s.collections[collection]))
	for _, doc := range s.collections[collection] {
		docs = append(docs, doc.data)
	}
	s.mu.RUnlock()

	type entry struct {
		data   []byte
		fields map[string]any
	}
	matched := make([]entry, 0, len(docs))
	for _, data := range docs {
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
		if matchesFilter(fields, q.Filter) {
			matched = append(matched, entry{data: data, fields: fields})
		}
	}

	if q.OrderByDesc != "" {
		// Ordering fields hold RFC3339 timestamps; marshaling trims
		// trailing fractional zeros, so lexicographic comparison misorders
		// sub-second ties. Compare parsed instants, like the timestamptz
		// cast in the Postgres store.
		sort.Slice(matched, func(i, j int) bool {
			a, _ := matched[i].fields[q.OrderByDesc].(string)
			b, _ := matched[j].fields[q.OrderByDesc].(string)
			at, aerr := time.Parse(time.RFC3339Nano, a)
			bt, berr := time.Parse(time.RFC3339Nano, b)
			if aerr == nil && berr == nil {
				return at.After(bt)
			}
			return a > b
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([][]byte, len(matched))
	for i, e := range matched {
		out[i] = e.data
	}
	return out, nil
}

func matchesFilter(fields map[string]any, f Filter) bool {
	for field, want := range f.Eq {
		if !jsonEqual(fields[field], want) {
			return false
		}
	}
	for field, values := range f.In {
		got, _ := fields[field].(string)
		ok := false
		for _, v := range values {
			if got == v {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for field, want := range f.Contains {
		arr, _ := fields[field].([]any)
		ok := false
		for _, v := range arr {
			if sv, _ := v.(string); sv == want {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// jsonEqual compares a decoded JSON value with a native Go value by passing
// the native value through a JSON round trip.
func jsonEqual(got, want any) bool {
	encoded, err := json.Marshal(want)
	if err != nil {
		return false
	}
	var normalized any
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return false
	}
	return reflect.DeepEqual(got, normalized)
}

type memTx struct {
	store  *Memory
	reads  map[docKey]readState
	writes []stagedWrite
	order  map[docKey]int
}

func (t *memTx) Get(collection, id string, out any) error {
	t.store.mu.RLock()
	doc, ok := t.store.collections[collection][id]
	t.store.mu.RUnlock()

	key := docKey{collection, id}
	if !ok {
		t.reads[key] = readState{found: false}
		return ErrNotFound
	}
	t.reads[key] = readState{version: doc.version, found: true}
	return decodeDoc(doc.data, out)
}

func (t *memTx) Set(collection, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("tx set %s/%s: %w", collection, id, err)
	}
	key := docKey{collection, id}
	if idx, ok := t.order[key]; ok {
		t.writes[idx].data = data
		return nil
	}
	t.order[key] = len(t.writes)
	t.writes = append(t.writes, stagedWrite{key: key, data: data})
	return nil
}

func (s *Memory) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		tx := &memTx{
			store: s,
			reads: make(map[docKey]readState),
			order: make(map[docKey]int),
		}
		if err := fn(tx); err != nil {
			return err
		}
		err := s.commit(tx)
		if err == nil {
			return nil
		}
		if err != ErrConflict {
			return err
		}
		select {
		case <-time.After(backoff(s.retryBase, attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("transaction attempts exhausted: %w", ErrConflict)
}

func (s *Memory) commit(t *memTx) error {
	if len(t.writes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, state := range t.reads {
		doc, exists := s.collections[key.collection][key.id]
		if exists != state.found {
			return ErrConflict
		}
		if exists && doc.version != state.version {
			return ErrConflict
		}
	}

	for _, w := range t.writes {
		state, read := t.reads[w.key]
		col := s.collections[w.key.collection]
		if col == nil {
			col = make(map[string]memDoc)
			s.collections[w.key.collection] = col
		}
		existing, exists := col[w.key.id]
		if (!read || !state.found) && exists {
			return ErrConflict
		}
		next := memDoc{version: 1, data: w.data}
		if exists {
			next.version = existing.version + 1
		}
		col[w.key.id] = next
	}
	return nil
}
