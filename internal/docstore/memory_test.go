package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

type counterDoc struct {
	ID    string   `json:"id"`
	Kind  string   `json:"kind"`
	Tags  []string `json:"tags"`
	At    string   `json:"at"`
	Value int      `json:"value"`
}

func seedDoc(t *testing.T, store *Memory, collection string, doc counterDoc) {
	t.Helper()
	err := store.RunTransaction(context.Background(), func(tx Tx) error {
		return tx.Set(collection, doc.ID, doc)
	})
	if err != nil {
		t.Fatalf("seed %s/%s: %v", collection, doc.ID, err)
	}
}

func TestMemoryGetNotFound(t *testing.T) {
	store := NewMemory()
	var out counterDoc
	if err := store.Get(context.Background(), "docs", "missing", &out); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestMemoryTransactionReadModifyWrite(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	seedDoc(t, store, "docs", counterDoc{ID: "a", Value: 1})

	err := store.RunTransaction(ctx, func(tx Tx) error {
		var doc counterDoc
		if err := tx.Get("docs", "a", &doc); err != nil {
			return err
		}
		doc.Value++
		return tx.Set("docs", "a", doc)
	})
	if err != nil {
		t.Fatal(err)
	}

	var out counterDoc
	if err := store.Get(ctx, "docs", "a", &out); err != nil {
		t.Fatal(err)
	}
	if out.Value != 2 {
		t.Errorf("Value = %d, want 2", out.Value)
	}
}

func TestMemoryBusinessErrorAborts(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	seedDoc(t, store, "docs", counterDoc{ID: "a", Value: 1})

	boom := errors.New("boom")
	attempts := 0
	err := store.RunTransaction(ctx, func(tx Tx) error {
		attempts++
		var doc counterDoc
		if err := tx.Get("docs", "a", &doc); err != nil {
			return err
		}
		doc.Value = 99
		if err := tx.Set("docs", "a", doc); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (business errors must not retry)", attempts)
	}

	var out counterDoc
	if err := store.Get(ctx, "docs", "a", &out); err != nil {
		t.Fatal(err)
	}
	if out.Value != 1 {
		t.Errorf("aborted transaction wrote: Value = %d", out.Value)
	}
}

func TestMemoryInsertConflict(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	seedDoc(t, store, "docs", counterDoc{ID: "a", Value: 1})

	// Blind insert over an existing id conflicts on every attempt until
	// the retry loop gives up.
	err := store.RunTransaction(ctx, func(tx Tx) error {
		return tx.Set("docs", "a", counterDoc{ID: "a", Value: 7})
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("error = %v, want wrapped ErrConflict", err)
	}
}

func TestMemoryConcurrentIncrements(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	seedDoc(t, store, "docs", counterDoc{ID: "a", Value: 0})

	const writers = 4
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.RunTransaction(ctx, func(tx Tx) error {
				var doc counterDoc
				if err := tx.Get("docs", "a", &doc); err != nil {
					return err
				}
				doc.Value++
				return tx.Set("docs", "a", doc)
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}

	var out counterDoc
	if err := store.Get(ctx, "docs", "a", &out); err != nil {
		t.Fatal(err)
	}
	if out.Value != writers {
		t.Errorf("Value = %d, want %d (lost update)", out.Value, writers)
	}
}

func TestMemoryReadSetValidation(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	seedDoc(t, store, "docs", counterDoc{ID: "guard", Value: 1})
	seedDoc(t, store, "docs", counterDoc{ID: "target", Value: 1})

	// A transaction that read "guard" must fail its first commit if guard
	// changes before the commit, then succeed on retry.
	attempts := 0
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.RunTransaction(ctx, func(tx Tx) error {
			attempts++
			var guard, target counterDoc
			if err := tx.Get("docs", "guard", &guard); err != nil {
				return err
			}
			if err := tx.Get("docs", "target", &target); err != nil {
				return err
			}
			if attempts == 1 {
				close(started)
				<-release
			}
			target.Value = guard.Value + 10
			return tx.Set("docs", "target", target)
		})
	}()

	<-started
	seedDocUpdate := store.RunTransaction(ctx, func(tx Tx) error {
		var guard counterDoc
		if err := tx.Get("docs", "guard", &guard); err != nil {
			return err
		}
		guard.Value = 5
		return tx.Set("docs", "guard", guard)
	})
	if seedDocUpdate != nil {
		t.Fatal(seedDocUpdate)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if attempts < 2 {
		t.Errorf("attempts = %d, want a conflict retry", attempts)
	}

	var target counterDoc
	if err := store.Get(ctx, "docs", "target", &target); err != nil {
		t.Fatal(err)
	}
	if target.Value != 15 {
		t.Errorf("target.Value = %d, want 15 (stale guard read)", target.Value)
	}
}

type presenceDoc struct {
	ID      string          `json:"id"`
	Members map[string]bool `json:"members"`
}

func TestMemoryRetryDecodesFreshDocument(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	seedDoc2 := func(id string, members map[string]bool) {
		t.Helper()
		err := store.RunTransaction(ctx, func(tx Tx) error {
			return tx.Set("rooms", id, presenceDoc{ID: id, Members: members})
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	seedDoc2("r", map[string]bool{"a": true, "b": true})

	// The closure reads into a variable that outlives the first attempt.
	// After a conflict forces a re-run, the second read must replace the
	// map wholesale; json.Unmarshal alone would merge the committed
	// document into the stale one and resurrect "b".
	var doc presenceDoc
	attempts := 0
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.RunTransaction(ctx, func(tx Tx) error {
			attempts++
			if err := tx.Get("rooms", "r", &doc); err != nil {
				return err
			}
			if attempts == 1 {
				close(started)
				<-release
			}
			doc.Members["c"] = true
			return tx.Set("rooms", "r", doc)
		})
	}()

	<-started
	err := store.RunTransaction(ctx, func(tx Tx) error {
		var current presenceDoc
		if err := tx.Get("rooms", "r", &current); err != nil {
			return err
		}
		delete(current.Members, "b")
		return tx.Set("rooms", "r", current)
	})
	if err != nil {
		t.Fatal(err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if attempts < 2 {
		t.Fatalf("attempts = %d, want a conflict retry", attempts)
	}

	var final presenceDoc
	if err := store.Get(ctx, "rooms", "r", &final); err != nil {
		t.Fatal(err)
	}
	if final.Members["b"] {
		t.Error("removed member resurrected by a stale retry read")
	}
	if !final.Members["a"] || !final.Members["c"] {
		t.Errorf("Members = %v, want a and c", final.Members)
	}
}

func TestMemoryListFilters(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	seedDoc(t, store, "docs", counterDoc{ID: "a", Kind: "x", Tags: []string{"red"}, At: "2026-08-28T10:00:00Z", Value: 1})
	seedDoc(t, store, "docs", counterDoc{ID: "b", Kind: "x", Tags: []string{"red", "blue"}, At: "2026-08-28T10:00:00.5Z", Value: 2})
	seedDoc(t, store, "docs", counterDoc{ID: "c", Kind: "y", Tags: []string{"blue"}, At: "2026-08-28T09:00:00Z", Value: 3})

	decode := func(t *testing.T, raw [][]byte) []counterDoc {
		t.Helper()
		out := make([]counterDoc, len(raw))
		for i, data := range raw {
			if err := json.Unmarshal(data, &out[i]); err != nil {
				t.Fatal(err)
			}
		}
		return out
	}

	t.Run("eq", func(t *testing.T) {
		raw, err := store.List(ctx, "docs", Query{Filter: Filter{Eq: map[string]any{"kind": "x"}}})
		if err != nil {
			t.Fatal(err)
		}
		if len(raw) != 2 {
			t.Errorf("matched %d, want 2", len(raw))
		}
	})

	t.Run("in", func(t *testing.T) {
		raw, err := store.List(ctx, "docs", Query{Filter: Filter{In: map[string][]string{"id": {"a", "c"}}}})
		if err != nil {
			t.Fatal(err)
		}
		if len(raw) != 2 {
			t.Errorf("matched %d, want 2", len(raw))
		}
	})

	t.Run("contains", func(t *testing.T) {
		raw, err := store.List(ctx, "docs", Query{Filter: Filter{Contains: map[string]string{"tags": "blue"}}})
		if err != nil {
			t.Fatal(err)
		}
		docs := decode(t, raw)
		if len(docs) != 2 {
			t.Fatalf("matched %d, want 2", len(docs))
		}
		for _, d := range docs {
			if d.ID == "a" {
				t.Error("doc a matched blue")
			}
		}
	})

	t.Run("order and limit", func(t *testing.T) {
		// a and b share the same second; b's half-second suffix makes it
		// newer even though "…00Z" sorts after "…00.5Z" as text.
		raw, err := store.List(ctx, "docs", Query{OrderByDesc: "at", Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		docs := decode(t, raw)
		if len(docs) != 2 || docs[0].ID != "b" || docs[1].ID != "a" {
			t.Errorf("ordered listing = %+v", docs)
		}
	})

	t.Run("offset past end", func(t *testing.T) {
		raw, err := store.List(ctx, "docs", Query{Offset: 10})
		if err != nil {
			t.Fatal(err)
		}
		if len(raw) != 0 {
			t.Errorf("matched %d, want 0", len(raw))
		}
	})
}
