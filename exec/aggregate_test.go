// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	goerrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/grailbio/mcbatch"
)

// slowStore delays Gets of earlier keys so that fetches complete in
// reverse order.
type slowStore struct {
	Store
	delay map[string]time.Duration
}

func (s *slowStore) Get(ctx context.Context, container, key string) ([]byte, error) {
	time.Sleep(s.delay[key])
	return s.Store.Get(ctx, container, key)
}

func putResults(t *testing.T, store Store, base string, sizes ...int) (keys []string) {
	t.Helper()
	ctx := context.Background()
	if err := store.EnsureContainer(ctx, "temp"); err != nil {
		t.Fatal(err)
	}
	var n int
	for i, size := range sizes {
		var f mcbatch.File
		for j := 0; j < size; j++ {
			id := fmt.Sprintf("req-%d", n)
			n++
			f.Simulations = append(f.Simulations, mcbatch.Simulation{
				Parameters: mcbatch.Request{ID: id, StockPrice: 100, StrikePrice: 100, TimeToMaturity: 1, NumPaths: 1, NumSteps: 1},
				Results:    &mcbatch.Result{ExpectedValue: float64(n), PathPayoffs: []float64{float64(n)}},
			})
		}
		p, err := mcbatch.Marshal(f)
		if err != nil {
			t.Fatal(err)
		}
		key := mcbatch.ResultKey(base, i)
		if err := store.Put(ctx, "temp", key, p); err != nil {
			t.Fatal(err)
		}
		keys = append(keys, key)
	}
	return keys
}

func TestAggregate(t *testing.T) {
	mem := NewMemoryStore()
	keys := putResults(t, mem, "options", 2, 0, 3)
	store := &slowStore{mem, map[string]time.Duration{
		keys[0]: 20 * time.Millisecond,
		keys[1]: 10 * time.Millisecond,
	}}
	ctx := context.Background()
	sims, err := Aggregate(ctx, store, "temp", keys)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(sims), 5; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, sim := range sims {
		if got, want := sim.Parameters.ID, fmt.Sprintf("req-%d", i); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := sim.Results.RequestID, sim.Parameters.ID; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}

	if err := Save(ctx, store, "output", mcbatch.AggregateKey("options"), sims); err != nil {
		t.Fatal(err)
	}
	p, err := store.Get(ctx, "output", "options_result_aggregated.json")
	if err != nil {
		t.Fatal(err)
	}
	f, err := mcbatch.Unmarshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(f.Simulations), 5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAggregateEmpty(t *testing.T) {
	store := NewMemoryStore()
	keys := putResults(t, store, "options", 0, 0)
	sims, err := Aggregate(context.Background(), store, "temp", keys)
	if err != nil {
		t.Fatal(err)
	}
	if len(sims) != 0 {
		t.Errorf("got %v, want empty", sims)
	}
}

func TestAggregateMissing(t *testing.T) {
	store := NewMemoryStore()
	keys := putResults(t, store, "options", 1, 1)
	keys = append(keys, mcbatch.ResultKey("options", 2))
	_, err := Aggregate(context.Background(), store, "temp", keys)
	if !mcbatch.Is(mcbatch.MissingArtifact, err) {
		t.Fatalf("got %v, want missing artifact", err)
	}
	var e *mcbatch.Error
	if !goerrors.As(err, &e) {
		t.Fatal("not an *mcbatch.Error")
	}
	if got, want := e.Ordinal, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAggregateCorrupt(t *testing.T) {
	store := NewMemoryStore()
	keys := putResults(t, store, "options", 1, 1)
	if err := store.Put(context.Background(), "temp", keys[1], []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	_, err := Aggregate(context.Background(), store, "temp", keys)
	if err == nil {
		t.Fatal("expected error")
	}
	if got, want := mcbatch.KindOf(err), mcbatch.Other; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
