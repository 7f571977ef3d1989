// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine/testsystem"
	"github.com/grailbio/mcbatch"
	"github.com/grailbio/mcbatch/stats"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"golang.org/x/sync/errgroup"
)

func testSession(t *testing.T, run func(t *testing.T, sess *Session)) {
	t.Helper()
	environments := map[string]func(t *testing.T) (opts []Option, cleanup func()){
		"Local": func(*testing.T) ([]Option, func()) {
			return []Option{Local}, func() {}
		},
		"Bigmachine.Test": func(t *testing.T) ([]Option, func()) {
			dir, cleanup := testutil.TempDir(t, "", "store")
			return []Option{Bigmachine(testsystem.New()), WithStore(&FileStore{Root: dir})}, cleanup
		},
	}
	for name, options := range environments {
		options := options
		t.Run(name, func(t *testing.T) {
			opts, cleanup := options(t)
			defer cleanup()
			sess := Start(append(opts, PollInterval(10*time.Millisecond), Seed(7))...)
			defer sess.Shutdown()
			run(t, sess)
		})
	}
}

func TestSessionRun(t *testing.T) {
	testSession(t, func(t *testing.T, sess *Session) {
		requests := testRequests(10)
		for i := range requests {
			requests[i].ID = ""
		}
		ctx := context.Background()
		sims, err := sess.Run(ctx, "options", requests, 4, time.Minute)
		assert.NoError(t, err)
		assert.EQ(t, len(sims), len(requests))
		for i, sim := range sims {
			want := requests[i]
			want.ID = sim.Parameters.ID
			expect.EQ(t, sim.Parameters, want)
			expect.EQ(t, sim.Parameters.ID, testRequests(10)[i].ID)
			if sim.Results == nil {
				t.Fatalf("simulation %d: no results", i)
			}
			expect.EQ(t, len(sim.Results.PathPayoffs), want.NumPaths)
			ci := sim.Results.ConfidenceInterval
			if ci[0] > sim.Results.ExpectedValue || sim.Results.ExpectedValue > ci[1] {
				t.Errorf("simulation %d: %v outside %v", i, sim.Results.ExpectedValue, ci)
			}
		}
		// The caller's requests are not modified.
		expect.EQ(t, requests[0].ID, "")

		_, output := sess.Containers()
		p, err := sess.Store().Get(ctx, output, "options_result_aggregated.json")
		assert.NoError(t, err)
		f, err := mcbatch.Unmarshal(p)
		assert.NoError(t, err)
		if !reflect.DeepEqual(f.Simulations, sims) {
			t.Error("saved aggregate does not match returned simulations")
		}

		// The pool and job are reused by subsequent runs.
		again, err := sess.Run(ctx, "options", requests, 3, time.Minute)
		assert.NoError(t, err)
		if !reflect.DeepEqual(again[0].Parameters, sims[0].Parameters) {
			t.Error("rerun produced different parameters")
		}
		vals := sess.Stats()
		expect.EQ(t, vals[stats.Runs], int64(2))
		expect.EQ(t, vals[stats.Requests], int64(20))
		expect.EQ(t, vals[stats.Paths], int64(2000))
		expect.EQ(t, vals[stats.TasksCompleted], int64(7))
	})
}

func TestSessionMoreTasksThanRequests(t *testing.T) {
	testSession(t, func(t *testing.T, sess *Session) {
		sims, err := sess.Run(context.Background(), "small", testRequests(2), 5, time.Minute)
		assert.NoError(t, err)
		assert.EQ(t, len(sims), 2)
	})
}

func TestSessionErrors(t *testing.T) {
	sess := Start(Local, PollInterval(10*time.Millisecond))
	defer sess.Shutdown()
	ctx := context.Background()

	requests := testRequests(3)
	requests[1].Volatility = -1
	if _, err := sess.Run(ctx, "bad", requests, 2, time.Minute); !mcbatch.Is(mcbatch.InvalidParameters, err) {
		t.Errorf("got %v, want invalid parameters", err)
	}
	if _, err := sess.Run(ctx, "bad", testRequests(3), 0, time.Minute); !mcbatch.Is(mcbatch.InvalidPartitionCount, err) {
		t.Errorf("got %v, want invalid partition count", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := sess.Run(ctx, "canceled", testRequests(3), 2, time.Minute); !mcbatch.Is(mcbatch.Canceled, err) {
		t.Errorf("got %v, want canceled", err)
	}
}

// corruptStore serves garbage for one key.
type corruptStore struct {
	Store
	key string
}

func (s *corruptStore) Get(ctx context.Context, container, key string) ([]byte, error) {
	if key == s.key {
		return []byte("garbage"), nil
	}
	return s.Store.Get(ctx, container, key)
}

func TestSessionTaskFailure(t *testing.T) {
	mem := NewMemoryStore()
	store := &corruptStore{mem, mcbatch.InputKey("options", 1)}
	sess := Start(
		WithEnvironment(newLocalEnvironment(store)),
		WithStore(mem),
		PollInterval(10*time.Millisecond),
	)
	defer sess.Shutdown()
	_, err := sess.Run(context.Background(), "options", testRequests(6), 3, time.Minute)
	if !mcbatch.Is(mcbatch.TaskFailure, err) {
		t.Fatalf("got %v, want task failure", err)
	}
	assert.EQ(t, mcbatch.KindOf(err).ExitCode(), 6)
	assert.EQ(t, sess.Stats()[stats.TasksFailed], int64(1))
}

func TestSessionReproducible(t *testing.T) {
	var results [2][]mcbatch.Simulation
	for i := range results {
		var top status.Status
		sess := Start(Local, Seed(42), PollInterval(10*time.Millisecond), Status(&top))
		sims, err := sess.Run(context.Background(), "options", testRequests(5), 2, time.Minute)
		sess.Shutdown()
		assert.NoError(t, err)
		results[i] = sims
	}
	if !reflect.DeepEqual(results[0], results[1]) {
		t.Error("runs with the same seed differ")
	}
}

func TestSessionConcurrentRuns(t *testing.T) {
	testSession(t, func(t *testing.T, sess *Session) {
		const n = 4
		var (
			g    errgroup.Group
			sims [n][]mcbatch.Simulation
		)
		for i := range sims {
			i := i
			g.Go(func() error {
				var err error
				sims[i], err = sess.Run(context.Background(), fmt.Sprintf("options%d", i), testRequests(4), 2, time.Minute)
				return err
			})
		}
		assert.NoError(t, g.Wait())
		for i := range sims {
			assert.EQ(t, len(sims[i]), 4)
		}
		vals := sess.Stats()
		expect.EQ(t, vals[stats.Runs], int64(n))
		expect.EQ(t, vals[stats.TasksCompleted], int64(2*n))
	})
}

func TestSessionCleanup(t *testing.T) {
	testSession(t, func(t *testing.T, sess *Session) {
		ctx := context.Background()
		// Nothing to delete yet.
		assert.NoError(t, sess.Cleanup(ctx))
		_, err := sess.Run(ctx, "options", testRequests(3), 2, time.Minute)
		assert.NoError(t, err)
		assert.NoError(t, sess.Cleanup(ctx))
		if _, err := sess.Environment().TaskStates(ctx, DefaultJobID); !errors.Is(errors.NotExist, err) {
			t.Errorf("got %v, want NotExist", err)
		}
		// Runs after cleanup recreate the pool and job.
		sims, err := sess.Run(ctx, "options", testRequests(3), 2, time.Minute)
		assert.NoError(t, err)
		assert.EQ(t, len(sims), 3)
	})
}

func TestSessionPackages(t *testing.T) {
	for _, env := range []Option{Local, Bigmachine(testsystem.New())} {
		sess := Start(env,
			PollInterval(10*time.Millisecond),
			Packages("pricer", "1.0", "1.1"),
			AppPackage("pricer", ""),
		)
		ctx := context.Background()
		version, err := sess.Environment().LatestPackageVersion(ctx, "pricer")
		assert.NoError(t, err)
		assert.EQ(t, version, "1.1")
		sims, err := sess.Run(ctx, "options", testRequests(3), 2, time.Minute)
		assert.NoError(t, err)
		assert.EQ(t, len(sims), 3)
		sess.Shutdown()
	}

	// Without registered versions, the package cannot be resolved.
	sess := Start(Local, PollInterval(10*time.Millisecond), AppPackage("pricer", ""))
	defer sess.Shutdown()
	_, err := sess.Run(context.Background(), "options", testRequests(3), 2, time.Minute)
	if !mcbatch.Is(mcbatch.DispatchError, err) {
		t.Errorf("got %v, want dispatch error", err)
	}
}
