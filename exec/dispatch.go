// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/mcbatch"
	"github.com/spaolacci/murmur3"
)

// A Dispatcher turns chunks into tasks and submits them to an execution
// environment. Dispatchers stage each chunk's input artifact in the
// store, create (or reuse) the pool and job, and submit one task per
// chunk in a single batch.
type Dispatcher struct {
	Env   Environment
	Store Store
	// Container is the storage container holding task artifacts.
	Container string
	// PoolID and Nodes describe the pool on which tasks are run.
	PoolID string
	Nodes  int
	// JobID names the job to which tasks are submitted.
	JobID string
	// Package is the application package run by each task. If the
	// package has an ID but no version, the latest version registered
	// with the environment is used.
	Package Package
	// Clock provides the run epoch. SystemClock is used if nil.
	Clock Clock
	// Seed is the run seed from which per-task seeds are derived.
	Seed uint64

	// lastEpoch is the epoch of the most recent dispatch.
	lastEpoch int64
}

// Dispatch submits one task per chunk and returns the submitted job.
// Chunks must be ordered by ordinal, as returned by mcbatch.Partition.
// Any failure other than an already existing pool or job is returned
// as an error of kind mcbatch.DispatchError; tasks submitted before a
// failure are not cleaned up.
func (d *Dispatcher) Dispatch(ctx context.Context, base string, chunks []mcbatch.Chunk) (*Job, error) {
	clock := d.Clock
	if clock == nil {
		clock = SystemClock
	}
	if err := d.Store.EnsureContainer(ctx, d.Container); err != nil {
		return nil, mcbatch.E(mcbatch.DispatchError, -1, err)
	}
	for i, chunk := range chunks {
		if chunk.Ordinal != i {
			return nil, mcbatch.E(mcbatch.DispatchError, i, fmt.Errorf("chunk out of order: ordinal %d at position %d", chunk.Ordinal, i))
		}
		p, err := mcbatch.Marshal(mcbatch.NewInputFile(chunk.Requests))
		if err != nil {
			return nil, mcbatch.E(mcbatch.DispatchError, i, err)
		}
		key := mcbatch.InputKey(base, chunk.Ordinal)
		if err := d.Store.Put(ctx, d.Container, key, p); err != nil {
			return nil, mcbatch.E(mcbatch.DispatchError, i, err)
		}
		log.Debug.Printf("staged %s/%s (%d requests)", d.Container, key, chunk.Len())
	}

	if err := ignoreExists(d.Env.CreatePool(ctx, d.PoolID, d.Nodes), "pool", d.PoolID); err != nil {
		return nil, mcbatch.E(mcbatch.DispatchError, -1, err)
	}
	if err := ignoreExists(d.Env.CreateJob(ctx, d.JobID, d.PoolID), "job", d.JobID); err != nil {
		return nil, mcbatch.E(mcbatch.DispatchError, -1, err)
	}
	pkg := d.Package
	if !pkg.IsZero() && pkg.Version == "" {
		version, err := d.Env.LatestPackageVersion(ctx, pkg.ID)
		if err != nil {
			return nil, mcbatch.E(mcbatch.DispatchError, -1, err)
		}
		pkg.Version = version
		log.Printf("using package %s", pkg)
	}

	job := &Job{
		ID:     d.JobID,
		PoolID: d.PoolID,
		Epoch:  d.nextEpoch(clock.Now().UnixNano() / 1e6),
		Base:   base,
		Tasks:  make([]*Task, len(chunks)),
	}
	for i, chunk := range chunks {
		job.Tasks[i] = newTask(base, d.Container, job.Epoch, chunk, taskSeed(d.Seed, base, chunk.Ordinal), pkg)
		log.Debug.Printf("created %s", job.Tasks[i])
	}
	if err := d.Env.SubmitTasks(ctx, job.ID, job.Tasks); err != nil {
		return nil, mcbatch.E(mcbatch.DispatchError, -1, err)
	}
	log.Printf("job %s: submitted %d tasks to pool %s", job.ID, len(job.Tasks), job.PoolID)
	return job, nil
}

// nextEpoch returns the epoch of a new dispatch at time nowMillis:
// nowMillis, or one past the previous epoch if that is later. Epochs
// are strictly increasing even for concurrent dispatches, so runs that
// share a job never produce the same task IDs.
func (d *Dispatcher) nextEpoch(nowMillis int64) int64 {
	for {
		last := atomic.LoadInt64(&d.lastEpoch)
		epoch := nowMillis
		if epoch <= last {
			epoch = last + 1
		}
		if atomic.CompareAndSwapInt64(&d.lastEpoch, last, epoch) {
			return epoch
		}
	}
}

// ignoreExists treats an errors.Exists outcome of resource creation as
// success.
func ignoreExists(err error, what, id string) error {
	if err != nil && errors.Is(errors.Exists, err) {
		log.Printf("%s %s already exists", what, id)
		return nil
	}
	return err
}

// taskSeed derives the seed of the task that processes a chunk from the
// run seed. Seeds depend only on the run seed, base name, and ordinal, so
// that a run is reproducible regardless of its epoch.
func taskSeed(seed uint64, base string, ordinal int) uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], seed)
	binary.LittleEndian.PutUint64(b[8:], uint64(ordinal))
	return murmur3.Sum64(append(b[:], base...))
}
