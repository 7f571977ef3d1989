// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
Package mcbatch prices batches of European call options by Monte
Carlo simulation on a pool of independent workers.

A run partitions an ordered list of pricing requests into a fixed
number of contiguous chunks, stages each chunk as an input artifact,
and submits one remote task per chunk. Each task runs the simulation
engine (package montecarlo) over its chunk and publishes a result
artifact. Once every task has completed, the result artifacts are
concatenated, in chunk order, into a single aggregate.

This package defines the data model shared by the driver and its
workers: requests and results, chunks and the partitioner, the
persisted JSON file format, the artifact naming convention, and the
error taxonomy used to report which stage of a run failed. The
execution machinery lives in package exec:

	sess := exec.Start(exec.Local)
	sims, err := sess.Run(ctx, "monte_carlo", requests, 4, 30*time.Minute)
	if err != nil {
		log.Fatal(err)
	}
*/
package mcbatch
