// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"net/http"
)

// Environment is the execution environment to which tasks are
// submitted: a pool of worker nodes that run jobs of tasks.
//
// Creating a pool or job whose ID is already in use returns an error of
// kind errors.Exists; callers that treat creation as idempotent test for
// that kind. Operations on unknown pools, jobs, or tasks return errors
// of kind errors.NotExist.
type Environment interface {
	// Name returns the name of the environment implementation.
	Name() string

	// CreatePool creates a pool of the given number of nodes.
	CreatePool(ctx context.Context, poolID string, nodes int) error

	// CreateJob creates a job whose tasks are scheduled on the pool.
	CreateJob(ctx context.Context, jobID, poolID string) error

	// SubmitTasks submits a batch of tasks to a job. Tasks run
	// concurrently and independently; their progress is observed via
	// TaskStates.
	SubmitTasks(ctx context.Context, jobID string, tasks []*Task) error

	// DeleteJob deletes a job and forgets its tasks. Tasks that are
	// still running are not interrupted, but their states are no longer
	// reported.
	DeleteJob(ctx context.Context, jobID string) error

	// DeletePool deletes a pool, releasing its nodes, together with any
	// jobs scheduled on it. A deleted pool's ID may be reused.
	DeletePool(ctx context.Context, poolID string) error

	// TaskStates returns the current state of each task in the job,
	// keyed by task ID.
	TaskStates(ctx context.Context, jobID string) (map[string]TaskState, error)

	// TaskNode returns the name of the node to which a task was
	// assigned.
	TaskNode(ctx context.Context, jobID, taskID string) (string, error)

	// LatestPackageVersion returns the most recent registered version
	// of the application package with the given ID.
	LatestPackageVersion(ctx context.Context, appID string) (string, error)

	// HandleDebug registers diagnostic http endpoints on the provided
	// ServeMux.
	HandleDebug(handler *http.ServeMux)
}
