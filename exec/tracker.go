// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/mcbatch"
)

// DefaultPollInterval is the interval between task state queries used
// by trackers that do not specify one.
const DefaultPollInterval = time.Second

// A Tracker awaits the completion of a job's tasks by periodically
// querying their states from the execution environment.
type Tracker struct {
	Env Environment
	// Clock measures the deadline and paces polling. SystemClock is
	// used if nil.
	Clock Clock
	// Interval is the time between successive state queries.
	// DefaultPollInterval is used if zero.
	Interval time.Duration
	// Status, if non-nil, receives a progress line after every query.
	Status *status.Task
}

// Await blocks until every task of the job has completed, any task has
// failed, the timeout elapses, or the context is done. It returns nil
// only when every task completed. A failed task produces an error of
// kind mcbatch.TaskFailure naming the lowest failed ordinal; an elapsed
// timeout produces mcbatch.Timeout; a canceled context produces
// mcbatch.Canceled.
//
// Only the tasks of the provided job are considered: other tasks
// sharing the job name are ignored, and a task that has not yet been
// listed by the environment is considered pending. Errors querying task
// states are logged and polling continues until the deadline.
func (t *Tracker) Await(ctx context.Context, job *Job, timeout time.Duration) error {
	clock := t.Clock
	if clock == nil {
		clock = SystemClock
	}
	interval := t.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := clock.Now().Add(timeout)
	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return mcbatch.E(mcbatch.Canceled, -1, err)
		}
		states, err := t.Env.TaskStates(ctx, job.ID)
		if err != nil {
			log.Error.Printf("job %s: querying task states: %v", job.ID, err)
			lastErr = err
		} else {
			lastErr = nil
			var counts [maxState]int
			var failed *Task
			for _, task := range job.Tasks {
				state, ok := states[task.ID]
				if !ok {
					state = TaskSubmitted
				}
				counts[state]++
				if state == TaskFailed && (failed == nil || task.Ordinal < failed.Ordinal) {
					failed = task
				}
			}
			if t.Status != nil {
				t.Status.Printf("tasks: submitted %d running %d done %d failed %d",
					counts[TaskSubmitted], counts[TaskRunning], counts[TaskCompleted], counts[TaskFailed])
			}
			if failed != nil {
				return mcbatch.E(mcbatch.TaskFailure, failed.Ordinal,
					fmt.Errorf("job %s: task %s failed", job.ID, failed.ID))
			}
			if counts[TaskCompleted] == len(job.Tasks) {
				t.logNodes(ctx, job)
				return nil
			}
		}
		now := clock.Now()
		if !now.Before(deadline) {
			err := fmt.Errorf("job %s: tasks did not complete within %s", job.ID, timeout)
			if lastErr != nil {
				err = fmt.Errorf("%v (last error: %v)", err, lastErr)
			}
			return mcbatch.E(mcbatch.Timeout, -1, err)
		}
		wait := interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return mcbatch.E(mcbatch.Canceled, -1, ctx.Err())
		case <-clock.After(wait):
		}
	}
}

// logNodes logs the node that ran each of the job's tasks. Failure to
// retrieve a node is not an error.
func (t *Tracker) logNodes(ctx context.Context, job *Job) {
	for _, task := range job.Tasks {
		node, err := t.Env.TaskNode(ctx, job.ID, task.ID)
		if err != nil {
			log.Debug.Printf("job %s: task %s: node unavailable: %v", job.ID, task.ID, err)
			continue
		}
		log.Printf("job %s: task %s ran on %s", job.ID, task.ID, node)
	}
}
