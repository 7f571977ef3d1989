// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"fmt"

	"github.com/grailbio/mcbatch"
)

// TaskState represents the state of a Task as reported by its execution
// environment. TaskState values are defined so that their magnitudes
// correspond with task progression.
type TaskState int

const (
	// TaskSubmitted is the state of a task that has been accepted by the
	// environment but has not yet started running.
	TaskSubmitted TaskState = iota
	// TaskRunning is the state of a task that is currently executing on
	// a node.
	TaskRunning

	// TaskCompleted indicates that a task finished and published its
	// result artifact.
	//
	// All TaskState values greater than or equal to TaskCompleted are
	// terminal.
	TaskCompleted
	// TaskFailed indicates that a task terminated without producing its
	// result.
	TaskFailed

	maxState
)

var states = [...]string{
	TaskSubmitted: "SUBMITTED",
	TaskRunning:   "RUNNING",
	TaskCompleted: "COMPLETED",
	TaskFailed:    "FAILED",
}

// String returns the task's state as an upper-case string.
func (s TaskState) String() string {
	if s < 0 || s >= maxState {
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
	return states[s]
}

// Terminal tells whether no further transitions can occur from state s.
func (s TaskState) Terminal() bool {
	return s >= TaskCompleted
}

// A Package names a versioned application package that a task executes.
// The zero Package references no package.
type Package struct {
	ID      string
	Version string
}

// IsZero tells whether p references no package.
func (p Package) IsZero() bool {
	return p.ID == ""
}

// String returns the package as "id@version".
func (p Package) String() string {
	if p.IsZero() {
		return "<none>"
	}
	return p.ID + "@" + p.Version
}

// A Task is one remotely executed unit of work: it prices the requests
// of a single chunk. A task references only its chunk's input artifact;
// the worker that runs it publishes the result artifact under Output.
// Tasks are sent to remote workers and are therefore gob-encodable.
type Task struct {
	// ID uniquely names the task across runs. See TaskID.
	ID string
	// Ordinal is the ordinal of the chunk processed by the task.
	Ordinal int
	// Container is the storage container holding both the input and
	// the result artifacts.
	Container string
	// Input and Output are the storage keys of the task's input and
	// result artifacts.
	Input, Output string
	// Seed seeds the random source used to price the chunk.
	Seed uint64
	// Package is the application package executed by the task.
	Package Package
}

// TaskID returns the ID of the task processing the chunk with the given
// ordinal in the run started at epoch. IDs are unique across concurrent
// runs as long as their epochs differ.
func TaskID(epoch int64, ordinal int) string {
	return fmt.Sprintf("Task-%d-%d", epoch, ordinal)
}

// String returns a short, human-readable description of the task.
func (t *Task) String() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "task %s [%d] %s -> %s", t.ID, t.Ordinal, t.Input, t.Output)
	if !t.Package.IsZero() {
		fmt.Fprintf(&b, " (%s)", t.Package)
	}
	return b.String()
}

// A Job is the named group of tasks submitted together to a pool by a
// single run. A job name may be reused across runs; a Job value only
// describes the tasks of the run that submitted them.
type Job struct {
	ID     string
	PoolID string
	// Epoch is the run-scoped timestamp from which task IDs are derived.
	Epoch int64
	// Base is the artifact base name of the run.
	Base  string
	Tasks []*Task
}

// ResultKeys returns the result artifact keys of the job's tasks in
// ordinal order.
func (j *Job) ResultKeys() []string {
	keys := make([]string, len(j.Tasks))
	for _, task := range j.Tasks {
		keys[task.Ordinal] = task.Output
	}
	return keys
}

// newTask returns the task that processes chunk in the run started at
// epoch.
func newTask(base, container string, epoch int64, chunk mcbatch.Chunk, seed uint64, pkg Package) *Task {
	return &Task{
		ID:        TaskID(epoch, chunk.Ordinal),
		Ordinal:   chunk.Ordinal,
		Container: container,
		Input:     mcbatch.InputKey(base, chunk.Ordinal),
		Output:    mcbatch.ResultKey(base, chunk.Ordinal),
		Seed:      seed,
		Package:   pkg,
	}
}
