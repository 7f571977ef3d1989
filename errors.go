// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mcbatch

import (
	"bytes"
	"errors"
	"fmt"
)

// Kind classifies run failures by the stage that produced them. Every
// kind is fatal to the run in which it occurs.
type Kind int

const (
	// Other is an unclassified failure.
	Other Kind = iota
	// InvalidParameters indicates a malformed pricing request.
	InvalidParameters
	// InvalidPartitionCount indicates a non-positive partition count.
	InvalidPartitionCount
	// DispatchError indicates that staging inputs or submitting tasks
	// to the execution environment failed.
	DispatchError
	// Timeout indicates that tasks did not complete before the
	// completion deadline.
	Timeout
	// TaskFailure indicates that a task reached a failed terminal state.
	TaskFailure
	// MissingArtifact indicates that an expected result artifact was
	// absent after all tasks reported success.
	MissingArtifact
	// Canceled indicates that the run was canceled while waiting for
	// tasks to complete.
	Canceled

	maxKind
)

var kinds = [...]struct {
	name, stage string
}{
	Other:                 {"unknown error", "run"},
	InvalidParameters:     {"invalid parameters", "validate"},
	InvalidPartitionCount: {"invalid partition count", "partition"},
	DispatchError:         {"dispatch error", "dispatch"},
	Timeout:               {"timeout", "await"},
	TaskFailure:           {"task failure", "await"},
	MissingArtifact:       {"missing artifact", "aggregate"},
	Canceled:              {"canceled", "await"},
}

// String returns a short description of the kind.
func (k Kind) String() string {
	if k < 0 || k >= maxKind {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kinds[k].name
}

// Stage returns the name of the pipeline stage that reports errors of
// this kind.
func (k Kind) Stage() string {
	if k < 0 || k >= maxKind {
		return kinds[Other].stage
	}
	return kinds[k].stage
}

// ExitCode returns the process exit code used by command line tools to
// report errors of this kind. Exit codes are non-zero and distinct per
// kind.
func (k Kind) ExitCode() int {
	if k <= Other || k >= maxKind {
		return 1
	}
	return int(k) + 1
}

// Error is the error type returned by pipeline stages. It records the
// kind of failure and, where applicable, the ordinal of the chunk or
// task at fault.
type Error struct {
	Kind Kind
	// Ordinal is the chunk (and task) ordinal to which the error
	// applies, or -1 if the error is not specific to a chunk.
	Ordinal int
	// Err is the underlying error, if any.
	Err error
}

// E constructs a new error of the given kind. Ordinal is -1 for errors
// that do not pertain to a single chunk.
func E(kind Kind, ordinal int, err error) error {
	return &Error{Kind: kind, Ordinal: ordinal, Err: err}
}

// Error implements error.
func (e *Error) Error() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s: %s", e.Kind.Stage(), e.Kind)
	if e.Ordinal >= 0 {
		fmt.Fprintf(&b, " (chunk %d)", e.Ordinal)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// Other if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// Is tells whether err is an *Error of the given kind.
func Is(kind Kind, err error) bool {
	return err != nil && KindOf(err) == kind
}
