// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/mcbatch"
	"github.com/grailbio/mcbatch/montecarlo"
)

// RunTask performs the work of a single task: it reads the task's input
// artifact from store, prices every request in it with a source seeded
// by the task's seed, and publishes the result artifact. RunTask is
// invoked by workers; it is safe to invoke concurrently for distinct
// tasks, which never share artifacts.
//
// Errors caused by the task's input are fatal: rerunning the task
// cannot succeed.
func RunTask(ctx context.Context, store Store, task *Task) error {
	p, err := store.Get(ctx, task.Container, task.Input)
	if err != nil {
		return errors.E(fmt.Sprintf("task %s: read input", task.ID), err)
	}
	in, err := mcbatch.Unmarshal(p)
	if err != nil {
		return errors.E(errors.Fatal, errors.Invalid, fmt.Sprintf("task %s", task.ID), err)
	}
	out, err := montecarlo.PriceFile(montecarlo.NewSource(task.Seed), in)
	if err != nil {
		return errors.E(errors.Fatal, errors.Invalid, fmt.Sprintf("task %s", task.ID), err)
	}
	if p, err = mcbatch.Marshal(out); err != nil {
		return errors.E(errors.Fatal, fmt.Sprintf("task %s: encode results", task.ID), err)
	}
	if err := store.Put(ctx, task.Container, task.Output, p); err != nil {
		return errors.E(fmt.Sprintf("task %s: write results", task.ID), err)
	}
	log.Debug.Printf("task %s: priced %d requests into %s", task.ID, len(out.Simulations), task.Output)
	return nil
}
