// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"sync"
	"sync/atomic"
)

// OnceTask manages a computation that must be run at most once.
// It's similar to sync.Once, except it also handles and returns errors.
type onceTask struct {
	mu   sync.Mutex
	done uint32
	err  error
}

// Do runs the function do at most once and reports whether this call
// was the one that ran it. Do returns the error of do's invocation.
func (o *onceTask) Do(do func() error) (ran bool, err error) {
	if atomic.LoadUint32(&o.done) == 1 {
		return false, o.err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if atomic.LoadUint32(&o.done) == 0 {
		o.err = do()
		atomic.StoreUint32(&o.done, 1)
		return true, o.err
	}
	return false, o.err
}

// TaskOnce coordinates actions that must happen exactly once per key,
// such as starting the machines of a named pool.
type taskOnce sync.Map

// Do invokes the action named by key exactly once. It reports whether
// this call performed the action, together with the action's error.
func (t *taskOnce) Do(key interface{}, do func() error) (ran bool, err error) {
	taskv, _ := (*sync.Map)(t).LoadOrStore(key, new(onceTask))
	task := taskv.(*onceTask)
	return task.Do(do)
}

// Forget forgets past computations associated with the provided key so
// that a failed action may be attempted again.
func (t *taskOnce) Forget(key interface{}) {
	(*sync.Map)(t).Delete(key)
}
