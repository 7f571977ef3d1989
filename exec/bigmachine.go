// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/gob"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/bigmachine"
	"golang.org/x/sync/errgroup"
)

func init() {
	gob.Register(&worker{})
}

// RetryPolicy is the retry policy used for transient machine call
// failures.
var retryPolicy = retry.Backoff(time.Second, 5*time.Second, 1.5)

// FatalErr is used to match fatal errors.
var fatalErr = errors.E(errors.Fatal)

// maxCallRetries is the number of times a task RPC is retried on
// network or temporary errors before the task is declared failed.
const maxCallRetries = 3

// BigmachineEnvironment is an execution environment whose pools are
// sets of bigmachine machines. Each task is run as a Worker.Run call on
// one machine of the job's pool; workers exchange artifacts with the
// driver through a FileStore, which must be reachable from every
// machine (e.g., an S3 prefix, or a local directory when using
// bigmachine.Local).
type bigmachineEnvironment struct {
	system bigmachine.System
	params []bigmachine.Param
	store  *FileStore

	b *bigmachine.B

	// pools ensures that the machines of each pool are started exactly
	// once.
	pools taskOnce

	mu       sync.Mutex
	machines map[string][]*bigmachine.Machine
	jobs     map[string]*remoteJob
	packages map[string][]string
}

type remoteJob struct {
	poolID string
	state  map[string]TaskState
	node   map[string]string
}

func newBigmachineEnvironment(system bigmachine.System, store *FileStore, params ...bigmachine.Param) *bigmachineEnvironment {
	return &bigmachineEnvironment{
		system:   system,
		params:   params,
		store:    store,
		machines: make(map[string][]*bigmachine.Machine),
		jobs:     make(map[string]*remoteJob),
		packages: make(map[string][]string),
	}
}

// Start starts bigmachine. In worker processes, Start does not return.
func (e *bigmachineEnvironment) Start() (shutdown func()) {
	e.b = bigmachine.Start(e.system)
	return e.b.Shutdown
}

func (e *bigmachineEnvironment) Name() string { return "bigmachine:" + e.system.Name() }

// RegisterPackage registers a version of an application package. Versions
// must be registered in increasing order.
func (e *bigmachineEnvironment) RegisterPackage(appID, version string) {
	e.mu.Lock()
	e.packages[appID] = append(e.packages[appID], version)
	e.mu.Unlock()
}

func (e *bigmachineEnvironment) CreatePool(ctx context.Context, poolID string, nodes int) error {
	if nodes <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("pool %s: invalid node count %d", poolID, nodes))
	}
	ran, err := e.pools.Do(poolID, func() error {
		return e.startPool(ctx, poolID, nodes)
	})
	switch {
	case err != nil:
		// Let a later run try again.
		e.pools.Forget(poolID)
		return err
	case !ran:
		return errors.E(errors.Exists, fmt.Sprintf("pool %s", poolID))
	}
	return nil
}

func (e *bigmachineEnvironment) startPool(ctx context.Context, poolID string, nodes int) error {
	log.Printf("pool %s: starting %d machines", poolID, nodes)
	params := append([]bigmachine.Param{bigmachine.Services{"Worker": &worker{}}}, e.params...)
	machines, err := e.b.Start(ctx, nodes, params...)
	if err != nil {
		return err
	}
	var (
		mu    sync.Mutex
		ready []*bigmachine.Machine
	)
	g, _ := errgroup.WithContext(ctx)
	for i := range machines {
		m := machines[i]
		g.Go(func() error {
			<-m.Wait(bigmachine.Running)
			if err := m.Err(); err != nil {
				log.Error.Printf("pool %s: machine %s failed to start: %v", poolID, m.Addr, err)
				return nil
			}
			log.Printf("pool %s: machine %s is ready", poolID, m.Addr)
			mu.Lock()
			ready = append(ready, m)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if len(ready) == 0 {
		return errors.E(errors.Unavailable, fmt.Sprintf("pool %s: no machines started", poolID))
	}
	// Keep assignment deterministic for a given set of machines.
	sort.Slice(ready, func(i, j int) bool { return ready[i].Addr < ready[j].Addr })
	e.mu.Lock()
	e.machines[poolID] = ready
	e.mu.Unlock()
	return nil
}

func (e *bigmachineEnvironment) CreateJob(ctx context.Context, jobID, poolID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.jobs[jobID]; ok {
		return errors.E(errors.Exists, fmt.Sprintf("job %s", jobID))
	}
	if _, ok := e.machines[poolID]; !ok {
		return errors.E(errors.NotExist, fmt.Sprintf("job %s: pool %s", jobID, poolID))
	}
	e.jobs[jobID] = &remoteJob{
		poolID: poolID,
		state:  make(map[string]TaskState),
		node:   make(map[string]string),
	}
	return nil
}

func (e *bigmachineEnvironment) DeleteJob(ctx context.Context, jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.jobs[jobID]; !ok {
		return errors.E(errors.NotExist, fmt.Sprintf("job %s", jobID))
	}
	delete(e.jobs, jobID)
	return nil
}

// DeletePool cancels the pool's machines. Tasks still running on them
// fail.
func (e *bigmachineEnvironment) DeletePool(ctx context.Context, poolID string) error {
	e.mu.Lock()
	machines, ok := e.machines[poolID]
	if !ok {
		e.mu.Unlock()
		return errors.E(errors.NotExist, fmt.Sprintf("pool %s", poolID))
	}
	delete(e.machines, poolID)
	for id, job := range e.jobs {
		if job.poolID == poolID {
			delete(e.jobs, id)
		}
	}
	e.mu.Unlock()
	e.pools.Forget(poolID)
	for _, m := range machines {
		log.Printf("pool %s: stopping machine %s", poolID, m.Addr)
		m.Cancel()
	}
	return nil
}

func (e *bigmachineEnvironment) SubmitTasks(ctx context.Context, jobID string, tasks []*Task) error {
	e.mu.Lock()
	job := e.jobs[jobID]
	if job == nil {
		e.mu.Unlock()
		return errors.E(errors.NotExist, fmt.Sprintf("job %s", jobID))
	}
	machines := e.machines[job.poolID]
	seen := make(map[string]bool)
	for _, task := range tasks {
		if _, ok := job.state[task.ID]; ok || seen[task.ID] {
			e.mu.Unlock()
			return errors.E(errors.Exists, fmt.Sprintf("job %s: task %s", jobID, task.ID))
		}
		seen[task.ID] = true
		if !task.Package.IsZero() && !containsString(e.packages[task.Package.ID], task.Package.Version) {
			e.mu.Unlock()
			return errors.E(errors.NotExist, fmt.Sprintf("job %s: task %s: package %s", jobID, task.ID, task.Package))
		}
	}
	for _, task := range tasks {
		job.state[task.ID] = TaskSubmitted
	}
	e.mu.Unlock()

	for _, task := range tasks {
		m := machines[task.Ordinal%len(machines)]
		go e.run(job, m, task)
	}
	return nil
}

// run runs a task on a machine. Tasks are not tied to the submitter's
// context: once submitted, they run to completion.
func (e *bigmachineEnvironment) run(job *remoteJob, m *bigmachine.Machine, task *Task) {
	ctx := context.Background()
	e.setState(job, task, TaskRunning, m.Addr)
	req := workerRunRequest{Task: *task, Root: e.store.Root}
	var err error
	for retries := 0; ; retries++ {
		err = m.Call(ctx, "Worker.Run", req, nil)
		if err == nil || errors.Match(fatalErr, err) || retries == maxCallRetries {
			break
		}
		if !errors.Is(errors.Net, err) && !errors.IsTemporary(err) {
			break
		}
		log.Printf("%s on %s: retrying(%d): %v", task.ID, m.Addr, retries+1, err)
		if err = retry.Wait(ctx, retryPolicy, retries); err != nil {
			break
		}
	}
	if err != nil {
		log.Error.Printf("%s on %s: %v", task, m.Addr, err)
		e.setState(job, task, TaskFailed, "")
		return
	}
	e.setState(job, task, TaskCompleted, "")
}

func (e *bigmachineEnvironment) setState(job *remoteJob, task *Task, state TaskState, node string) {
	e.mu.Lock()
	job.state[task.ID] = state
	if node != "" {
		job.node[task.ID] = node
	}
	e.mu.Unlock()
}

func (e *bigmachineEnvironment) TaskStates(ctx context.Context, jobID string) (map[string]TaskState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job := e.jobs[jobID]
	if job == nil {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("job %s", jobID))
	}
	states := make(map[string]TaskState, len(job.state))
	for id, state := range job.state {
		states[id] = state
	}
	return states, nil
}

func (e *bigmachineEnvironment) TaskNode(ctx context.Context, jobID, taskID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job := e.jobs[jobID]
	if job == nil {
		return "", errors.E(errors.NotExist, fmt.Sprintf("job %s", jobID))
	}
	node, ok := job.node[taskID]
	if !ok {
		return "", errors.E(errors.NotExist, fmt.Sprintf("job %s: task %s has no node", jobID, taskID))
	}
	return node, nil
}

func (e *bigmachineEnvironment) LatestPackageVersion(ctx context.Context, appID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	versions := e.packages[appID]
	if len(versions) == 0 {
		return "", errors.E(errors.NotExist, fmt.Sprintf("package %s", appID))
	}
	return versions[len(versions)-1], nil
}

func (e *bigmachineEnvironment) HandleDebug(handler *http.ServeMux) {
	e.b.HandleDebug(handler)
}

func containsString(list []string, s string) bool {
	for _, t := range list {
		if t == s {
			return true
		}
	}
	return false
}

// workerRunRequest contains all data required to run an individual task
// on a worker.
type workerRunRequest struct {
	Task Task
	// Root is the root of the FileStore shared by the driver and its
	// workers.
	Root string
}

// A worker is the bigmachine service that runs individual tasks.
type worker struct {
	// Exported just satisfies gob's persnickety nature: we need at least
	// one exported field.
	Exported struct{}
}

// Run runs the task described in the request. Run returns a nil error
// once the task's result artifact has been published.
func (w *worker) Run(ctx context.Context, req workerRunRequest, _ *struct{}) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = errors.E(errors.Fatal, fmt.Sprintf("panic while running task %s: %v", req.Task.ID, e))
		}
	}()
	store := &FileStore{Root: req.Root}
	return RunTask(ctx, store, &req.Task)
}
