// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
)

// LocalEnvironment is an execution environment that runs tasks
// in-process in separate goroutines. Each pool bounds the number of
// concurrently running tasks by its node count. Workers read and write
// artifacts through the environment's store.
type localEnvironment struct {
	store Store

	mu       sync.Mutex
	pools    map[string]*localPool
	jobs     map[string]*localJob
	packages map[string][]string
}

type localPool struct {
	id      string
	nodes   int
	limiter *limiter.Limiter
}

type localJob struct {
	id    string
	pool  *localPool
	state map[string]TaskState
	node  map[string]string
	order []string
}

func newLocalEnvironment(store Store) *localEnvironment {
	return &localEnvironment{
		store:    store,
		pools:    make(map[string]*localPool),
		jobs:     make(map[string]*localJob),
		packages: make(map[string][]string),
	}
}

func (*localEnvironment) Name() string { return "local" }

// RegisterPackage registers a version of an application package. Versions
// must be registered in increasing order.
func (l *localEnvironment) RegisterPackage(appID, version string) {
	l.mu.Lock()
	l.packages[appID] = append(l.packages[appID], version)
	l.mu.Unlock()
}

func (l *localEnvironment) CreatePool(ctx context.Context, poolID string, nodes int) error {
	if nodes <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("pool %s: invalid node count %d", poolID, nodes))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pools[poolID]; ok {
		return errors.E(errors.Exists, fmt.Sprintf("pool %s", poolID))
	}
	pool := &localPool{id: poolID, nodes: nodes, limiter: limiter.New()}
	pool.limiter.Release(nodes)
	l.pools[poolID] = pool
	return nil
}

func (l *localEnvironment) CreateJob(ctx context.Context, jobID, poolID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.jobs[jobID]; ok {
		return errors.E(errors.Exists, fmt.Sprintf("job %s", jobID))
	}
	pool := l.pools[poolID]
	if pool == nil {
		return errors.E(errors.NotExist, fmt.Sprintf("job %s: pool %s", jobID, poolID))
	}
	l.jobs[jobID] = &localJob{
		id:    jobID,
		pool:  pool,
		state: make(map[string]TaskState),
		node:  make(map[string]string),
	}
	return nil
}

func (l *localEnvironment) DeleteJob(ctx context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.jobs[jobID]; !ok {
		return errors.E(errors.NotExist, fmt.Sprintf("job %s", jobID))
	}
	delete(l.jobs, jobID)
	return nil
}

func (l *localEnvironment) DeletePool(ctx context.Context, poolID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pool, ok := l.pools[poolID]
	if !ok {
		return errors.E(errors.NotExist, fmt.Sprintf("pool %s", poolID))
	}
	for id, job := range l.jobs {
		if job.pool == pool {
			delete(l.jobs, id)
		}
	}
	delete(l.pools, poolID)
	return nil
}

func (l *localEnvironment) SubmitTasks(ctx context.Context, jobID string, tasks []*Task) error {
	l.mu.Lock()
	job := l.jobs[jobID]
	if job == nil {
		l.mu.Unlock()
		return errors.E(errors.NotExist, fmt.Sprintf("job %s", jobID))
	}
	// The batch is accepted or rejected as a whole.
	seen := make(map[string]bool)
	for _, task := range tasks {
		if _, ok := job.state[task.ID]; ok || seen[task.ID] {
			l.mu.Unlock()
			return errors.E(errors.Exists, fmt.Sprintf("job %s: task %s", jobID, task.ID))
		}
		seen[task.ID] = true
		if !task.Package.IsZero() && !l.hasPackage(task.Package) {
			l.mu.Unlock()
			return errors.E(errors.NotExist, fmt.Sprintf("job %s: task %s: package %s", jobID, task.ID, task.Package))
		}
	}
	for _, task := range tasks {
		job.state[task.ID] = TaskSubmitted
		job.order = append(job.order, task.ID)
	}
	l.mu.Unlock()

	for _, task := range tasks {
		go l.run(job, task)
	}
	return nil
}

// hasPackage must be called with l.mu held.
func (l *localEnvironment) hasPackage(pkg Package) bool {
	for _, v := range l.packages[pkg.ID] {
		if v == pkg.Version {
			return true
		}
	}
	return false
}

func (l *localEnvironment) run(job *localJob, task *Task) {
	ctx := backgroundcontext.Get()
	if err := job.pool.limiter.Acquire(ctx, 1); err != nil {
		// The only errors we should encounter here are context errors,
		// in which case there is no more work to do.
		log.Error.Printf("task %s: %v", task.ID, err)
		l.setState(job, task, TaskFailed, "")
		return
	}
	defer job.pool.limiter.Release(1)
	l.setState(job, task, TaskRunning, fmt.Sprintf("%s/node-%d", job.pool.id, task.Ordinal%job.pool.nodes))
	err := func() (err error) {
		defer func() {
			if e := recover(); e != nil {
				err = fmt.Errorf("panic while running task: %v\n%s", e, debug.Stack())
			}
		}()
		return RunTask(ctx, l.store, task)
	}()
	if err != nil {
		log.Error.Printf("%s: %v", task, err)
		l.setState(job, task, TaskFailed, "")
		return
	}
	l.setState(job, task, TaskCompleted, "")
}

func (l *localEnvironment) setState(job *localJob, task *Task, state TaskState, node string) {
	l.mu.Lock()
	job.state[task.ID] = state
	if node != "" {
		job.node[task.ID] = node
	}
	l.mu.Unlock()
}

func (l *localEnvironment) TaskStates(ctx context.Context, jobID string) (map[string]TaskState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job := l.jobs[jobID]
	if job == nil {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("job %s", jobID))
	}
	states := make(map[string]TaskState, len(job.state))
	for id, state := range job.state {
		states[id] = state
	}
	return states, nil
}

func (l *localEnvironment) TaskNode(ctx context.Context, jobID, taskID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job := l.jobs[jobID]
	if job == nil {
		return "", errors.E(errors.NotExist, fmt.Sprintf("job %s", jobID))
	}
	node, ok := job.node[taskID]
	if !ok {
		return "", errors.E(errors.NotExist, fmt.Sprintf("job %s: task %s has no node", jobID, taskID))
	}
	return node, nil
}

func (l *localEnvironment) LatestPackageVersion(ctx context.Context, appID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	versions := l.packages[appID]
	if len(versions) == 0 {
		return "", errors.E(errors.NotExist, fmt.Sprintf("package %s", appID))
	}
	return versions[len(versions)-1], nil
}

func (l *localEnvironment) HandleDebug(handler *http.ServeMux) {
	handler.HandleFunc("/debug/mcbatch/jobs", func(w http.ResponseWriter, r *http.Request) {
		type taskInfo struct {
			ID, State, Node string
		}
		l.mu.Lock()
		jobs := make(map[string][]taskInfo)
		for id, job := range l.jobs {
			for _, taskID := range job.order {
				jobs[id] = append(jobs[id], taskInfo{taskID, job.state[taskID].String(), job.node[taskID]})
			}
		}
		l.mu.Unlock()
		for _, tasks := range jobs {
			sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
		}
		w.Header().Add("content-type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(jobs); err != nil {
			log.Error.Printf("exec.Local: /debug/mcbatch/jobs: marshal: %v", err)
		}
	})
}
