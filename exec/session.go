// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/diagnostic/dump"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/mcbatch"
	"github.com/grailbio/mcbatch/stats"
)

// Defaults used by sessions that do not configure otherwise.
const (
	DefaultPoolID           = "mcbatch-pool"
	DefaultJobID            = "mcbatch-job"
	DefaultNodes            = 2
	DefaultStagingContainer = "temp"
	DefaultOutputContainer  = "output"
)

// Session represents an mcbatch pricing session. A session binds an
// execution environment, the store through which the driver and its
// workers exchange artifacts, and the pool and job to which tasks are
// submitted. A session can run multiple batches; each run submits a
// fresh set of tasks to the same (reused) pool and job.
//
// A session is started by the Start function. The bigmachine
// environment may launch multiple copies of the binary: in these worker
// processes Start does not return.
//
//	func main() {
//		sess := exec.Start(exec.Local)
//		defer sess.Shutdown()
//		sims, err := sess.Run(ctx, "options", requests, 4, 30*time.Minute)
//		if err != nil {
//			log.Fatal(err)
//		}
//		// Success!
//	}
type Session struct {
	index    int32
	newEnv   func(*Session) Environment
	remote   bool
	env      Environment
	store    Store
	shutdown func()

	staging, output string
	poolID          string
	nodes           int
	jobID           string
	interval        time.Duration
	clock           Clock
	seed            uint64
	pkg             Package
	packages        []Package
	status          *status.Status
	eventer         eventlog.Eventer

	stats *stats.Map
	// dispatcher is shared by all runs so that run epochs increase.
	dispatcher *Dispatcher
}

// nextSessionIndex is the index of the next session started by Start.
var nextSessionIndex int32

func newSession() *Session {
	return &Session{
		index:   atomic.AddInt32(&nextSessionIndex, 1) - 1,
		eventer: eventlog.Nop{},
		stats:   stats.NewMap(),
	}
}

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Local configures a session to run tasks in-process.
var Local Option = func(s *Session) {
	s.remote = false
	s.newEnv = func(s *Session) Environment {
		return newLocalEnvironment(s.store)
	}
}

// Bigmachine configures a session to run tasks on machines allocated
// from the provided bigmachine system. If any params are provided, they
// are applied to each machine. The session's store must be a *FileStore
// whose root is reachable from every machine; if no store is
// configured, a FileStore rooted in a fresh local temporary directory is
// used, which is suitable only for bigmachine.Local and test systems.
func Bigmachine(system bigmachine.System, params ...bigmachine.Param) Option {
	return func(s *Session) {
		s.remote = true
		s.newEnv = func(s *Session) Environment {
			store, ok := s.store.(*FileStore)
			if !ok {
				log.Panicf("exec.Bigmachine: store %T is not a *FileStore", s.store)
			}
			return newBigmachineEnvironment(system, store, params...)
		}
	}
}

// WithEnvironment configures the session with a caller-provided
// execution environment.
func WithEnvironment(env Environment) Option {
	return func(s *Session) {
		s.remote = false
		s.newEnv = func(*Session) Environment { return env }
	}
}

// WithStore configures the session's artifact store.
func WithStore(store Store) Option {
	return func(s *Session) {
		s.store = store
	}
}

// Containers configures the containers holding task artifacts (staging)
// and the aggregated output.
func Containers(staging, output string) Option {
	if staging == "" || output == "" {
		panic("exec.Containers: empty container name")
	}
	return func(s *Session) {
		s.staging, s.output = staging, output
	}
}

// Pool configures the pool on which tasks are run.
func Pool(id string, nodes int) Option {
	if nodes <= 0 {
		panic("exec.Pool: nodes <= 0")
	}
	return func(s *Session) {
		s.poolID, s.nodes = id, nodes
	}
}

// JobID configures the name of the job to which tasks are submitted.
func JobID(id string) Option {
	return func(s *Session) {
		s.jobID = id
	}
}

// PollInterval configures the interval between task state queries.
func PollInterval(d time.Duration) Option {
	if d <= 0 {
		panic("exec.PollInterval: d <= 0")
	}
	return func(s *Session) {
		s.interval = d
	}
}

// WithClock configures the clock used to derive run epochs and to pace
// polling.
func WithClock(c Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// Seed configures the run seed from which per-task random seeds are
// derived. Runs of the same input with the same seed produce identical
// results.
func Seed(seed uint64) Option {
	return func(s *Session) {
		s.seed = seed
	}
}

// Packages registers versions of an application package with the
// session's environment, in increasing order, so that tasks may
// reference them.
func Packages(id string, versions ...string) Option {
	return func(s *Session) {
		for _, v := range versions {
			s.packages = append(s.packages, Package{ID: id, Version: v})
		}
	}
}

// AppPackage configures the application package run by each task. If
// version is empty, the latest version known to the environment is used
// at dispatch time.
func AppPackage(id, version string) Option {
	return func(s *Session) {
		s.pkg = Package{ID: id, Version: version}
	}
}

// Status configures the session with a status object to which run
// progress is reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status

		name := fmt.Sprintf("mcbatch-%02d-status", s.index)
		dump.Register(name, func(ctx context.Context, w io.Writer) error {
			return status.Marshal(w)
		})
	}
}

// Eventer configures the session with an Eventer that will be used to log
// session events (for analytics).
func Eventer(e eventlog.Eventer) Option {
	return func(s *Session) {
		s.eventer = e
	}
}

// Start creates and starts a new session, configuring it according to
// the provided options. If no environment is configured, tasks run
// in-process; if no store is configured, artifacts are kept in memory
// (or, for bigmachine sessions, in a local temporary directory).
func Start(options ...Option) *Session {
	s := newSession()
	for _, opt := range options {
		opt(s)
	}
	s.start()
	return s
}

func (s *Session) start() {
	if s.newEnv == nil {
		Local(s)
	}
	if s.store == nil {
		s.store = s.defaultStore()
	}
	if s.staging == "" {
		s.staging, s.output = DefaultStagingContainer, DefaultOutputContainer
	}
	if s.poolID == "" {
		s.poolID = DefaultPoolID
	}
	if s.nodes == 0 {
		s.nodes = DefaultNodes
	}
	if s.jobID == "" {
		s.jobID = DefaultJobID
	}
	if s.interval == 0 {
		s.interval = DefaultPollInterval
	}
	if s.clock == nil {
		s.clock = SystemClock
	}
	s.env = s.newEnv(s)
	s.dispatcher = &Dispatcher{
		Env:       s.env,
		Store:     s.store,
		Container: s.staging,
		PoolID:    s.poolID,
		Nodes:     s.nodes,
		JobID:     s.jobID,
		Package:   s.pkg,
		Clock:     s.clock,
		Seed:      s.seed,
	}
	if starter, ok := s.env.(interface{ Start() func() }); ok {
		s.shutdown = starter.Start()
	}
	packages := s.packages
	if s.pkg.Version != "" && !containsPackage(packages, s.pkg) {
		packages = append(packages, s.pkg)
	}
	if len(packages) > 0 {
		registry, ok := s.env.(interface{ RegisterPackage(appID, version string) })
		if !ok {
			log.Panicf("exec.Start: environment %s does not support application packages", s.env.Name())
		}
		for _, pkg := range packages {
			registry.RegisterPackage(pkg.ID, pkg.Version)
		}
	}
	s.eventer.Event("mcbatch:sessionStart",
		"environment", s.env.Name(),
		"pool", s.poolID,
		"nodes", s.nodes,
		"job", s.jobID)
}

// defaultStore returns the store used by sessions that configure none.
// Remote environments need a store shared with their workers, so those
// get a FileStore.
func (s *Session) defaultStore() Store {
	if s.remote {
		return tempStore()
	}
	return NewMemoryStore()
}

// Run prices the provided requests as a batch of n tasks and returns
// one simulation per request, in input order. Run validates every
// request, partitions the requests into n chunks, submits one task per
// chunk, waits up to timeout for all tasks to complete, and aggregates
// their results, which are also saved as the aggregate artifact of the
// provided base name in the session's output container.
//
// Requests without an ID are assigned one; the caller's slice is not
// modified. Run does not retry: errors are returned as *mcbatch.Error
// values whose kind identifies the stage that failed.
func (s *Session) Run(ctx context.Context, base string, requests []mcbatch.Request, n int, timeout time.Duration) ([]mcbatch.Simulation, error) {
	requests = append([]mcbatch.Request(nil), requests...)
	mcbatch.Assign(requests)
	if err := mcbatch.Validate(requests); err != nil {
		return nil, err
	}
	chunks, err := mcbatch.Partition(requests, n)
	if err != nil {
		return nil, err
	}
	s.eventer.Event("mcbatch:runStart", "base", base, "requests", len(requests), "tasks", n)
	var task *status.Task
	if s.status != nil {
		task = s.status.Groupf("run %s", base).Startf("%d requests in %d tasks", len(requests), n)
		defer task.Done()
	}
	job, err := s.dispatcher.Dispatch(ctx, base, chunks)
	if err != nil {
		return nil, err
	}
	s.stats.Add(stats.Runs, 1)
	t := &Tracker{Env: s.env, Clock: s.clock, Interval: s.interval, Status: task}
	if err := t.Await(ctx, job, timeout); err != nil {
		if mcbatch.Is(mcbatch.TaskFailure, err) {
			s.stats.Add(stats.TasksFailed, 1)
		}
		return nil, err
	}
	s.stats.Add(stats.TasksCompleted, int64(len(job.Tasks)))
	sims, err := Aggregate(ctx, s.store, s.staging, job.ResultKeys())
	if err != nil {
		return nil, err
	}
	key := mcbatch.AggregateKey(base)
	if err := Save(ctx, s.store, s.output, key, sims); err != nil {
		return nil, mcbatch.E(mcbatch.Other, -1, err)
	}
	var paths int64
	for _, sim := range sims {
		if sim.Results != nil {
			paths += int64(len(sim.Results.PathPayoffs))
		}
	}
	s.stats.Add(stats.Requests, int64(len(sims)))
	s.stats.Add(stats.Paths, paths)
	log.Printf("run %s: %d simulations saved to %s/%s", base, len(sims), s.output, key)
	s.eventer.Event("mcbatch:runDone", "base", base, "simulations", len(sims))
	return sims, nil
}

// Status returns the session's status aggregator, or nil if none was
// configured.
func (s *Session) Status() *status.Status {
	return s.status
}

// Stats returns a snapshot of the session's counters.
func (s *Session) Stats() stats.Values {
	return s.stats.Snapshot()
}

// Store returns the session's artifact store.
func (s *Session) Store() Store {
	return s.store
}

// Environment returns the session's execution environment.
func (s *Session) Environment() Environment {
	return s.env
}

// Containers returns the session's staging and output containers.
func (s *Session) Containers() (staging, output string) {
	return s.staging, s.output
}

// HandleDebug registers the session's and its environment's debug
// handlers on the provided ServeMux.
func (s *Session) HandleDebug(handler *http.ServeMux) {
	handler.HandleFunc("/debug/mcbatch/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("content-type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, s.Stats())
	})
	s.env.HandleDebug(handler)
}

// Cleanup deletes the session's job and pool from the environment.
// Resources that do not exist are skipped. Subsequent runs recreate them.
func (s *Session) Cleanup(ctx context.Context) error {
	if err := s.env.DeleteJob(ctx, s.jobID); err != nil && !errors.Is(errors.NotExist, err) {
		return err
	}
	if err := s.env.DeletePool(ctx, s.poolID); err != nil && !errors.Is(errors.NotExist, err) {
		return err
	}
	log.Printf("deleted job %s and pool %s", s.jobID, s.poolID)
	return nil
}

// Shutdown tears down resources associated with this session.
// It should be called when the session is discarded.
func (s *Session) Shutdown() {
	if s.shutdown != nil {
		s.shutdown()
	}
}

func containsPackage(pkgs []Package, pkg Package) bool {
	for _, p := range pkgs {
		if p == pkg {
			return true
		}
	}
	return false
}

func tempStore() *FileStore {
	dir, err := ioutil.TempDir("", "mcbatch")
	if err != nil {
		log.Panicf("exec: create temporary store: %v", err)
	}
	return &FileStore{Root: dir}
}
