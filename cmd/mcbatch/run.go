// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/mcbatch"
	"github.com/grailbio/mcbatch/exec"
	"github.com/grailbio/mcbatch/mcconfig"
)

func runCmd(args []string) error {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	var (
		n       = flags.Int("n", 4, "number of tasks among which requests are partitioned")
		timeout = flags.Duration("timeout", 30*time.Minute, "maximum time to wait for all tasks to complete")
		local   = flags.Bool("local", false, "run tasks in-process regardless of the configured system")
		seed    = flags.Uint64("seed", 0, "run seed, used with -local")
		root    = flags.String("store", ".", "root URL of the artifact store, used with -local")
		debug   = flags.String("debug", "", "serve debug handlers and run status on this address")
		console = flags.Bool("status", false, "display run status on the console")
		quiet   = flags.Bool("q", false, "do not print per-request results")
		cleanup = flags.Bool("cleanup", true, "delete the session's job and pool when the run finishes")
	)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: mcbatch run [flags] input.json

Run prices every request in input.json by partitioning the requests
into n chunks, running one task per chunk on the configured pool, and
aggregating the results. The aggregate is saved as
{base}_result_aggregated.json in the output container. Unless
-cleanup=false is given, the job and pool are deleted afterwards,
whether or not the run succeeded.

Flags:
`)
		flags.PrintDefaults()
		os.Exit(2)
	}
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		flags.Usage()
	}
	path := flags.Arg(0)

	// The session is started before any other work: in bigmachine
	// worker processes, this call does not return.
	var sess *exec.Session
	if *local {
		sess = exec.Start(
			exec.Local,
			exec.WithStore(&exec.FileStore{Root: *root}),
			exec.Seed(*seed),
			exec.Status(new(status.Status)))
	} else {
		sess = mcconfig.Session()
	}
	defer sess.Shutdown()
	if *console {
		var reporter status.Reporter
		go reporter.Go(os.Stderr, sess.Status())
	}
	if *debug != "" {
		sess.HandleDebug(http.DefaultServeMux)
		http.Handle("/debug/status", status.Handler(sess.Status()))
		go func() {
			err := http.ListenAndServe(*debug, nil)
			if err != nil {
				log.Error.Printf("failed to start HTTP at %s: %v", *debug, err)
			}
		}()
	}

	ctx := context.Background()
	if *cleanup {
		defer func() {
			if err := sess.Cleanup(ctx); err != nil {
				log.Error.Printf("cleanup: %v", err)
			}
		}()
	}
	requests, err := readRequests(ctx, path)
	if err != nil {
		return err
	}
	base := mcbatch.BaseName(path)
	log.Printf("pricing %d requests from %s in %d tasks on %s", len(requests), path, *n, sess.Environment().Name())
	sims, err := sess.Run(ctx, base, requests, *n, *timeout)
	if err != nil {
		return err
	}
	if !*quiet {
		for _, sim := range sims {
			fmt.Println(sim.Results)
		}
	}
	log.Printf("session stats: %s", sess.Stats())
	return nil
}

// readRequests reads the request file at path. Errors reading the file
// are reported as invalid parameters.
func readRequests(ctx context.Context, path string) ([]mcbatch.Request, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, mcbatch.E(mcbatch.InvalidParameters, -1, err)
	}
	defer f.Close(ctx) // nolint: errcheck
	in, err := mcbatch.Decode(f.Reader(ctx))
	if err != nil {
		return nil, mcbatch.E(mcbatch.InvalidParameters, -1, fmt.Errorf("%s: %v", path, err))
	}
	return in.Requests(), nil
}
