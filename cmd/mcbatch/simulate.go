// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/mcbatch"
	"github.com/grailbio/mcbatch/exec"
)

func simulateCmd(args []string) error {
	flags := flag.NewFlagSet("simulate", flag.ExitOnError)
	seed := flags.Uint64("seed", 0, "seed of the random source used to price the chunk")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: mcbatch simulate [-seed n] dir/base_input_part_N.json

Simulate prices every request of a single input chunk file in-process
and writes the result file, dir/base_result_part_N.json, next to it.

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
	output, ok := mcbatch.ResultKeyFor(path)
	if !ok {
		return mcbatch.E(mcbatch.InvalidParameters, -1, fmt.Errorf("%s is not an input chunk file", path))
	}
	root, container, in := splitPath(path)
	_, _, out := splitPath(output)
	store := &exec.FileStore{Root: root}
	task := &exec.Task{
		ID:        in,
		Container: container,
		Input:     in,
		Output:    out,
		Seed:      *seed,
	}
	ctx := context.Background()
	if err := exec.RunTask(ctx, store, task); err != nil {
		return mcbatch.E(mcbatch.TaskFailure, -1, err)
	}
	log.Printf("wrote %s", output)
	return nil
}

// splitPath splits a local path or URL into the root of the store
// holding it, its container (the innermost directory, if any), and its
// key.
func splitPath(path string) (root, container, key string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ".", "", path
	}
	dir, key := path[:i], path[i+1:]
	if dir == "" {
		return "/", "", key
	}
	j := strings.LastIndex(dir, "/")
	if j <= 0 || strings.HasSuffix(dir[:j], ":/") {
		return dir, "", key
	}
	return dir[:j], dir[j+1:], key
}
