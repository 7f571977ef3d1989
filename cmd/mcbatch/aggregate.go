// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/mcbatch"
	"github.com/grailbio/mcbatch/exec"
)

func aggregateCmd(args []string) error {
	flags := flag.NewFlagSet("aggregate", flag.ExitOnError)
	var (
		base    = flags.String("base", "", "artifact base name of the run")
		n       = flags.Int("n", 4, "number of tasks in the run")
		root    = flags.String("store", ".", "root URL of the artifact store")
		staging = flags.String("staging", exec.DefaultStagingContainer, "container holding the result files")
		output  = flags.String("output", exec.DefaultOutputContainer, "container to which the aggregate is written")
	)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: mcbatch aggregate -base name [-n tasks] [flags]

Aggregate concatenates the result files base_result_part_0.json through
base_result_part_{n-1}.json of a completed run, in order, and writes the
aggregate base_result_aggregated.json.

Flags:
`)
		flags.PrintDefaults()
		os.Exit(2)
	}
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *base == "" || flags.NArg() != 0 {
		flags.Usage()
	}
	if *n <= 0 {
		return mcbatch.E(mcbatch.InvalidPartitionCount, -1, fmt.Errorf("task count %d must be positive", *n))
	}
	keys := make([]string, *n)
	for i := range keys {
		keys[i] = mcbatch.ResultKey(*base, i)
	}
	ctx := context.Background()
	store := &exec.FileStore{Root: *root}
	sims, err := exec.Aggregate(ctx, store, *staging, keys)
	if err != nil {
		return err
	}
	key := mcbatch.AggregateKey(*base)
	if err := exec.Save(ctx, store, *output, key, sims); err != nil {
		return err
	}
	log.Printf("aggregated %d simulations into %s/%s", len(sims), *output, key)
	return nil
}
