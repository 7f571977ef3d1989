// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/mcbatch"
	"golang.org/x/exp/rand"
)

func genCmd(args []string) error {
	flags := flag.NewFlagSet("gen", flag.ExitOnError)
	var (
		count = flags.Int("count", 100, "number of requests to generate")
		paths = flags.Int("paths", 10000, "number of simulated paths per request")
		steps = flags.Int("steps", 252, "number of time steps per path")
		seed  = flags.Uint64("seed", 1, "seed of the generator")
	)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: mcbatch gen [flags] out.json

Gen writes a request file of randomly parameterized European call
options, suitable as input to mcbatch run.

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
	requests := generate(rand.New(rand.NewSource(*seed)), *count, *paths, *steps)
	if err := mcbatch.Validate(requests); err != nil {
		return err
	}
	ctx := context.Background()
	path := flags.Arg(0)
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	if err := mcbatch.Encode(f.Writer(ctx), mcbatch.NewInputFile(requests)); err != nil {
		f.Close(ctx) // nolint: errcheck
		return err
	}
	if err := f.Close(ctx); err != nil {
		return err
	}
	log.Printf("wrote %d requests to %s", len(requests), path)
	return nil
}

// generate returns count requests with parameters drawn uniformly from
// realistic ranges.
func generate(r *rand.Rand, count, paths, steps int) []mcbatch.Request {
	uniform := func(lo, hi float64) float64 {
		return lo + (hi-lo)*r.Float64()
	}
	requests := make([]mcbatch.Request, count)
	for i := range requests {
		stock := uniform(50, 150)
		requests[i] = mcbatch.Request{
			ID:             fmt.Sprintf("req-%d", i),
			StockPrice:     stock,
			StrikePrice:    stock * uniform(0.8, 1.2),
			RiskFreeRate:   uniform(0, 0.08),
			Volatility:     uniform(0.1, 0.5),
			TimeToMaturity: uniform(0.25, 2),
			NumPaths:       paths,
			NumSteps:       steps,
		}
	}
	return requests
}
