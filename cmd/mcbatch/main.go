// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command mcbatch prices batches of European call options by Monte
// Carlo simulation, distributing the work over a pool of workers.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/mcbatch"
	"github.com/grailbio/mcbatch/mcconfig"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Mcbatch prices batches of European call options by Monte Carlo simulation.

Usage:

	mcbatch [-profile path] [-set key=value]... <command> [arguments]

The commands are:

	run         price a request file on a pool of workers
	simulate    price a single input chunk file in-process
	aggregate   concatenate the result files of a completed run
	gen         generate a random request file

Run "mcbatch <command> -help" for the arguments of each command.
Session parameters are read from the profile instance "mcbatch" and may
be overridden with -set, e.g. -set mcbatch.nodes=8.
`)
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("mcbatch: ")
	must.Func = log.Fatal
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
	flag.Usage = usage
	mcconfig.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	default:
		fmt.Fprintln(os.Stderr, "unknown command", cmd)
		flag.Usage()
	case "run":
		err = runCmd(args)
	case "simulate":
		err = simulateCmd(args)
	case "aggregate":
		err = aggregateCmd(args)
	case "gen":
		err = genCmd(args)
	}
	if err != nil {
		log.Error.Printf("%s: %v", cmd, err)
		os.Exit(mcbatch.KindOf(err).ExitCode())
	}
}
