// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package mcconfig provides a mechanism to create an mcbatch session
// from a shared configuration. Mcconfig uses the configuration
// mechanism in package github.com/grailbio/base/config, and reads a
// default profile from $HOME/.mcbatch/config. Individual parameters
// may be overridden on the command line, for example:
//
//	mcbatch -set mcbatch.system=bigmachine/ec2system -set mcbatch.nodes=8 run input.json
package mcconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"

	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/mcbatch/exec"
)

// Path determines the location of the mcbatch profile read by Parse.
var Path = os.ExpandEnv("$HOME/.mcbatch/config")

// Parse registers configuration flags and calls flag.Parse. It reads
// mcbatch configuration from Path defined in this package. Parse panics
// (through must) if the configuration cannot be processed.
func Parse() {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
}

// Session returns the session configured by the profile and any flags
// processed by Parse. Session panics if session creation fails.
func Session() *exec.Session {
	var sess *exec.Session
	config.Must("mcbatch", &sess)
	return sess
}
