// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"strings"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
)

func init() {
	config.Register("mcbatch", func(inst *config.Constructor) {
		sess := newSession()
		var (
			system      bigmachine.System
			root, appID string
			appVersions string
			seed        int
		)
		inst.InstanceVar(&system, "system", "", "the bigmachine system used for task execution; tasks run in-process if empty")
		inst.StringVar(&root, "store", "", "the root URL of the artifact store shared by the driver and its workers")
		inst.StringVar(&sess.staging, "staging-container", DefaultStagingContainer, "the container holding task inputs and results")
		inst.StringVar(&sess.output, "output-container", DefaultOutputContainer, "the container holding aggregated results")
		inst.StringVar(&sess.poolID, "pool", DefaultPoolID, "the name of the pool on which tasks are run")
		inst.IntVar(&sess.nodes, "nodes", DefaultNodes, "the number of nodes in the pool")
		inst.StringVar(&sess.jobID, "job", DefaultJobID, "the name of the job to which tasks are submitted")
		inst.StringVar(&appID, "app-package", "", "the application package run by each task; the latest version is used")
		inst.StringVar(&appVersions, "app-versions", "", "comma-separated versions of the application package to register, oldest first")
		inst.IntVar(&seed, "seed", 0, "the run seed from which per-task seeds are derived")
		inst.Doc = "mcbatch configures the mcbatch pricing runtime"
		inst.New = func() (interface{}, error) {
			if root != "" {
				sess.store = &FileStore{Root: root}
			}
			if system != nil {
				Bigmachine(system)(sess)
			} else {
				Local(sess)
			}
			if appID != "" {
				AppPackage(appID, "")(sess)
				if appVersions != "" {
					Packages(appID, strings.Split(appVersions, ",")...)(sess)
				}
			}
			sess.seed = uint64(seed)
			Status(new(status.Status))(sess)
			sess.start()
			return sess, nil
		}
	})
}
