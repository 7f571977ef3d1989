// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/mcbatch"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"golang.org/x/exp/rand"
)

func TestSplitPath(t *testing.T) {
	for _, c := range []struct {
		path, root, container, key string
	}{
		{"x_input_part_0.json", ".", "", "x_input_part_0.json"},
		{"temp/x_input_part_0.json", "temp", "", "x_input_part_0.json"},
		{"data/temp/x_input_part_0.json", "data", "temp", "x_input_part_0.json"},
		{"/x_input_part_0.json", "/", "", "x_input_part_0.json"},
		{"/data/temp/x.json", "/data", "temp", "x.json"},
		{"s3://bucket/x.json", "s3://bucket", "", "x.json"},
		{"s3://bucket/temp/x.json", "s3://bucket", "temp", "x.json"},
	} {
		root, container, key := splitPath(c.path)
		if root != c.root || container != c.container || key != c.key {
			t.Errorf("splitPath(%q): got %q %q %q, want %q %q %q",
				c.path, root, container, key, c.root, c.container, c.key)
		}
	}
}

func TestGenerate(t *testing.T) {
	requests := generate(rand.New(rand.NewSource(1)), 50, 10, 5)
	assert.EQ(t, len(requests), 50)
	assert.NoError(t, mcbatch.Validate(requests))
	again := generate(rand.New(rand.NewSource(1)), 50, 10, 5)
	expect.EQ(t, again, requests)
}

func TestGenSimulate(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "mcbatch")
	defer cleanup()
	input := filepath.Join(dir, "options_input_part_0.json")
	assert.NoError(t, genCmd([]string{"-count", "3", "-paths", "20", "-steps", "4", input}))
	assert.NoError(t, simulateCmd([]string{"-seed", "3", input}))

	p, err := ioutil.ReadFile(filepath.Join(dir, "options_result_part_0.json"))
	assert.NoError(t, err)
	f, err := mcbatch.Unmarshal(p)
	assert.NoError(t, err)
	assert.EQ(t, len(f.Simulations), 3)
	for _, sim := range f.Simulations {
		if sim.Results == nil {
			t.Fatalf("%s: no results", sim.Parameters.ID)
		}
		expect.EQ(t, len(sim.Results.PathPayoffs), 20)
	}

	if err := simulateCmd([]string{filepath.Join(dir, "options.json")}); !mcbatch.Is(mcbatch.InvalidParameters, err) {
		t.Errorf("got %v, want invalid parameters", err)
	}
}

func TestAggregateCommand(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "mcbatch")
	defer cleanup()
	temp := filepath.Join(dir, "temp")
	assert.NoError(t, os.MkdirAll(temp, 0777))
	for i := 0; i < 2; i++ {
		input := filepath.Join(temp, mcbatch.InputKey("options", i))
		assert.NoError(t, genCmd([]string{"-count", "2", "-paths", "5", "-steps", "2", "-seed", "9", input}))
		assert.NoError(t, simulateCmd([]string{input}))
	}
	assert.NoError(t, aggregateCmd([]string{"-base", "options", "-n", "2", "-store", dir}))
	p, err := ioutil.ReadFile(filepath.Join(dir, "output", "options_result_aggregated.json"))
	assert.NoError(t, err)
	f, err := mcbatch.Unmarshal(p)
	assert.NoError(t, err)
	assert.EQ(t, len(f.Simulations), 4)

	err = aggregateCmd([]string{"-base", "options", "-n", "3", "-store", dir})
	if !mcbatch.Is(mcbatch.MissingArtifact, err) {
		t.Errorf("got %v, want missing artifact", err)
	}
}

func TestRunCommand(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "mcbatch")
	defer cleanup()
	input := filepath.Join(dir, "options.json")
	assert.NoError(t, genCmd([]string{"-count", "5", "-paths", "10", "-steps", "3", input}))
	for _, cleanupFlag := range []string{"-cleanup=true", "-cleanup=false"} {
		assert.NoError(t, runCmd([]string{"-local", "-q", "-n", "2", "-store", dir, cleanupFlag, input}))
		p, err := ioutil.ReadFile(filepath.Join(dir, "output", "options_result_aggregated.json"))
		assert.NoError(t, err)
		f, err := mcbatch.Unmarshal(p)
		assert.NoError(t, err)
		assert.EQ(t, len(f.Simulations), 5)
	}
}
