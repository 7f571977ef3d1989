// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mcbatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// A Simulation associates a request with its result. Input files carry
// only parameters; result files add the results alongside them.
type Simulation struct {
	Parameters Request `json:"parameters"`
	Results    *Result `json:"results,omitempty"`
}

// File is the top-level shape of every persisted artifact: input
// chunks, result chunks, and the final aggregate.
type File struct {
	Simulations []Simulation `json:"simulations"`
}

// Requests returns the parameters of each simulation in f.
func (f File) Requests() []Request {
	reqs := make([]Request, len(f.Simulations))
	for i, sim := range f.Simulations {
		reqs[i] = sim.Parameters
	}
	return reqs
}

// NewInputFile returns the input file for the provided requests.
func NewInputFile(requests []Request) File {
	f := File{Simulations: make([]Simulation, len(requests))}
	for i, r := range requests {
		f.Simulations[i].Parameters = r
	}
	return f
}

// Decode reads a File from r. Result request IDs are restored from the
// associated parameters.
func Decode(r io.Reader) (File, error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return File{}, fmt.Errorf("decode simulations: %v", err)
	}
	if f.Simulations == nil {
		f.Simulations = []Simulation{}
	}
	for i := range f.Simulations {
		if res := f.Simulations[i].Results; res != nil {
			res.RequestID = f.Simulations[i].Parameters.ID
		}
	}
	return f, nil
}

// Unmarshal decodes a File from its serialized bytes.
func Unmarshal(p []byte) (File, error) {
	return Decode(bytes.NewReader(p))
}

// Encode writes f to w as indented JSON.
func Encode(w io.Writer, f File) error {
	if f.Simulations == nil {
		f.Simulations = []Simulation{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(f)
}

// Marshal returns the serialized bytes of f.
func Marshal(f File) ([]byte, error) {
	var b bytes.Buffer
	if err := Encode(&b, f); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
