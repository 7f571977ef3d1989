// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mcbatch

import "fmt"

// A Chunk is a contiguous run of requests taken from an ordered request
// list, tagged with its 0-based position among its siblings.
type Chunk struct {
	Ordinal  int
	Requests []Request
}

// Len returns the number of requests in the chunk.
func (c Chunk) Len() int { return len(c.Requests) }

// Partition splits requests into exactly n contiguous chunks of
// ceil(len(requests)/n) requests each. The last non-empty chunk may be
// shorter, and trailing chunks are empty when n does not evenly divide
// the input: every ordinal in [0, n) always has a chunk, so that chunks
// map one-to-one onto tasks and result artifacts. Concatenating the
// chunks in ordinal order yields the input.
func Partition(requests []Request, n int) ([]Chunk, error) {
	if n <= 0 {
		return nil, E(InvalidPartitionCount, -1, fmt.Errorf("partition count %d must be positive", n))
	}
	size := (len(requests) + n - 1) / n
	chunks := make([]Chunk, n)
	for i := range chunks {
		beg := i * size
		if beg > len(requests) {
			beg = len(requests)
		}
		end := beg + size
		if end > len(requests) {
			end = len(requests)
		}
		chunks[i] = Chunk{Ordinal: i, Requests: requests[beg:end:end]}
	}
	return chunks, nil
}
