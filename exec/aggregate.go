// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/mcbatch"
	"golang.org/x/sync/errgroup"
)

// Aggregate fetches the result artifacts named by keys from container
// and concatenates their simulations in key order, which is the ordinal
// order of the tasks that produced them. Artifacts are fetched
// concurrently; the output order does not depend on fetch order.
//
// An absent artifact produces an error of kind mcbatch.MissingArtifact;
// an artifact that cannot be decoded produces an error of kind
// mcbatch.Other. Both name the ordinal of the offending artifact.
func Aggregate(ctx context.Context, store Store, container string, keys []string) ([]mcbatch.Simulation, error) {
	parts := make([][]mcbatch.Simulation, len(keys))
	g, ctx := errgroup.WithContext(ctx)
	for i := range keys {
		i := i
		g.Go(func() error {
			p, err := store.Get(ctx, container, keys[i])
			if err != nil {
				if errors.Is(errors.NotExist, err) {
					return mcbatch.E(mcbatch.MissingArtifact, i, err)
				}
				return mcbatch.E(mcbatch.Other, i, err)
			}
			f, err := mcbatch.Unmarshal(p)
			if err != nil {
				return mcbatch.E(mcbatch.Other, i, errors.E(errors.Invalid, keys[i], err))
			}
			parts[i] = f.Simulations
			log.Debug.Printf("fetched %s/%s: %d simulations", container, keys[i], len(f.Simulations))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var n int
	for _, part := range parts {
		n += len(part)
	}
	sims := make([]mcbatch.Simulation, 0, n)
	for _, part := range parts {
		sims = append(sims, part...)
	}
	return sims, nil
}

// Save writes sims as a single aggregate artifact.
func Save(ctx context.Context, store Store, container, key string, sims []mcbatch.Simulation) error {
	if err := store.EnsureContainer(ctx, container); err != nil {
		return err
	}
	p, err := mcbatch.Marshal(mcbatch.File{Simulations: sims})
	if err != nil {
		return err
	}
	return store.Put(ctx, container, key, p)
}
