// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package montecarlo implements the simulation engine run by workers:
// it prices European call options by simulating risk-neutral geometric
// Brownian motion price paths.
//
// The engine is a pure function of its inputs and the supplied random
// source; callers that need reproducible results pass a seeded source.
package montecarlo

import (
	"math"

	"github.com/grailbio/mcbatch"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// z95 is the two-sided 95% quantile of the standard normal distribution.
const z95 = 1.96

// NewSource returns a random source seeded with the provided seed.
func NewSource(seed uint64) rand.Source {
	return rand.NewSource(seed)
}

// Price estimates the value of the call option described by req. Each of
// req.NumPaths paths starts at the stock price and takes req.NumSteps
// log-normal steps, drawing one standard normal variate per step from
// src. The returned confidence interval is a 95% normal interval around
// the discounted mean payoff, using the population standard deviation of
// the undiscounted payoffs.
func Price(src rand.Source, req mcbatch.Request) (mcbatch.Result, error) {
	if err := req.Validate(); err != nil {
		return mcbatch.Result{}, err
	}
	var (
		norm     = distuv.Normal{Mu: 0, Sigma: 1, Src: src}
		dt       = req.TimeToMaturity / float64(req.NumSteps)
		drift    = (req.RiskFreeRate - 0.5*req.Volatility*req.Volatility) * dt
		diffuse  = req.Volatility * math.Sqrt(dt)
		discount = math.Exp(-req.RiskFreeRate * req.TimeToMaturity)
		payoffs  = make([]float64, req.NumPaths)
	)
	for i := range payoffs {
		price := req.StockPrice
		for t := 0; t < req.NumSteps; t++ {
			price *= math.Exp(drift + diffuse*norm.Rand())
		}
		payoffs[i] = math.Max(price-req.StrikePrice, 0)
	}
	mean := stat.Mean(payoffs, nil)
	// The second central moment is the population variance; it is zero,
	// not undefined, for a single path.
	stderr := math.Sqrt(stat.Moment(2, payoffs, nil)) / math.Sqrt(float64(req.NumPaths))
	expected := mean * discount
	halfWidth := z95 * stderr * discount
	return mcbatch.Result{
		RequestID:          req.ID,
		ExpectedValue:      expected,
		ConfidenceInterval: [2]float64{expected - halfWidth, expected + halfWidth},
		PathPayoffs:        payoffs,
	}, nil
}

// PriceFile prices every simulation in f, in order, drawing from a single
// source. The returned file carries the original parameters together with
// their results.
func PriceFile(src rand.Source, f mcbatch.File) (mcbatch.File, error) {
	out := mcbatch.File{Simulations: make([]mcbatch.Simulation, len(f.Simulations))}
	for i, sim := range f.Simulations {
		res, err := Price(src, sim.Parameters)
		if err != nil {
			return mcbatch.File{}, err
		}
		out.Simulations[i] = mcbatch.Simulation{Parameters: sim.Parameters, Results: &res}
	}
	return out, nil
}
