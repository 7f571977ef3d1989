// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mcbatch

import (
	"fmt"
	"math"
)

// Request describes a single European call option to be priced. Requests
// are immutable once read.
type Request struct {
	// ID identifies the request in logs and results. It is optional in
	// input files; Assign fills in missing IDs.
	ID string `json:"id,omitempty"`

	StockPrice     float64 `json:"stock_price"`
	StrikePrice    float64 `json:"strike_price"`
	RiskFreeRate   float64 `json:"risk_free_rate"`
	Volatility     float64 `json:"volatility"`
	TimeToMaturity float64 `json:"time_to_maturity"`

	// NumPaths is the number of independent price paths simulated.
	NumPaths int `json:"num_simulations"`
	// NumSteps is the number of time steps in each path.
	NumSteps int `json:"num_steps"`
}

// Validate returns an error of kind InvalidParameters if r cannot be
// priced. The rate and volatility may be zero, which makes the price
// path deterministic.
func (r Request) Validate() error {
	for _, f := range []struct {
		name     string
		v        float64
		positive bool
	}{
		{"stock_price", r.StockPrice, true},
		{"strike_price", r.StrikePrice, true},
		{"risk_free_rate", r.RiskFreeRate, false},
		{"volatility", r.Volatility, false},
		{"time_to_maturity", r.TimeToMaturity, true},
	} {
		switch {
		case math.IsNaN(f.v) || math.IsInf(f.v, 0):
			return E(InvalidParameters, -1, fmt.Errorf("request %s: %s is not finite", r.ID, f.name))
		case f.positive && f.v <= 0:
			return E(InvalidParameters, -1, fmt.Errorf("request %s: %s must be positive, got %v", r.ID, f.name, f.v))
		case f.v < 0:
			return E(InvalidParameters, -1, fmt.Errorf("request %s: %s must not be negative, got %v", r.ID, f.name, f.v))
		}
	}
	if r.NumPaths < 1 {
		return E(InvalidParameters, -1, fmt.Errorf("request %s: num_simulations must be at least 1, got %d", r.ID, r.NumPaths))
	}
	if r.NumSteps < 1 {
		return E(InvalidParameters, -1, fmt.Errorf("request %s: num_steps must be at least 1, got %d", r.ID, r.NumSteps))
	}
	return nil
}

// Validate validates each request in order, returning the first error.
func Validate(requests []Request) error {
	for _, r := range requests {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Assign fills in missing request IDs with the request's position in
// the list. Existing IDs are preserved.
func Assign(requests []Request) {
	for i := range requests {
		if requests[i].ID == "" {
			requests[i].ID = fmt.Sprintf("req-%d", i)
		}
	}
}

// Result is the priced outcome of a single Request. Results are produced
// once by the simulation engine and are not modified afterwards.
type Result struct {
	RequestID string `json:"-"`
	// ExpectedValue is the discounted mean payoff.
	ExpectedValue float64 `json:"expected_option_value"`
	// ConfidenceInterval is the 95% normal interval around ExpectedValue.
	// ConfidenceInterval[0] <= ConfidenceInterval[1].
	ConfidenceInterval [2]float64 `json:"confidence_interval"`
	// PathPayoffs holds the undiscounted payoff of each simulated path,
	// in simulation order.
	PathPayoffs []float64 `json:"option_values"`
}

// String returns a short, human-readable summary of the result.
func (r Result) String() string {
	return fmt.Sprintf("%s: %.4f [%.4f, %.4f] (%d paths)",
		r.RequestID, r.ExpectedValue, r.ConfidenceInterval[0], r.ConfidenceInterval[1], len(r.PathPayoffs))
}
