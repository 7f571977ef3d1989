// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package montecarlo

import (
	"math"
	"reflect"
	"testing"

	"github.com/grailbio/mcbatch"
	"github.com/grailbio/testutil/expect"
)

var callRequest = mcbatch.Request{
	ID:             "call",
	StockPrice:     100,
	StrikePrice:    100,
	RiskFreeRate:   0.05,
	Volatility:     0.2,
	TimeToMaturity: 1,
	NumPaths:       20000,
	NumSteps:       10,
}

func TestPriceSinglePath(t *testing.T) {
	req := callRequest
	req.NumPaths = 1
	res, err := Price(NewSource(1), req)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(res.PathPayoffs), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	want := res.PathPayoffs[0] * math.Exp(-req.RiskFreeRate*req.TimeToMaturity)
	if got := res.ExpectedValue; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got := res.ConfidenceInterval; got[0] != want || got[1] != want {
		t.Errorf("got interval %v, want degenerate interval at %v", got, want)
	}
}

func TestPriceDeterministic(t *testing.T) {
	for _, c := range []struct {
		stock, strike, want float64
	}{
		{110, 100, 10},
		{90, 100, 0},
	} {
		req := mcbatch.Request{
			StockPrice:     c.stock,
			StrikePrice:    c.strike,
			TimeToMaturity: 2,
			NumPaths:       4,
			NumSteps:       7,
		}
		res, err := Price(NewSource(1), req)
		if err != nil {
			t.Fatal(err)
		}
		if got := res.ExpectedValue; got != c.want {
			t.Errorf("got %v, want %v", got, c.want)
		}
		if got := res.ConfidenceInterval; got != [2]float64{c.want, c.want} {
			t.Errorf("got interval %v, want point %v", got, c.want)
		}
		for i, p := range res.PathPayoffs {
			if p != c.want {
				t.Errorf("path %d: got payoff %v, want %v", i, p, c.want)
			}
		}
	}
}

func TestPriceInvalid(t *testing.T) {
	req := callRequest
	req.NumSteps = 0
	_, err := Price(NewSource(1), req)
	if !mcbatch.Is(mcbatch.InvalidParameters, err) {
		t.Errorf("got %v, want InvalidParameters", err)
	}
}

func TestPriceReproducible(t *testing.T) {
	req := callRequest
	req.NumPaths = 100
	r1, err := Price(NewSource(42), req)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := Price(NewSource(42), req)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(r1, r2) {
		t.Error("same seed produced different results")
	}
	r3, err := Price(NewSource(43), req)
	if err != nil {
		t.Fatal(err)
	}
	if reflect.DeepEqual(r1.PathPayoffs, r3.PathPayoffs) {
		t.Error("different seeds produced identical paths")
	}
}

// TestPriceBlackScholes checks that the estimate is statistically
// consistent with the closed-form Black-Scholes price.
func TestPriceBlackScholes(t *testing.T) {
	res, err := Price(NewSource(7), callRequest)
	if err != nil {
		t.Fatal(err)
	}
	const blackScholes = 10.4506
	lo, hi := res.ConfidenceInterval[0], res.ConfidenceInterval[1]
	expect.True(t, lo <= res.ExpectedValue && res.ExpectedValue <= hi)
	// Allow twice the interval half-width to keep the test robust to the
	// seed while still catching biased estimators.
	width := hi - lo
	if math.Abs(res.ExpectedValue-blackScholes) > width {
		t.Errorf("estimate %v [%v, %v] inconsistent with Black-Scholes price %v", res.ExpectedValue, lo, hi, blackScholes)
	}
	expect.EQ(t, len(res.PathPayoffs), callRequest.NumPaths)
	expect.EQ(t, res.RequestID, "call")
}

func TestPriceFile(t *testing.T) {
	reqs := []mcbatch.Request{callRequest, callRequest}
	reqs[0].ID, reqs[0].NumPaths = "a", 3
	reqs[1].ID, reqs[1].NumPaths = "b", 5
	out, err := PriceFile(NewSource(1), mcbatch.NewInputFile(reqs))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(out.Simulations), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, sim := range out.Simulations {
		if !reflect.DeepEqual(sim.Parameters, reqs[i]) {
			t.Errorf("simulation %d: parameters changed", i)
		}
		if sim.Results == nil {
			t.Fatalf("simulation %d: no results", i)
		}
		if got, want := len(sim.Results.PathPayoffs), reqs[i].NumPaths; got != want {
			t.Errorf("simulation %d: got %v payoffs, want %v", i, got, want)
		}
	}
	reqs[1].NumSteps = 0
	if _, err := PriceFile(NewSource(1), mcbatch.NewInputFile(reqs)); !mcbatch.Is(mcbatch.InvalidParameters, err) {
		t.Errorf("got %v, want InvalidParameters", err)
	}
}
