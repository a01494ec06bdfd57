// Package fedsim is an in-process Federated Averaging orchestrator.
// It drives the client and server computations from the fedavg
// package over a pool of simulated clients, aggregates their model
// deltas by weighted mean, and tracks round metrics.
package fedsim

import (
	"errors"
	"fmt"

	"github.com/hephaex/federated/fedavg"
)

// ErrNoUpdates is wrapped by aggregation errors when a round produced
// no usable client deltas.
var ErrNoUpdates = errors.New("no client updates to aggregate")

// WeightedMeanDelta combines per-client model deltas into a single
// delta, weighting each client's contribution by its weight over the
// total. All deltas must share one structure and every weight must be
// positive.
func WeightedMeanDelta(deltas []fedavg.Vars, weights []float64) (fedavg.Vars, error) {
	if len(deltas) == 0 {
		return nil, ErrNoUpdates
	}
	if len(deltas) != len(weights) {
		return nil, fmt.Errorf("aggregate: %d deltas but %d weights", len(deltas), len(weights))
	}
	total := 0.0
	for i, w := range weights {
		if w <= 0 {
			return nil, fmt.Errorf("aggregate: weight %d is %f, must be positive", i, w)
		}
		total += w
	}

	acc := fedavg.ZerosLike(deltas[0])
	for i, d := range deltas {
		var err error
		acc, err = acc.Add(d.Scale(weights[i] / total))
		if err != nil {
			return nil, fmt.Errorf("aggregate: delta %d: %w", i, err)
		}
	}
	return acc, nil
}
