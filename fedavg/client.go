package fedavg

import "fmt"

// ClientStats is the auxiliary bookkeeping produced by one local
// training pass.
type ClientStats struct {
	// LossSum is the sum of the per-batch losses over the pass.
	LossSum float64

	// NumBatches is the number of batches consumed.
	NumBatches int
}

// ClientOutput is the result of one client's local training round.
// It is created once per ClientUpdate call and never mutated.
type ClientOutput struct {
	// ModelDelta is the per-variable difference between the trained
	// and initial trainable values. It has the same structure as
	// the model's trainable variables.
	ModelDelta Vars

	// ModelOutput holds the model's aggregated metrics for the
	// pass, as reported by the model itself.
	ModelOutput map[string]float64

	// Stats carries auxiliary outputs of the local pass, minimally
	// the accumulated loss sum.
	Stats ClientStats
}

// ClientUpdate trains a model locally over a single sequential pass
// of a dataset, starting from the server-supplied initial values, and
// returns the trainable-variable delta plus metrics.
//
// The initial structure must match the model's variables exactly, or
// the call fails before any state is touched. An empty dataset
// performs zero steps and yields an all-zero delta, which is valid
// output rather than an error. Deltas are not checked for finiteness
// here; see CheckFinite for callers that want to validate them before
// aggregation.
//
// Each invocation owns its model instance outright, so any number of
// ClientUpdate calls may run concurrently on distinct models.
func ClientUpdate[B any](model Model[B], dataset Dataset[B], initial ModelVars) (*ClientOutput, error) {
	if model == nil {
		return nil, fmt.Errorf("client update: nil model: %w", ErrModelConformance)
	}
	if dataset == nil {
		return nil, fmt.Errorf("client update: nil dataset: %w", ErrModelConformance)
	}
	template, err := ModelVarsOf(model)
	if err != nil {
		return nil, fmt.Errorf("client update: %w", err)
	}
	initial, err = normalizedModelVars(initial)
	if err != nil {
		return nil, fmt.Errorf("client update: initial values: %w", err)
	}
	if err := sameModelStructure(template, initial); err != nil {
		return nil, fmt.Errorf("client update: initial values: %w", err)
	}
	if err := model.SetVariables(initial.Clone()); err != nil {
		return nil, fmt.Errorf("client update: assign initial values: %w", err)
	}

	var stats ClientStats
	dataset.Reset()
	for {
		batch, ok := dataset.Next()
		if !ok {
			break
		}
		loss, err := model.TrainOnBatch(batch)
		if err != nil {
			return nil, fmt.Errorf("client update: batch %d: %w", stats.NumBatches, err)
		}
		stats.LossSum += loss
		stats.NumBatches++
	}

	trained, err := ModelVarsOf(model)
	if err != nil {
		return nil, fmt.Errorf("client update: %w", err)
	}
	delta, err := trained.Trainable.Sub(initial.Trainable)
	if err != nil {
		return nil, fmt.Errorf("client update: compute delta: %w", err)
	}

	return &ClientOutput{
		ModelDelta:  delta,
		ModelOutput: model.AggregatedOutputs(),
		Stats:       stats,
	}, nil
}
