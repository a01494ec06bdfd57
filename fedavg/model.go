package fedavg

import "fmt"

// A Model is the trainable-model collaborator required by the round
// computations. B is the model's batch type.
//
// Variable accessors report current values; the names and shapes they
// report must stay fixed for the life of the model.
type Model[B any] interface {
	// TrainableVariables returns the current values of the
	// variables updated by training.
	TrainableVariables() Vars

	// NonTrainableVariables returns the current values of the
	// variables that training never updates but the server still
	// distributes (e.g. normalization constants).
	NonTrainableVariables() Vars

	// LocalVariables returns variables that live only for the
	// duration of one computation, such as metric accumulators.
	// They are never shipped to the server.
	LocalVariables() Vars

	// SetVariables overwrites the trainable and non-trainable
	// variable values. The supplied structure must match the
	// model's own exactly.
	SetVariables(v ModelVars) error

	// TrainOnBatch runs a single training step on one batch and
	// returns the batch loss. Parameter updates happen inside the
	// model as a side effect of the step.
	TrainOnBatch(batch B) (float64, error)

	// AggregatedOutputs returns the model-defined summary metrics
	// accumulated so far (e.g. mean loss, accuracy).
	AggregatedOutputs() map[string]float64
}

// A VarInitializer can reset all of its variable groups (trainable,
// non-trainable, and local) to their initial values in one action.
type VarInitializer interface {
	InitVariables() error
}

// ModelVarsOf snapshots a model's trainable and non-trainable
// variables as a ModelVars, each group ordered by name.
//
// It fails if the model reports malformed variables: duplicate names
// within a group or data that disagrees with the declared shape.
func ModelVarsOf[B any](m Model[B]) (ModelVars, error) {
	if m == nil {
		return ModelVars{}, fmt.Errorf("snapshot variables: nil model: %w", ErrModelConformance)
	}
	t, err := normalized(m.TrainableVariables())
	if err != nil {
		return ModelVars{}, fmt.Errorf("snapshot trainable variables: %w", err)
	}
	nt, err := normalized(m.NonTrainableVariables())
	if err != nil {
		return ModelVars{}, fmt.Errorf("snapshot non-trainable variables: %w", err)
	}
	return ModelVars{Trainable: t, NonTrainable: nt}, nil
}

// ModelInitializer returns a single action that initializes every
// variable group of the model. It is intended for use once at model
// construction time, not as part of the per-round protocol.
//
// Models that do not implement VarInitializer fail the capability
// check.
func ModelInitializer[B any](m Model[B]) (func() error, error) {
	init, ok := any(m).(VarInitializer)
	if !ok {
		return nil, fmt.Errorf("model %T has no variable initializer: %w", m, ErrModelConformance)
	}
	return init.InitVariables, nil
}
