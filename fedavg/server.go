package fedavg

import "fmt"

// ServerState is the durable cross-round state: a snapshot of the
// global model's variables plus the optimizer's internal variables.
//
// The order of OptimizerState is part of the contract: for a fixed
// optimizer configuration it must be identical across ServerInit and
// every ServerUpdate call, because the state is restored positionally.
//
// A ServerState is read and replaced, never mutated in place. Callers
// that apply server updates must serialize them: at most one
// ServerUpdate may be folding a delta into a given state lineage at a
// time.
type ServerState struct {
	Model          ModelVars
	OptimizerState Vars
}

// Clone returns a deep copy of the state.
func (s *ServerState) Clone() *ServerState {
	return &ServerState{
		Model:          s.Model.Clone(),
		OptimizerState: s.OptimizerState.Clone(),
	}
}

// ServerInit builds a fresh ServerState from zero-argument model and
// optimizer factories. Variable values are whatever the factory's
// model initializes them to; optimizer state is the optimizer's
// declared initial state.
func ServerInit[B any](modelFn func() Model[B], optimizerFn func() Optimizer) (*ServerState, error) {
	model := modelFn()
	opt := optimizerFn()
	mv, err := ModelVarsOf(model)
	if err != nil {
		return nil, fmt.Errorf("server init: %w", err)
	}
	return &ServerState{
		Model:          mv,
		OptimizerState: opt.InitState(mv.Trainable),
	}, nil
}

// ServerUpdate folds an aggregated client delta into the server
// state and returns the replacement state.
//
// The delta is negated before it reaches the optimizer: a delta is
// "trained minus initial", the direction training already moved,
// while an optimizer's update rule expects a gradient pointing the
// opposite way. Feeding -delta makes the optimizer step toward the
// clients' consensus.
//
// Model and optimizer are rebuilt from the factories on every call,
// so no two calls ever share variable objects. The update is
// all-or-nothing: a structural mismatch between the delta, the
// model's trainable template, or the stored optimizer state fails the
// call before any new state is produced.
func ServerUpdate[B any](current *ServerState, modelDelta Vars,
	modelFn func() Model[B], optimizerFn func() Optimizer) (*ServerState, error) {
	model := modelFn()
	opt := optimizerFn()
	template, err := ModelVarsOf(model)
	if err != nil {
		return nil, fmt.Errorf("server update: %w", err)
	}

	restored := current.Model.Clone()
	if err := sameModelStructure(template, restored); err != nil {
		return nil, fmt.Errorf("server update: restore model state: %w", err)
	}
	if err := model.SetVariables(restored.Clone()); err != nil {
		return nil, fmt.Errorf("server update: restore model state: %w", err)
	}

	delta, err := normalized(modelDelta)
	if err != nil {
		return nil, fmt.Errorf("server update: model delta: %w", err)
	}
	if err := SameStructure(template.Trainable, delta); err != nil {
		return nil, fmt.Errorf("server update: model delta: %w", err)
	}

	state := current.OptimizerState.Clone()
	if err := checkOptimizerState(opt.InitState(template.Trainable), state); err != nil {
		return nil, fmt.Errorf("server update: optimizer state: %w", err)
	}

	newParams, newState, err := opt.Apply(state, restored.Trainable, delta.Scale(-1))
	if err != nil {
		return nil, fmt.Errorf("server update: %w", err)
	}
	return &ServerState{
		Model: ModelVars{
			Trainable:    newParams,
			NonTrainable: restored.NonTrainable,
		},
		OptimizerState: newState,
	}, nil
}

// checkOptimizerState verifies, positionally, that a stored state
// matches the shape the optimizer declares for this configuration.
func checkOptimizerState(declared, stored Vars) error {
	if len(declared) != len(stored) {
		return fmt.Errorf("%w: %d variables declared but %d stored",
			ErrStructureMismatch, len(declared), len(stored))
	}
	for i := range declared {
		if !declared[i].shapeEqual(&stored[i]) {
			return fmt.Errorf("%w: state variable %d has shape %v but %v is stored",
				ErrStructureMismatch, i, declared[i].Shape, stored[i].Shape)
		}
	}
	return nil
}
