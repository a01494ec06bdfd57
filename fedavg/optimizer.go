package fedavg

import "fmt"

// An Optimizer is a gradient-descent-style update rule with
// explicitly declared internal state.
//
// State is threaded through Apply as a value: Apply must not mutate
// its inputs and returns replacement snapshots instead. The order of
// the state variables is fixed for a given optimizer configuration
// and must be identical between InitState and every Apply call, since
// server state is restored positionally across rounds.
type Optimizer interface {
	// InitState returns the optimizer's initial internal state for
	// the given parameters, in its stable order.
	InitState(params Vars) Vars

	// Apply performs one update of params using grads and returns
	// the new parameter values along with the new internal state.
	Apply(state, params, grads Vars) (newParams, newState Vars, err error)
}

// SGD is plain gradient descent with a fixed learning rate. It keeps
// no internal state.
type SGD struct {
	LR float64
}

// InitState returns an empty state.
func (s SGD) InitState(params Vars) Vars {
	return Vars{}
}

// Apply computes params - LR * grads.
func (s SGD) Apply(state, params, grads Vars) (Vars, Vars, error) {
	if len(state) != 0 {
		return nil, nil, fmt.Errorf("sgd: unexpected optimizer state (%d variables): %w",
			len(state), ErrStructureMismatch)
	}
	newParams, err := params.Sub(grads.Scale(s.LR))
	if err != nil {
		return nil, nil, fmt.Errorf("sgd: %w", err)
	}
	return newParams, Vars{}, nil
}

// MomentumSGD is gradient descent with classical momentum. Its state
// is one velocity variable per parameter, in parameter order, named
// "momentum/" plus the parameter name.
//
// Note that a zero gradient still changes the parameters whenever the
// stored velocity is non-zero: the velocity decays by the Momentum
// factor each step and keeps pushing the parameters until it dies
// out.
type MomentumSGD struct {
	LR float64

	// Momentum is the velocity decay factor, e.g. 0.9.
	Momentum float64
}

// InitState returns one all-zero velocity per parameter.
func (m MomentumSGD) InitState(params Vars) Vars {
	state := ZerosLike(params)
	for i := range state {
		state[i].Name = "momentum/" + state[i].Name
	}
	return state
}

// Apply computes v' = Momentum*v + grad and params - LR*v'.
func (m MomentumSGD) Apply(state, params, grads Vars) (Vars, Vars, error) {
	if err := SameStructure(params, grads); err != nil {
		return nil, nil, fmt.Errorf("momentum sgd: gradients: %w", err)
	}
	if len(state) != len(params) {
		return nil, nil, fmt.Errorf("momentum sgd: %d state variables for %d parameters: %w",
			len(state), len(params), ErrStructureMismatch)
	}
	newParams := params.Clone()
	newState := state.Clone()
	for i := range params {
		if !state[i].shapeEqual(&params[i]) {
			return nil, nil, fmt.Errorf("momentum sgd: state %q has shape %v but parameter %q has shape %v: %w",
				state[i].Name, state[i].Shape, params[i].Name, params[i].Shape, ErrStructureMismatch)
		}
		for j := range params[i].Data {
			v := m.Momentum*state[i].Data[j] + grads[i].Data[j]
			newState[i].Data[j] = v
			newParams[i].Data[j] = params[i].Data[j] - m.LR*v
		}
	}
	return newParams, newState, nil
}
