package fedavg

import (
	"math"
	"testing"
)

func TestSGD(t *testing.T) {
	RunOptimizerTests(t, func() Optimizer {
		return SGD{LR: 0.1}
	})
}

func TestMomentumSGD(t *testing.T) {
	RunOptimizerTests(t, func() Optimizer {
		return MomentumSGD{LR: 0.1, Momentum: 0.9}
	})
}

func TestSGDStep(t *testing.T) {
	params := Vars{{Name: "w", Shape: []int{2}, Data: []float64{1, -2}}}
	grads := Vars{{Name: "w", Shape: []int{2}, Data: []float64{0.5, 0.5}}}

	opt := SGD{LR: 0.1}
	newParams, newState, err := opt.Apply(opt.InitState(params), params, grads)
	if err != nil {
		t.Fatalf("Apply failed: %s", err)
	}
	if len(newState) != 0 {
		t.Errorf("SGD should keep no state, got %d variables", len(newState))
	}
	if newParams[0].Data[0] != 0.95 || newParams[0].Data[1] != -2.05 {
		t.Errorf("expected [0.95 -2.05] but got %v", newParams[0].Data)
	}
}

func TestMomentumSGDSteps(t *testing.T) {
	params := Vars{{Name: "w", Data: []float64{1}}}
	grads := Vars{{Name: "w", Data: []float64{1}}}

	opt := MomentumSGD{LR: 0.1, Momentum: 0.5}
	state := opt.InitState(params)
	if len(state) != 1 || state[0].Name != "momentum/w" {
		t.Fatalf("unexpected initial state: %v", state.Names())
	}

	// First step: v = 1, w = 1 - 0.1 = 0.9.
	params, state, err := opt.Apply(state, params, grads)
	if err != nil {
		t.Fatalf("Apply failed: %s", err)
	}
	if params[0].Data[0] != 0.9 || state[0].Data[0] != 1 {
		t.Errorf("after step 1: w=%f v=%f", params[0].Data[0], state[0].Data[0])
	}

	// Second step: v = 0.5 + 1 = 1.5, w = 0.9 - 0.15 = 0.75.
	params, state, err = opt.Apply(state, params, grads)
	if err != nil {
		t.Fatalf("Apply failed: %s", err)
	}
	if math.Abs(params[0].Data[0]-0.75) > 1e-12 || state[0].Data[0] != 1.5 {
		t.Errorf("after step 2: w=%f v=%f", params[0].Data[0], state[0].Data[0])
	}
}

func TestMomentumZeroGradStillMoves(t *testing.T) {
	// A non-zero velocity keeps moving the parameters even when the
	// incoming gradient is zero.
	params := Vars{{Name: "w", Data: []float64{1}}}
	state := Vars{{Name: "momentum/w", Data: []float64{1}}}

	opt := MomentumSGD{LR: 0.1, Momentum: 0.5}
	newParams, newState, err := opt.Apply(state, params, ZerosLike(params))
	if err != nil {
		t.Fatalf("Apply failed: %s", err)
	}
	if newState[0].Data[0] != 0.5 {
		t.Errorf("expected velocity 0.5 but got %f", newState[0].Data[0])
	}
	if math.Abs(newParams[0].Data[0]-0.95) > 1e-12 {
		t.Errorf("expected w=0.95 but got %f", newParams[0].Data[0])
	}
}
