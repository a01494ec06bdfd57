package fedavg

import (
	"errors"
	"testing"
)

// RunOptimizerTests runs a battery of contract tests on an Optimizer
// implementation: stable state ordering, purity of Apply, structure
// preservation, and mismatch detection.
func RunOptimizerTests(t *testing.T, maker func() Optimizer) {
	t.Run("StableStateOrder", func(t *testing.T) {
		TestStableStateOrder(t, maker())
	})
	t.Run("PureApply", func(t *testing.T) {
		TestPureApply(t, maker())
	})
	t.Run("StructurePreserved", func(t *testing.T) {
		TestStructurePreserved(t, maker())
	})
	t.Run("GradientMismatch", func(t *testing.T) {
		TestGradientMismatch(t, maker())
	})
}

func testerParams() Vars {
	return Vars{
		{Name: "bias", Shape: []int{2}, Data: []float64{0.5, -1.0}},
		{Name: "weight", Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}},
	}
}

// TestStableStateOrder checks that InitState is deterministic and
// that Apply returns state with the same length and order.
func TestStableStateOrder(t *testing.T, opt Optimizer) {
	params := testerParams()
	first := opt.InitState(params)
	second := opt.InitState(params)
	if err := SameStructure(first, second); err != nil {
		t.Fatalf("InitState is not deterministic: %s", err)
	}
	_, newState, err := opt.Apply(first, params, ZerosLike(params))
	if err != nil {
		t.Fatalf("Apply failed: %s", err)
	}
	if err := SameStructure(second, newState); err != nil {
		t.Errorf("state structure changed across Apply: %s", err)
	}
}

// TestPureApply checks that Apply does not mutate its inputs.
func TestPureApply(t *testing.T, opt Optimizer) {
	params := testerParams()
	state := opt.InitState(params)
	grads := ZerosLike(params)
	for i := range grads {
		for j := range grads[i].Data {
			grads[i].Data[j] = float64(i + j + 1)
		}
	}

	paramsCopy := params.Clone()
	stateCopy := state.Clone()
	gradsCopy := grads.Clone()

	if _, _, err := opt.Apply(state, params, grads); err != nil {
		t.Fatalf("Apply failed: %s", err)
	}

	for name, pair := range map[string][2]Vars{
		"params": {params, paramsCopy},
		"state":  {state, stateCopy},
		"grads":  {grads, gradsCopy},
	} {
		a, b := pair[0], pair[1]
		for i := range a {
			for j := range a[i].Data {
				if a[i].Data[j] != b[i].Data[j] {
					t.Errorf("Apply mutated %s variable %q", name, a[i].Name)
					break
				}
			}
		}
	}
}

// TestStructurePreserved checks that the updated parameters keep the
// structure of the inputs.
func TestStructurePreserved(t *testing.T, opt Optimizer) {
	params := testerParams()
	newParams, _, err := opt.Apply(opt.InitState(params), params, ZerosLike(params))
	if err != nil {
		t.Fatalf("Apply failed: %s", err)
	}
	if err := SameStructure(params, newParams); err != nil {
		t.Errorf("parameter structure changed: %s", err)
	}
}

// TestGradientMismatch checks that Apply rejects gradients whose
// structure does not match the parameters.
func TestGradientMismatch(t *testing.T, opt Optimizer) {
	params := testerParams()
	state := opt.InitState(params)

	missing := ZerosLike(params)[:1]
	if _, _, err := opt.Apply(state, params, missing); !errors.Is(err, ErrStructureMismatch) {
		t.Errorf("expected structure mismatch for missing gradient, got %v", err)
	}

	badShape := ZerosLike(params)
	badShape[0].Shape = []int{1, 2}
	if _, _, err := opt.Apply(state, params, badShape); !errors.Is(err, ErrStructureMismatch) {
		t.Errorf("expected structure mismatch for reshaped gradient, got %v", err)
	}
}
