package models

import (
	"testing"

	"github.com/hephaex/federated/fedavg"
)

func TestScalarTrainStep(t *testing.T) {
	m := NewScalar(0, 0.5)
	loss, err := m.TrainOnBatch(2)
	if err != nil {
		t.Fatalf("TrainOnBatch failed: %s", err)
	}
	// residual -2: loss 2, w moves to 0 + 0.5*2 = 1.
	if loss != 2 {
		t.Errorf("expected loss 2 but got %f", loss)
	}
	if w := m.TrainableVariables()[0].Data[0]; w != 1 {
		t.Errorf("expected w=1 but got %f", w)
	}
}

func TestScalarClientUpdate(t *testing.T) {
	m := NewScalar(0, 0.5)
	initial := fedavg.ModelVars{
		Trainable: fedavg.Vars{{Name: "w", Data: []float64{0}}},
	}
	out, err := fedavg.ClientUpdate[float64](m, fedavg.NewSliceDataset([]float64{2, 2}), initial)
	if err != nil {
		t.Fatalf("ClientUpdate failed: %s", err)
	}
	// Step 1: w 0 -> 1. Step 2: w 1 -> 1.5. Delta 1.5.
	if d := out.ModelDelta[0].Data[0]; d != 1.5 {
		t.Errorf("expected delta 1.5 but got %f", d)
	}
	if out.Stats.NumBatches != 2 {
		t.Errorf("expected 2 batches but got %d", out.Stats.NumBatches)
	}
}
