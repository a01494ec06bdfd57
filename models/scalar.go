// Package models provides ready-made Model implementations for the
// round computations in the fedavg package, ranging from a trivial
// scalar model used in tests and benchmarks up to a softmax image
// classifier.
package models

import (
	"fmt"
	"math"

	"github.com/hephaex/federated/fedavg"
)

// Scalar is a one-parameter model trained on scalar examples. Each
// batch is a target value y; the loss is (w-y)^2 / 2 and a training
// step moves w toward y by LR times the residual.
//
// It exists for tests and benchmarks that need exactly predictable
// arithmetic, not for learning anything interesting.
type Scalar struct {
	LR float64

	w       float64
	lossSum float64
	batches float64
}

// NewScalar creates a scalar model with the given starting weight.
func NewScalar(initial, lr float64) *Scalar {
	return &Scalar{LR: lr, w: initial}
}

func (s *Scalar) TrainableVariables() fedavg.Vars {
	return fedavg.Vars{{Name: "w", Data: []float64{s.w}}}
}

func (s *Scalar) NonTrainableVariables() fedavg.Vars {
	return fedavg.Vars{}
}

func (s *Scalar) LocalVariables() fedavg.Vars {
	return fedavg.Vars{
		{Name: "loss_sum", Data: []float64{s.lossSum}},
		{Name: "num_batches", Data: []float64{s.batches}},
	}
}

func (s *Scalar) SetVariables(v fedavg.ModelVars) error {
	if err := fedavg.SameStructure(v.Trainable, s.TrainableVariables()); err != nil {
		return err
	}
	if err := fedavg.SameStructure(v.NonTrainable, s.NonTrainableVariables()); err != nil {
		return err
	}
	s.w = v.Trainable[0].Data[0]
	return nil
}

func (s *Scalar) TrainOnBatch(y float64) (float64, error) {
	residual := s.w - y
	loss := residual * residual / 2
	s.w -= s.LR * residual
	s.lossSum += loss
	s.batches++
	return loss, nil
}

func (s *Scalar) AggregatedOutputs() map[string]float64 {
	out := map[string]float64{"num_batches": s.batches}
	if s.batches > 0 {
		out["mean_loss"] = s.lossSum / s.batches
	}
	return out
}

func (s *Scalar) InitVariables() error {
	if s.LR <= 0 || math.IsNaN(s.LR) {
		return fmt.Errorf("scalar model: invalid learning rate %f", s.LR)
	}
	s.w = 0
	s.lossSum = 0
	s.batches = 0
	return nil
}
