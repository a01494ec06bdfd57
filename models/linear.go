package models

import (
	"fmt"

	"github.com/hephaex/federated/fedavg"
	"gonum.org/v1/gonum/mat"
)

// LinearBatch is one mini-batch of regression examples: a row per
// example in X, with the matching targets in Y.
type LinearBatch struct {
	X *mat.Dense
	Y []float64
}

// Linear is a linear regression model trained with gradient descent
// on the mean squared error. Features are element-wise multiplied by
// a non-trainable per-feature scale before the dot product, so a
// server can distribute normalization constants without making them
// part of the gradient.
type Linear struct {
	LR float64

	dim     int
	weight  []float64
	bias    float64
	scale   []float64
	lossSum float64
	batches float64
}

// NewLinear creates a linear model over dim features with all weights
// zero and all feature scales one.
func NewLinear(dim int, lr float64) *Linear {
	m := &Linear{LR: lr, dim: dim}
	m.InitVariables()
	return m
}

func (l *Linear) TrainableVariables() fedavg.Vars {
	return fedavg.Vars{
		{Name: "bias", Shape: []int{1}, Data: []float64{l.bias}},
		{Name: "weight", Shape: []int{l.dim}, Data: append([]float64{}, l.weight...)},
	}
}

func (l *Linear) NonTrainableVariables() fedavg.Vars {
	return fedavg.Vars{
		{Name: "feature_scale", Shape: []int{l.dim}, Data: append([]float64{}, l.scale...)},
	}
}

func (l *Linear) LocalVariables() fedavg.Vars {
	return fedavg.Vars{
		{Name: "loss_sum", Data: []float64{l.lossSum}},
		{Name: "num_batches", Data: []float64{l.batches}},
	}
}

func (l *Linear) SetVariables(v fedavg.ModelVars) error {
	if err := fedavg.SameStructure(v.Trainable, l.TrainableVariables()); err != nil {
		return err
	}
	if err := fedavg.SameStructure(v.NonTrainable, l.NonTrainableVariables()); err != nil {
		return err
	}
	l.bias = v.Trainable[0].Data[0]
	copy(l.weight, v.Trainable[1].Data)
	copy(l.scale, v.NonTrainable[0].Data)
	return nil
}

// TrainOnBatch takes one gradient step on the batch's mean squared
// error and returns that loss.
func (l *Linear) TrainOnBatch(batch LinearBatch) (float64, error) {
	rows, cols := batch.X.Dims()
	if cols != l.dim {
		return 0, fmt.Errorf("linear model: batch has %d features but model has %d", cols, l.dim)
	}
	if rows != len(batch.Y) {
		return 0, fmt.Errorf("linear model: %d examples but %d targets", rows, len(batch.Y))
	}
	if rows == 0 {
		return 0, fmt.Errorf("linear model: empty batch")
	}

	weight := mat.NewVecDense(l.dim, l.weight)
	scaled := mat.NewVecDense(l.dim, nil)
	gradW := make([]float64, l.dim)
	gradB := 0.0
	loss := 0.0
	for i := 0; i < rows; i++ {
		row := batch.X.RowView(i)
		scaled.MulElemVec(row, mat.NewVecDense(l.dim, l.scale))
		residual := mat.Dot(weight, scaled) + l.bias - batch.Y[i]
		loss += residual * residual / 2
		gradB += residual
		for j := 0; j < l.dim; j++ {
			gradW[j] += residual * scaled.AtVec(j)
		}
	}
	n := float64(rows)
	loss /= n
	l.bias -= l.LR * gradB / n
	for j := range l.weight {
		l.weight[j] -= l.LR * gradW[j] / n
	}
	l.lossSum += loss
	l.batches++
	return loss, nil
}

func (l *Linear) AggregatedOutputs() map[string]float64 {
	out := map[string]float64{"num_batches": l.batches}
	if l.batches > 0 {
		out["mean_loss"] = l.lossSum / l.batches
	}
	return out
}

func (l *Linear) InitVariables() error {
	l.weight = make([]float64, l.dim)
	l.bias = 0
	l.scale = make([]float64, l.dim)
	for i := range l.scale {
		l.scale[i] = 1
	}
	l.lossSum = 0
	l.batches = 0
	return nil
}
