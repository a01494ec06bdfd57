package models

import (
	"fmt"
	"math"

	"github.com/hephaex/federated/fedavg"
	"gonum.org/v1/gonum/mat"
)

// ImageBatch is one mini-batch of labeled images, flattened row-major
// into X with Features values per example.
type ImageBatch struct {
	X        []float64
	Labels   []int
	Features int
}

// NumExamples returns the number of examples in the batch.
func (b *ImageBatch) NumExamples() int {
	if b.Features == 0 {
		return 0
	}
	return len(b.X) / b.Features
}

// Softmax is a multinomial logistic regression classifier trained
// with gradient descent on the cross-entropy loss.
type Softmax struct {
	LR float64

	classes  int
	features int
	weight   []float64 // classes x features, row-major
	bias     []float64
	lossSum  float64
	correct  float64
	examples float64
	batches  float64
}

// NewSoftmax creates a zero-initialized classifier mapping features
// inputs to classes logits.
func NewSoftmax(classes, features int, lr float64) *Softmax {
	m := &Softmax{LR: lr, classes: classes, features: features}
	m.InitVariables()
	return m
}

func (s *Softmax) TrainableVariables() fedavg.Vars {
	return fedavg.Vars{
		{Name: "bias", Shape: []int{s.classes}, Data: append([]float64{}, s.bias...)},
		{Name: "weight", Shape: []int{s.classes, s.features},
			Data: append([]float64{}, s.weight...)},
	}
}

func (s *Softmax) NonTrainableVariables() fedavg.Vars {
	return fedavg.Vars{}
}

func (s *Softmax) LocalVariables() fedavg.Vars {
	return fedavg.Vars{
		{Name: "loss_sum", Data: []float64{s.lossSum}},
		{Name: "num_batches", Data: []float64{s.batches}},
		{Name: "num_correct", Data: []float64{s.correct}},
		{Name: "num_examples", Data: []float64{s.examples}},
	}
}

func (s *Softmax) SetVariables(v fedavg.ModelVars) error {
	if err := fedavg.SameStructure(v.Trainable, s.TrainableVariables()); err != nil {
		return err
	}
	if err := fedavg.SameStructure(v.NonTrainable, s.NonTrainableVariables()); err != nil {
		return err
	}
	copy(s.bias, v.Trainable[0].Data)
	copy(s.weight, v.Trainable[1].Data)
	return nil
}

// TrainOnBatch takes one gradient step on the batch's mean
// cross-entropy and returns that loss.
func (s *Softmax) TrainOnBatch(batch ImageBatch) (float64, error) {
	n := batch.NumExamples()
	if batch.Features != s.features {
		return 0, fmt.Errorf("softmax model: batch has %d features but model has %d",
			batch.Features, s.features)
	}
	if n == 0 || n != len(batch.Labels) {
		return 0, fmt.Errorf("softmax model: %d examples but %d labels", n, len(batch.Labels))
	}

	gradW := make([]float64, len(s.weight))
	gradB := make([]float64, s.classes)
	loss := 0.0
	correct := 0.0
	probs := make([]float64, s.classes)
	for i := 0; i < n; i++ {
		x := batch.X[i*s.features : (i+1)*s.features]
		label := batch.Labels[i]
		if label < 0 || label >= s.classes {
			return 0, fmt.Errorf("softmax model: label %d out of range [0,%d)", label, s.classes)
		}
		if s.predict(x, probs) == label {
			correct++
		}
		loss += -math.Log(math.Max(probs[label], 1e-300))
		for c := 0; c < s.classes; c++ {
			p := probs[c]
			if c == label {
				p -= 1
			}
			gradB[c] += p
			row := gradW[c*s.features : (c+1)*s.features]
			for j, xj := range x {
				row[j] += p * xj
			}
		}
	}
	scale := s.LR / float64(n)
	for j := range s.weight {
		s.weight[j] -= scale * gradW[j]
	}
	for c := range s.bias {
		s.bias[c] -= scale * gradB[c]
	}
	loss /= float64(n)
	s.lossSum += loss
	s.correct += correct
	s.examples += float64(n)
	s.batches++
	return loss, nil
}

// predict fills probs with the softmax distribution for one example
// and returns the argmax class.
func (s *Softmax) predict(x, probs []float64) int {
	logits := mat.NewVecDense(s.classes, probs)
	w := mat.NewDense(s.classes, s.features, s.weight)
	logits.MulVec(w, mat.NewVecDense(s.features, x))
	logits.AddVec(logits, mat.NewVecDense(s.classes, s.bias))

	best := 0
	max := probs[0]
	for c, l := range probs {
		if l > max {
			max = l
			best = c
		}
	}
	total := 0.0
	for c := range probs {
		probs[c] = math.Exp(probs[c] - max)
		total += probs[c]
	}
	for c := range probs {
		probs[c] /= total
	}
	return best
}

// Classify returns the most likely class for one flattened example.
func (s *Softmax) Classify(x []float64) int {
	return s.predict(x, make([]float64, s.classes))
}

// Accuracy returns the fraction of the batch's examples classified
// correctly by the current parameters, without training on them.
func (s *Softmax) Accuracy(batch ImageBatch) float64 {
	n := batch.NumExamples()
	if n == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < n; i++ {
		x := batch.X[i*s.features : (i+1)*s.features]
		if s.Classify(x) == batch.Labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

func (s *Softmax) AggregatedOutputs() map[string]float64 {
	out := map[string]float64{"num_batches": s.batches}
	if s.batches > 0 {
		out["mean_loss"] = s.lossSum / s.batches
	}
	if s.examples > 0 {
		out["accuracy"] = s.correct / s.examples
	}
	return out
}

func (s *Softmax) InitVariables() error {
	s.weight = make([]float64, s.classes*s.features)
	s.bias = make([]float64, s.classes)
	s.lossSum = 0
	s.correct = 0
	s.examples = 0
	s.batches = 0
	return nil
}
