package fedsim

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/hephaex/federated/fedavg"
	"github.com/hephaex/federated/models"
)

func scalarModelFn() fedavg.Model[float64] {
	return models.NewScalar(0, 0.5)
}

func scalarClient(weight float64, targets ...float64) *Client[float64] {
	return NewClient[float64](fedavg.NewSliceDataset(targets), weight)
}

func TestWeightedMeanDelta(t *testing.T) {
	deltas := []fedavg.Vars{
		{{Name: "w", Data: []float64{1}}},
		{{Name: "w", Data: []float64{4}}},
	}
	mean, err := WeightedMeanDelta(deltas, []float64{3, 1})
	if err != nil {
		t.Fatalf("WeightedMeanDelta failed: %s", err)
	}
	// (3*1 + 1*4) / 4 = 1.75.
	if d := mean[0].Data[0]; d != 1.75 {
		t.Errorf("expected 1.75 but got %f", d)
	}

	if _, err := WeightedMeanDelta(nil, nil); !errors.Is(err, ErrNoUpdates) {
		t.Errorf("expected ErrNoUpdates, got %v", err)
	}
	if _, err := WeightedMeanDelta(deltas, []float64{1, 0}); err == nil {
		t.Error("expected an error for a zero weight")
	}
	if _, err := WeightedMeanDelta(deltas, []float64{1}); err == nil {
		t.Error("expected an error for a weight count mismatch")
	}

	mismatched := []fedavg.Vars{
		{{Name: "w", Data: []float64{1}}},
		{{Name: "v", Data: []float64{1}}},
	}
	if _, err := WeightedMeanDelta(mismatched, []float64{1, 1}); !errors.Is(err, fedavg.ErrStructureMismatch) {
		t.Errorf("expected structure mismatch, got %v", err)
	}
}

func TestCoordinatorRound(t *testing.T) {
	// Two scalar clients starting from w=0 with a local rate of 0.5:
	// targets 2 and 4 produce deltas 1 and 2. With weights 1 and 3 the
	// mean delta is 1.75, and server SGD at rate 1 moves w to 1.75.
	coord := &Coordinator[float64]{
		ModelFn:     scalarModelFn,
		OptimizerFn: func() fedavg.Optimizer { return fedavg.SGD{LR: 1} },
		Clients: []*Client[float64]{
			scalarClient(1, 2),
			scalarClient(3, 4),
		},
	}
	if err := coord.Init(); err != nil {
		t.Fatalf("Init failed: %s", err)
	}

	res, err := coord.RunRound()
	if err != nil {
		t.Fatalf("RunRound failed: %s", err)
	}
	if w := coord.State().Model.Trainable[0].Data[0]; w != 1.75 {
		t.Errorf("expected server w=1.75 but got %f", w)
	}
	if res.Round != 1 || len(res.Participants) != 2 || res.Rejected != 0 {
		t.Errorf("unexpected round result: %+v", res)
	}
	// Losses are 2 and 8 over one batch each.
	if res.MeanLoss != 5 {
		t.Errorf("expected mean loss 5 but got %f", res.MeanLoss)
	}
	// num_batches is 1 for both clients, so its weighted mean is 1.
	if res.Metrics["num_batches"] != 1 {
		t.Errorf("expected num_batches metric 1 but got %f", res.Metrics["num_batches"])
	}
}

func TestCoordinatorSampling(t *testing.T) {
	coord := &Coordinator[float64]{
		ModelFn:     scalarModelFn,
		OptimizerFn: func() fedavg.Optimizer { return fedavg.SGD{LR: 1} },
		Clients: []*Client[float64]{
			scalarClient(1, 1),
			scalarClient(1, 2),
			scalarClient(1, 3),
		},
		ClientsPerRound: 2,
		Rand:            rand.New(rand.NewSource(1)),
	}
	if err := coord.Init(); err != nil {
		t.Fatalf("Init failed: %s", err)
	}
	res, err := coord.RunRound()
	if err != nil {
		t.Fatalf("RunRound failed: %s", err)
	}
	if len(res.Participants) != 2 {
		t.Errorf("expected 2 participants but got %d", len(res.Participants))
	}
}

func TestCoordinatorRejectsNonFinite(t *testing.T) {
	// A target of NaN poisons that client's delta. With rejection on,
	// the round proceeds on the healthy client alone.
	clients := func() []*Client[float64] {
		return []*Client[float64]{
			scalarClient(1, 2),
			scalarClient(1, math.NaN()),
		}
	}

	coord := &Coordinator[float64]{
		ModelFn:         scalarModelFn,
		OptimizerFn:     func() fedavg.Optimizer { return fedavg.SGD{LR: 1} },
		Clients:         clients(),
		RejectNonFinite: true,
	}
	if err := coord.Init(); err != nil {
		t.Fatalf("Init failed: %s", err)
	}
	res, err := coord.RunRound()
	if err != nil {
		t.Fatalf("RunRound failed: %s", err)
	}
	if res.Rejected != 1 || len(res.Participants) != 1 {
		t.Errorf("expected 1 rejection and 1 participant, got %+v", res)
	}
	if w := coord.State().Model.Trainable[0].Data[0]; w != 1 {
		t.Errorf("expected server w=1 but got %f", w)
	}

	strict := &Coordinator[float64]{
		ModelFn:     scalarModelFn,
		OptimizerFn: func() fedavg.Optimizer { return fedavg.SGD{LR: 1} },
		Clients:     clients(),
	}
	if err := strict.Init(); err != nil {
		t.Fatalf("Init failed: %s", err)
	}
	if _, err := strict.RunRound(); !errors.Is(err, fedavg.ErrNotFinite) {
		t.Errorf("expected ErrNotFinite, got %v", err)
	}
}

func TestCoordinatorAllRejected(t *testing.T) {
	coord := &Coordinator[float64]{
		ModelFn:         scalarModelFn,
		OptimizerFn:     func() fedavg.Optimizer { return fedavg.SGD{LR: 1} },
		Clients:         []*Client[float64]{scalarClient(1, math.NaN())},
		RejectNonFinite: true,
	}
	if err := coord.Init(); err != nil {
		t.Fatalf("Init failed: %s", err)
	}
	if _, err := coord.RunRound(); !errors.Is(err, ErrNoUpdates) {
		t.Errorf("expected ErrNoUpdates, got %v", err)
	}
}

func TestCoordinatorLossDecreases(t *testing.T) {
	// Several rounds of scalar clients pulling toward different
	// targets: the training loss should drop as the global model moves
	// into the targets' range.
	coord := &Coordinator[float64]{
		ModelFn:     scalarModelFn,
		OptimizerFn: func() fedavg.Optimizer { return fedavg.MomentumSGD{LR: 0.5, Momentum: 0.5} },
		Clients: []*Client[float64]{
			scalarClient(2, 1, 1.5),
			scalarClient(1, 2, 2),
			scalarClient(1, 1.25),
		},
	}
	if err := coord.Init(); err != nil {
		t.Fatalf("Init failed: %s", err)
	}
	results, err := coord.Run(10)
	if err != nil {
		t.Fatalf("Run failed: %s", err)
	}
	if len(results) != 10 {
		t.Fatalf("expected 10 results but got %d", len(results))
	}
	first := results[0].MeanLoss
	last := results[len(results)-1].MeanLoss
	if last >= first {
		t.Errorf("loss did not decrease: first=%f last=%f", first, last)
	}
}

func TestCostModelRoundTime(t *testing.T) {
	c := &CostModel{Latency: 0.1, Rate: 1e6}
	// 1000 elements: 8000 bytes. Transfer 2*(0.1 + 0.008) = 0.216,
	// reduce 4*1000*1e-9.
	got := c.RoundTime(4, 1000)
	expected := 0.216 + 4e-6
	if math.Abs(got-expected) > 1e-12 {
		t.Errorf("expected %f but got %f", expected, got)
	}
	// More participants never make a round cheaper.
	if c.RoundTime(8, 1000) < got {
		t.Error("round time decreased with more participants")
	}
}
