// Command bench_fedavg times simulated Federated Averaging rounds
// over linear models of various sizes and prints a Markdown table of
// the results, including estimated wall-clock cost under a simple
// star-topology network model.
package main

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/hephaex/federated/fedavg"
	"github.com/hephaex/federated/fedsim"
	"github.com/hephaex/federated/models"
	"gonum.org/v1/gonum/mat"
)

// RunInfo describes one benchmark configuration.
type RunInfo struct {
	NumClients int
	Latency    float64
	Rate       float64
}

const (
	benchRounds   = 20
	benchBatches  = 4
	benchExamples = 8
)

// Run builds a client pool with synthetic regression data and drives
// the configured number of rounds, returning the final mean loss.
func (r *RunInfo) Run(dim int) (float64, error) {
	gen := rand.New(rand.NewSource(1))
	truth := make([]float64, dim)
	for i := range truth {
		truth[i] = gen.NormFloat64()
	}

	clients := make([]*fedsim.Client[models.LinearBatch], r.NumClients)
	for i := range clients {
		batches := make([]models.LinearBatch, benchBatches)
		for j := range batches {
			batches[j] = syntheticBatch(gen, truth)
		}
		clients[i] = fedsim.NewClient[models.LinearBatch](
			fedavg.NewSliceDataset(batches), float64(benchBatches*benchExamples))
	}

	coord := &fedsim.Coordinator[models.LinearBatch]{
		ModelFn: func() fedavg.Model[models.LinearBatch] {
			return models.NewLinear(dim, 0.1)
		},
		OptimizerFn: func() fedavg.Optimizer {
			return fedavg.MomentumSGD{LR: 0.5, Momentum: 0.9}
		},
		Clients: clients,
		Rand:    rand.New(rand.NewSource(2)),
	}
	if err := coord.Init(); err != nil {
		return 0, err
	}
	results, err := coord.Run(benchRounds)
	if err != nil {
		return 0, err
	}
	return results[len(results)-1].MeanLoss, nil
}

func syntheticBatch(gen *rand.Rand, truth []float64) models.LinearBatch {
	dim := len(truth)
	data := make([]float64, benchExamples*dim)
	targets := make([]float64, benchExamples)
	for i := range targets {
		for j := 0; j < dim; j++ {
			x := gen.NormFloat64()
			data[i*dim+j] = x
			targets[i] += truth[j] * x
		}
		targets[i] += 0.01 * gen.NormFloat64()
	}
	return models.LinearBatch{
		X: mat.NewDense(benchExamples, dim, data),
		Y: targets,
	}
}

func main() {
	runs := []RunInfo{
		{NumClients: 2, Latency: 0.1, Rate: 1e6},
		{NumClients: 8, Latency: 1e-3, Rate: 1e6},
		{NumClients: 32, Latency: 0.1, Rate: 1e9},
		{NumClients: 32, Latency: 1e-4, Rate: 1e9},
	}
	dims := []int{10, 1000, 100000}

	fmt.Println("| Clients | Latency | Link rate | Model size | Final loss | Est. time |")
	fmt.Println("|:--|:--|:--|:--|:--|:--|")
	for _, runInfo := range runs {
		for _, dim := range dims {
			loss, err := runInfo.Run(dim)
			if err != nil {
				fmt.Println("benchmark failed:", err)
				return
			}
			cost := fedsim.CostModel{Latency: runInfo.Latency, Rate: runInfo.Rate}
			// bias + weight per model copy.
			est := float64(benchRounds) * cost.RoundTime(runInfo.NumClients, dim+1)
			fmt.Printf(
				"| %d | %s | %s | %d | %f | %f |\n",
				runInfo.NumClients,
				strconv.FormatFloat(runInfo.Latency, 'f', -1, 64),
				strconv.FormatFloat(runInfo.Rate, 'E', -1, 64),
				dim,
				loss,
				est,
			)
		}
	}
}
