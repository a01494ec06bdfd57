// Command train_mnist trains a softmax MNIST classifier with
// simulated Federated Averaging: the training set is partitioned
// across a pool of clients, a sampled subset trains locally each
// round, and the server folds the weighted mean delta into the global
// model.
//
// It expects the four standard MNIST archive files in the directory
// given by -data.
package main

import (
	"flag"
	"math/rand"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/hephaex/federated/fedavg"
	"github.com/hephaex/federated/fedsim"
	"github.com/hephaex/federated/models"
	"github.com/petar/GoMNIST"
)

const numClasses = 10

func main() {
	var dataDir string
	var numClients int
	var clientsPerRound int
	var rounds int
	var batchSize int
	var clientLR float64
	var serverLR float64
	var momentum float64
	var seed int64
	flag.StringVar(&dataDir, "data", "data", "directory containing the MNIST archives")
	flag.IntVar(&numClients, "clients", 100, "number of simulated clients")
	flag.IntVar(&clientsPerRound, "clients-per-round", 10, "clients sampled per round")
	flag.IntVar(&rounds, "rounds", 100, "number of rounds to run")
	flag.IntVar(&batchSize, "batch", 32, "client mini-batch size")
	flag.Float64Var(&clientLR, "lr", 0.1, "client learning rate")
	flag.Float64Var(&serverLR, "server-lr", 1.0, "server learning rate")
	flag.Float64Var(&momentum, "momentum", 0.9, "server momentum")
	flag.Int64Var(&seed, "seed", 1, "client sampling seed")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "train_mnist",
		Level: hclog.Info,
	})

	train, test, err := GoMNIST.Load(dataDir)
	if err != nil {
		logger.Error("failed to load MNIST", "dir", dataDir, "error", err)
		os.Exit(1)
	}
	features := train.NRow * train.NCol
	logger.Info("loaded MNIST", "train", train.Count(), "test", test.Count(),
		"features", features)

	clients := partition(train, numClients, batchSize)

	coord := &fedsim.Coordinator[models.ImageBatch]{
		ModelFn: func() fedavg.Model[models.ImageBatch] {
			return models.NewSoftmax(numClasses, features, clientLR)
		},
		OptimizerFn: func() fedavg.Optimizer {
			return fedavg.MomentumSGD{LR: serverLR, Momentum: momentum}
		},
		Clients:         clients,
		ClientsPerRound: clientsPerRound,
		RejectNonFinite: true,
		Rand:            rand.New(rand.NewSource(seed)),
		Logger:          logger,
	}
	if err := coord.Init(); err != nil {
		logger.Error("failed to initialize coordinator", "error", err)
		os.Exit(1)
	}

	for i := 0; i < rounds; i++ {
		res, err := coord.RunRound()
		if err != nil {
			logger.Error("round failed", "round", i+1, "error", err)
			os.Exit(1)
		}
		logger.Info("round metrics",
			"round", res.Round,
			"mean_loss", res.MeanLoss,
			"train_accuracy", res.Metrics["accuracy"])
	}

	logger.Info("evaluating on the test set")
	model := models.NewSoftmax(numClasses, features, clientLR)
	if err := model.SetVariables(coord.State().Model.Clone()); err != nil {
		logger.Error("failed to restore final model", "error", err)
		os.Exit(1)
	}
	acc := model.Accuracy(toBatch(test, 0, test.Count()))
	logger.Info("finished", "rounds", rounds, "test_accuracy", acc)
}

// partition splits the training set into contiguous equal shards, one
// client per shard, each batched for local training.
func partition(set *GoMNIST.Set, numClients, batchSize int) []*fedsim.Client[models.ImageBatch] {
	perClient := set.Count() / numClients
	clients := make([]*fedsim.Client[models.ImageBatch], numClients)
	for i := range clients {
		start := i * perClient
		var batches []models.ImageBatch
		for off := 0; off < perClient; off += batchSize {
			n := batchSize
			if off+n > perClient {
				n = perClient - off
			}
			batches = append(batches, toBatch(set, start+off, n))
		}
		clients[i] = fedsim.NewClient[models.ImageBatch](
			fedavg.NewSliceDataset(batches), float64(perClient))
	}
	return clients
}

// toBatch converts n examples starting at start into one ImageBatch,
// with pixel values normalized to [0, 1].
func toBatch(set *GoMNIST.Set, start, n int) models.ImageBatch {
	features := set.NRow * set.NCol
	batch := models.ImageBatch{
		X:        make([]float64, n*features),
		Labels:   make([]int, n),
		Features: features,
	}
	for i := 0; i < n; i++ {
		image, label := set.Get(start + i)
		for j := 0; j < features; j++ {
			batch.X[i*features+j] = float64(image[j]) / 255
		}
		batch.Labels[i] = int(label)
	}
	return batch
}
