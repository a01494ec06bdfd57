package fedsim

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hephaex/federated/fedavg"
	"github.com/unixpickle/essentials"
)

// A Client is one simulated participant: a private dataset plus an
// aggregation weight (typically its number of examples).
type Client[B any] struct {
	// ID identifies the client in logs and round results.
	ID string

	Data   fedavg.Dataset[B]
	Weight float64
}

// NewClient creates a client with a random unique ID.
func NewClient[B any](data fedavg.Dataset[B], weight float64) *Client[B] {
	return &Client[B]{
		ID:     uuid.NewString(),
		Data:   data,
		Weight: weight,
	}
}

// A RoundResult summarizes one completed round.
type RoundResult struct {
	// Round is the 1-based round number.
	Round int

	// Participants holds the IDs of the clients whose deltas were
	// aggregated this round.
	Participants []string

	// Rejected counts clients whose deltas were dropped for
	// containing non-finite values.
	Rejected int

	// MeanLoss is the batch-weighted mean training loss across the
	// participants.
	MeanLoss float64

	// Metrics holds the weighted mean of the models' aggregated
	// outputs across the participants.
	Metrics map[string]float64
}

// A Coordinator runs Federated Averaging rounds over a fixed pool of
// clients. Within a round the clients train concurrently; the rounds
// themselves are strictly sequential, each folding its aggregate into
// the server state the previous round produced.
type Coordinator[B any] struct {
	// ModelFn and OptimizerFn build fresh collaborator instances.
	// Every client invocation and every server update gets its own.
	ModelFn     func() fedavg.Model[B]
	OptimizerFn func() fedavg.Optimizer

	Clients []*Client[B]

	// ClientsPerRound caps how many clients are sampled each round.
	// Zero means all of them.
	ClientsPerRound int

	// RejectNonFinite drops client deltas containing NaN or Inf
	// instead of failing the round.
	RejectNonFinite bool

	// Rand drives client sampling. Defaults to the global source.
	Rand *rand.Rand

	Logger hclog.Logger

	state *fedavg.ServerState
	round int
}

// Init builds the initial server state. It must be called once before
// the first round.
func (c *Coordinator[B]) Init() error {
	if c.ModelFn == nil || c.OptimizerFn == nil {
		return fmt.Errorf("coordinator: missing model or optimizer factory")
	}
	if len(c.Clients) == 0 {
		return fmt.Errorf("coordinator: no clients")
	}
	for _, cl := range c.Clients {
		if cl.Weight <= 0 {
			return fmt.Errorf("coordinator: client %s has weight %f, must be positive",
				cl.ID, cl.Weight)
		}
	}
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
	state, err := fedavg.ServerInit(c.ModelFn, c.OptimizerFn)
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	c.state = state
	c.round = 0
	return nil
}

// State returns the current server state. The caller must not modify
// it; Clone first.
func (c *Coordinator[B]) State() *fedavg.ServerState {
	return c.state
}

func (c *Coordinator[B]) sample() []*Client[B] {
	n := c.ClientsPerRound
	if n <= 0 || n > len(c.Clients) {
		n = len(c.Clients)
	}
	var perm []int
	if c.Rand != nil {
		perm = c.Rand.Perm(len(c.Clients))
	} else {
		perm = rand.Perm(len(c.Clients))
	}
	res := make([]*Client[B], n)
	for i := range res {
		res[i] = c.Clients[perm[i]]
	}
	return res
}

type clientResult[B any] struct {
	client *Client[B]
	out    *fedavg.ClientOutput
	err    error
}

// RunRound samples clients, trains them concurrently on the current
// model, aggregates their deltas by weighted mean, and applies the
// result to the server state.
func (c *Coordinator[B]) RunRound() (*RoundResult, error) {
	if c.state == nil {
		return nil, fmt.Errorf("coordinator: Init was never called")
	}
	c.round++
	participants := c.sample()
	broadcast := c.state.Model.Clone()

	resChan := make(chan clientResult[B], len(participants))
	for _, cl := range participants {
		go func(cl *Client[B]) {
			out, err := fedavg.ClientUpdate(c.ModelFn(), cl.Data, broadcast.Clone())
			resChan <- clientResult[B]{client: cl, out: out, err: err}
		}(cl)
	}
	results := make([]clientResult[B], 0, len(participants))
	for range participants {
		results = append(results, <-resChan)
	}
	for _, r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("coordinator: round %d: client %s: %w",
				c.round, r.client.ID, r.err)
		}
	}

	rejected := 0
	for i := 0; i < len(results); i++ {
		if err := fedavg.CheckFinite(results[i].out.ModelDelta); err != nil {
			if !c.RejectNonFinite {
				return nil, fmt.Errorf("coordinator: round %d: client %s: %w",
					c.round, results[i].client.ID, err)
			}
			c.Logger.Warn("dropping non-finite client delta",
				"round", c.round, "client", results[i].client.ID)
			essentials.OrderedDelete(&results, i)
			i--
			rejected++
		}
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("coordinator: round %d: %w", c.round, ErrNoUpdates)
	}

	deltas := make([]fedavg.Vars, len(results))
	weights := make([]float64, len(results))
	for i, r := range results {
		deltas[i] = r.out.ModelDelta
		weights[i] = r.client.Weight
	}
	mean, err := WeightedMeanDelta(deltas, weights)
	if err != nil {
		return nil, fmt.Errorf("coordinator: round %d: %w", c.round, err)
	}
	newState, err := fedavg.ServerUpdate(c.state, mean, c.ModelFn, c.OptimizerFn)
	if err != nil {
		return nil, fmt.Errorf("coordinator: round %d: %w", c.round, err)
	}
	c.state = newState

	res := &RoundResult{
		Round:    c.round,
		Rejected: rejected,
		Metrics:  map[string]float64{},
	}
	lossSum := 0.0
	batches := 0
	totalWeight := 0.0
	for _, r := range results {
		res.Participants = append(res.Participants, r.client.ID)
		lossSum += r.out.Stats.LossSum
		batches += r.out.Stats.NumBatches
		totalWeight += r.client.Weight
	}
	if batches > 0 {
		res.MeanLoss = lossSum / float64(batches)
	}
	for _, r := range results {
		for name, value := range r.out.ModelOutput {
			res.Metrics[name] += value * r.client.Weight / totalWeight
		}
	}

	c.Logger.Info("completed round",
		"round", res.Round,
		"participants", len(res.Participants),
		"rejected", res.Rejected,
		"mean_loss", res.MeanLoss)
	return res, nil
}

// Run executes the given number of rounds and returns their results.
func (c *Coordinator[B]) Run(rounds int) ([]*RoundResult, error) {
	results := make([]*RoundResult, 0, rounds)
	for i := 0; i < rounds; i++ {
		res, err := c.RunRound()
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
